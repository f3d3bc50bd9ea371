// Package blobStore is the content-addressed store for changeset, manifest
// and file envelopes. Objects are written once under their node hash and
// never mutated; uploads hand back handles that complete when the envelope is
// durably written.
package blobStore

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/revstream/internal/envelope"
	"github.com/i5heu/revstream/pkg/handle"
	"github.com/i5heu/revstream/pkg/interfaces"
	"github.com/i5heu/revstream/pkg/types"
	"github.com/i5heu/revstream/pkg/workerPool"
)

type Store struct {
	kv  interfaces.KeyValStore
	wp  *workerPool.WorkerPool
	log *logrus.Logger
}

func New(kv interfaces.KeyValStore, wp *workerPool.WorkerPool, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		kv:  kv,
		wp:  wp,
		log: logger,
	}
}

// NodeIDMode controls how an upload treats the supplied node hash.
type NodeIDMode int

const (
	// NodeIDChecked recomputes the hash from parents and content and
	// requires it to match the supplied one.
	NodeIDChecked NodeIDMode = iota
	// NodeIDSupplied trusts the supplied hash without recomputation. Only
	// legacy root manifests may use this; it must not spread to any other
	// object kind.
	NodeIDSupplied
)

// UploadEntryArgs describes one tree or file revision upload. Path is "" for
// the root manifest.
type UploadEntryArgs struct {
	Mode    NodeIDMode
	NodeID  types.Hash
	Type    interfaces.EntryType
	Path    string
	Content []byte
	P1      *types.Hash
	P2      *types.Hash
}

// UploadSummary is the synchronous part of an upload result.
type UploadSummary struct {
	NodeID types.Hash
	Type   interfaces.EntryType
	Path   string
}

// UploadEntry schedules the envelope write for one tree or file revision. The
// returned handle completes once the envelope is stored. Hash validation
// happens synchronously so a mismatch fails fast instead of poisoning the
// handle graph.
func (s *Store) UploadEntry(ctx context.Context, args UploadEntryArgs) (*UploadSummary, *handle.Handle, error) {
	computed := types.HashContent(args.Content, args.P1, args.P2)
	if args.Mode == NodeIDChecked && computed != args.NodeID {
		return nil, nil, fmt.Errorf(
			"node hash mismatch for %s %q: computed %s, expected %s",
			args.Type, args.Path, computed, args.NodeID)
	}

	kind := envelope.KindFile
	if args.Type.IsTree() {
		kind = envelope.KindManifest
	}

	h := handle.New()
	node := &types.BlobNode{
		Hash:    args.NodeID,
		P1:      args.P1,
		P2:      args.P2,
		Content: args.Content,
	}

	env := &envelope.Envelope{
		NodeID:         args.NodeID,
		P1:             args.P1,
		P2:             args.P2,
		ComputedNodeID: computed,
		Contents:       args.Content,
	}

	s.wp.Submit(func() {
		if err := s.writeEnvelope(kind, env); err != nil {
			h.Complete(nil, fmt.Errorf("error uploading %s %q: %w", args.Type, args.Path, err))
			return
		}
		h.Complete(node, nil)
	})

	return &UploadSummary{
		NodeID: args.NodeID,
		Type:   args.Type,
		Path:   args.Path,
	}, h, nil
}

// UploadEntries schedules a batch of entry uploads, running the synchronous
// hash validation of each entry on the pool, grouped in one room. The first
// validation failure fails the whole batch; handles of entries scheduled
// before the failure stay valid, their writes are idempotent anyway.
func (s *Store) UploadEntries(ctx context.Context, argsList []UploadEntryArgs) ([]*handle.Handle, error) {
	room := s.wp.CreateRoom(len(argsList))
	for _, args := range argsList {
		args := args
		room.NewTaskWaitForFreeSlot(func() interface{} {
			_, h, err := s.UploadEntry(ctx, args)
			if err != nil {
				return err
			}
			return h
		})
	}

	handles := make([]*handle.Handle, 0, len(argsList))
	var firstErr error
	for _, res := range room.Collect() {
		switch v := res.(type) {
		case error:
			if firstErr == nil {
				firstErr = v
			}
		case *handle.Handle:
			handles = append(handles, v)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return handles, nil
}

// writeEnvelope serializes and stores env. Content addressing makes the write
// idempotent: an existing key already holds identical bytes and is skipped.
func (s *Store) writeEnvelope(kind envelope.Kind, env *envelope.Envelope) error {
	key := storageKey(kind, env.NodeID)

	exists, err := s.kv.Has(key)
	if err != nil {
		return err
	}
	if exists {
		s.log.WithFields(logrus.Fields{
			"kind": kind.String(),
			"node": env.NodeID.String(),
		}).Debug("Envelope already present, skipping write")
		return nil
	}

	blob, err := envelope.Serialize(env)
	if err != nil {
		return err
	}
	return s.kv.Write(key, blob)
}

// GetEnvelope reads a stored envelope back.
func (s *Store) GetEnvelope(ctx context.Context, kind envelope.Kind, id types.Hash) (*envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := s.kv.Read(storageKey(kind, id))
	if err != nil {
		return nil, fmt.Errorf("error reading %s %s: %w", kind, id, err)
	}
	return envelope.Deserialize(kind, blob)
}

// GetChangeset reads a stored changeset as a canonical object. Used when a
// partial import resumes and a parent was uploaded in a prior session.
func (s *Store) GetChangeset(ctx context.Context, id types.Hash) (*types.BlobNode, error) {
	env, err := s.GetEnvelope(ctx, envelope.KindChangeset, id)
	if err != nil {
		return nil, err
	}
	return &types.BlobNode{
		Hash:    env.NodeID,
		P1:      env.P1,
		P2:      env.P2,
		Content: env.Contents,
	}, nil
}

// HasChangeset reports whether a changeset is store-resident.
func (s *Store) HasChangeset(ctx context.Context, id types.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.kv.Has(storageKey(envelope.KindChangeset, id))
}

func storageKey(kind envelope.Kind, hash types.Hash) []byte {
	var prefix string
	switch kind {
	case envelope.KindChangeset:
		prefix = "changeset:"
	case envelope.KindManifest:
		prefix = "manifest:"
	default:
		prefix = "file:"
	}
	return append([]byte(prefix), []byte(hash.String())...)
}
