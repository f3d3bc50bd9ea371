package blobStore

import (
	"context"
	"fmt"

	"github.com/i5heu/revstream/internal/envelope"
	"github.com/i5heu/revstream/pkg/handle"
	"github.com/i5heu/revstream/pkg/types"
)

// CreateChangesetArgs carries everything needed to assemble and store one
// changeset. The handles may still be in flight; the changeset waits for all
// of them, which is what makes parent-before-child ordering structural.
type CreateChangesetArgs struct {
	// ExpectedNodeID, when set, must equal the hash computed from the
	// generated content and parents.
	ExpectedNodeID *types.Hash
	// Files is the touched-file list recorded in the changeset content.
	Files []string

	P1 *handle.Handle
	P2 *handle.Handle
	// RootManifest is nil only for the synthetic empty root changeset.
	RootManifest *handle.Handle
	SubEntries   []*handle.Handle

	User     []byte
	Time     int64
	Timezone int
	Extra    map[string][]byte
	Comments []byte
}

// CreateChangeset schedules the changeset upload. Its handle never completes
// before both parent handles, the root manifest handle and every entry handle
// have completed; any of their failures fails this changeset transitively.
func (s *Store) CreateChangeset(ctx context.Context, args CreateChangesetArgs) *handle.Handle {
	h := handle.New()

	go func() {
		var p1, p2 *types.Hash
		if args.P1 != nil {
			node, err := args.P1.Completed(ctx)
			if err != nil {
				h.Complete(nil, fmt.Errorf("error waiting for parent p1: %w", err))
				return
			}
			p1 = &node.Hash
		}
		if args.P2 != nil {
			node, err := args.P2.Completed(ctx)
			if err != nil {
				h.Complete(nil, fmt.Errorf("error waiting for parent p2: %w", err))
				return
			}
			p2 = &node.Hash
		}

		mfid := types.NullHash
		if args.RootManifest != nil {
			node, err := args.RootManifest.Completed(ctx)
			if err != nil {
				h.Complete(nil, fmt.Errorf("error waiting for root manifest: %w", err))
				return
			}
			mfid = node.Hash
		}

		for i, entry := range args.SubEntries {
			if _, err := entry.Completed(ctx); err != nil {
				h.Complete(nil, fmt.Errorf("error waiting for entry %d: %w", i, err))
				return
			}
		}

		// All dependencies are durable; the remaining work is CPU-bound.
		s.wp.Submit(func() {
			cs := types.Changeset{
				ManifestID: mfid,
				User:       args.User,
				Time:       args.Time,
				Timezone:   args.Timezone,
				Extra:      args.Extra,
				Files:      args.Files,
				Comments:   args.Comments,
			}
			content, err := cs.Generate()
			if err != nil {
				h.Complete(nil, fmt.Errorf("error generating changeset content: %w", err))
				return
			}

			node := types.NewBlobNode(content, p1, p2)
			if args.ExpectedNodeID != nil && node.Hash != *args.ExpectedNodeID {
				h.Complete(nil, fmt.Errorf(
					"changeset hash mismatch: computed %s, expected %s",
					node.Hash, args.ExpectedNodeID))
				return
			}

			env := &envelope.Envelope{
				NodeID:         node.Hash,
				P1:             p1,
				P2:             p2,
				ComputedNodeID: node.Hash,
				Contents:       content,
			}
			if err := s.writeEnvelope(envelope.KindChangeset, env); err != nil {
				h.Complete(nil, fmt.Errorf("error uploading changeset %s: %w", node.Hash, err))
				return
			}
			h.Complete(node, nil)
		})
	}()

	return h
}
