// Package revstream is a content-addressed store for version history plus the
// machinery to exchange that history with peers: bulk import from a legacy
// revision log, changegroup encode and decode, and the outer transfer parts.
package revstream

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/revstream/internal/blobStore"
	"github.com/i5heu/revstream/internal/importer"
	"github.com/i5heu/revstream/internal/keyValStore"
	"github.com/i5heu/revstream/pkg/handle"
	"github.com/i5heu/revstream/pkg/interfaces"
	"github.com/i5heu/revstream/pkg/logging"
	"github.com/i5heu/revstream/pkg/types"
	"github.com/i5heu/revstream/pkg/workerPool"
)

type Revstream struct {
	kv     *keyValStore.KeyValStore
	wp     *workerPool.WorkerPool
	store  *blobStore.Store
	log    *logrus.Logger
	config Config
}

func New(conf Config) (*Revstream, error) {
	if conf.Logger == nil {
		conf.Logger = logging.New()
	}

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            conf.Paths,
		MinimumFreeSpace: conf.MinimumFreeGB,
		Logger:           conf.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating KeyValStore: %w", err)
	}

	wp := workerPool.NewWorkerPool(workerPool.Config{
		WorkerCount: conf.WorkerCount,
	})

	return &Revstream{
		kv:     kv,
		wp:     wp,
		store:  blobStore.New(kv, wp, conf.Logger),
		log:    conf.Logger,
		config: conf,
	}, nil
}

func (rs *Revstream) Close() error {
	return rs.kv.Close()
}

// ImportOptions selects which slice of a legacy log to import.
type ImportOptions struct {
	// Changeset restricts the import to one exact revision.
	Changeset *types.Hash
	// Skip drops the first N revisions.
	Skip int
	// Limit caps how many revisions are imported, 0 meaning all.
	Limit int
}

// ImportChangesets migrates revisions from repo into the store. One handle is
// emitted per revision, in source order; wait on each to learn whether that
// revision made it.
func (rs *Revstream) ImportChangesets(ctx context.Context, repo interfaces.RevlogRepo, opts ImportOptions) (<-chan *handle.Handle, error) {
	return importer.UploadChangesets(ctx, rs.log, repo, rs.store, importer.UploadOptions{
		Changeset: opts.Changeset,
		Skip:      opts.Skip,
		Limit:     opts.Limit,
		Window:    rs.config.ImportWindow,
	})
}

// GetChangeset reads a stored changeset back as a canonical object.
func (rs *Revstream) GetChangeset(ctx context.Context, id types.Hash) (*types.BlobNode, error) {
	return rs.store.GetChangeset(ctx, id)
}

// HasChangeset reports whether a changeset is store-resident.
func (rs *Revstream) HasChangeset(ctx context.Context, id types.Hash) (bool, error) {
	return rs.store.HasChangeset(ctx, id)
}
