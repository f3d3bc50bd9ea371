// Package importer drives the bulk migration of a legacy log into the
// content-addressed store: every revision's tree and file entries first, then
// its root manifest, then the changeset itself, parent before child, with a
// bounded window of revisions extracted concurrently ahead of the upload
// order.
package importer

import (
	"fmt"

	"context"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/revstream/internal/blobStore"
	"github.com/i5heu/revstream/pkg/handle"
	"github.com/i5heu/revstream/pkg/interfaces"
	"github.com/i5heu/revstream/pkg/types"
)

// DefaultWindow bounds how many revisions are extracted concurrently ahead of
// consumption. The window reorders completion but never emission.
const DefaultWindow = 100

// UploadOptions selects which slice of the legacy log to migrate.
type UploadOptions struct {
	// Changeset restricts the import to one exact revision.
	Changeset *types.Hash
	// Skip drops the first N revisions.
	Skip int
	// Limit caps how many revisions are imported, 0 meaning all.
	Limit int
	// Window overrides DefaultWindow when positive.
	Window int
}

// fromBeginning reports whether the selection is a contiguous range from the
// true start of history. Only then is a missing parent handle an invariant
// violation rather than a resumable condition.
func (o UploadOptions) fromBeginning() bool {
	return o.Changeset == nil && o.Skip == 0
}

// UploadChangesets migrates the selected revisions and emits one handle per
// revision, in original source order. A failed revision fails its own handle
// and, transitively, every revision that waits on it as a parent; unrelated
// revisions in flight are unaffected.
func UploadChangesets(ctx context.Context, log *logrus.Logger, repo interfaces.RevlogRepo, store *blobStore.Store, opts UploadOptions) (<-chan *handle.Handle, error) {
	if log == nil {
		log = logrus.New()
	}

	csids, err := selectChangesets(ctx, repo, opts)
	if err != nil {
		return nil, err
	}

	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}

	// Extraction runs ahead of consumption, bounded by the window: the
	// producer blocks once window extractions are unconsumed. The derived
	// context releases it when the consumer stops early.
	pctx, cancel := context.WithCancel(ctx)
	pending := make(chan chan *parsedChangeset, window)
	go func() {
		defer close(pending)
		for _, csid := range csids {
			csid := csid
			ch := make(chan *parsedChangeset, 1)
			select {
			case pending <- ch:
			case <-pctx.Done():
				return
			}
			go func() {
				ch <- parseChangeset(pctx, log, repo, csid)
			}()
		}
	}()

	out := make(chan *handle.Handle, window)
	go func() {
		defer close(out)
		defer cancel()

		// The parent handle map is owned by this goroutine alone;
		// insertion for a revision happens before any later revision
		// could look it up, since revisions are consumed in source
		// order.
		handles := make(map[types.Hash]*handle.Handle)

		for ch := range pending {
			parsed := <-ch
			csHandle, fatal := uploadOne(ctx, log, store, opts, handles, parsed)
			handles[parsed.csid] = csHandle

			select {
			case out <- csHandle:
			case <-ctx.Done():
				return
			}
			if fatal {
				log.WithField("changeset", parsed.csid.String()).
					Error("Aborting import: parent ordering invariant violated")
				return
			}
		}
	}()

	return out, nil
}

func selectChangesets(ctx context.Context, repo interfaces.RevlogRepo, opts UploadOptions) ([]types.Hash, error) {
	if opts.Changeset != nil {
		return []types.Hash{*opts.Changeset}, nil
	}

	csids, err := repo.Changesets(ctx)
	if err != nil {
		return nil, fmt.Errorf("error enumerating changesets: %w", err)
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(csids) {
			return nil, nil
		}
		csids = csids[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(csids) {
		csids = csids[:opts.Limit]
	}
	return csids, nil
}

// uploadOne turns one parsed revision into its changeset handle. The second
// return value is true only for the unrecoverable parent-ordering violation,
// which aborts the whole pipeline.
func uploadOne(ctx context.Context, log *logrus.Logger, store *blobStore.Store, opts UploadOptions, handles map[types.Hash]*handle.Handle, parsed *parsedChangeset) (*handle.Handle, bool) {
	if parsed.err != nil {
		return handle.FromError(parsed.err), false
	}

	entryArgs := make([]blobStore.UploadEntryArgs, 0, len(parsed.entries))
	for _, entry := range parsed.entries {
		entryArgs = append(entryArgs, blobStore.UploadEntryArgs{
			Mode:    blobStore.NodeIDChecked,
			NodeID:  entry.Node,
			Type:    entry.Type,
			Path:    entry.Path,
			Content: entry.Content,
			P1:      optParent(entry.P1),
			P2:      optParent(entry.P2),
		})
	}
	entryHandles, err := store.UploadEntries(ctx, entryArgs)
	if err != nil {
		return handle.FromError(fmt.Errorf("while uploading entries for %s: %w", parsed.csid, err)), false
	}

	var rootHandle *handle.Handle
	if parsed.rootmf != nil {
		// The root manifest is expected to carry the wrong hash for
		// old hybrid repositories, so its recorded node id is trusted
		// as supplied. No other object kind gets this treatment.
		_, h, err := store.UploadEntry(ctx, blobStore.UploadEntryArgs{
			Mode:    blobStore.NodeIDSupplied,
			NodeID:  parsed.rootmf.Node,
			Type:    interfaces.EntryTree,
			Path:    "",
			Content: parsed.rootmf.Content,
			P1:      optParent(parsed.rootmf.P1),
			P2:      optParent(parsed.rootmf.P2),
		})
		if err != nil {
			return handle.FromError(fmt.Errorf("while uploading root manifest for %s: %w", parsed.csid, err)), false
		}
		rootHandle = h
	}

	p1Handle, fatal, err := resolveParent(ctx, store, opts, handles, parsed.cs.P1, parsed.csid)
	if err != nil {
		return handle.FromError(err), fatal
	}
	p2Handle, fatal, err := resolveParent(ctx, store, opts, handles, parsed.cs.P2, parsed.csid)
	if err != nil {
		return handle.FromError(err), fatal
	}

	fields := parsed.cs.Fields
	csHandle := store.CreateChangeset(ctx, blobStore.CreateChangesetArgs{
		ExpectedNodeID: &parsed.csid,
		Files:          fields.Files,
		P1:             p1Handle,
		P2:             p2Handle,
		RootManifest:   rootHandle,
		SubEntries:     entryHandles,
		User:           fields.User,
		Time:           fields.Time,
		Timezone:       fields.Timezone,
		Extra:          fields.Extra,
		Comments:       fields.Comments,
	})
	return csHandle, false
}

// resolveParent finds the handle for a parent changeset. Parents processed in
// this run are in the handle map; in a partial or resumed migration a missing
// parent is looked up in the store, where a prior session put it. When
// importing from the very beginning there is no prior session, so a missing
// handle means the parent-before-child invariant broke.
func resolveParent(ctx context.Context, store *blobStore.Store, opts UploadOptions, handles map[types.Hash]*handle.Handle, parent types.Hash, csid types.Hash) (*handle.Handle, bool, error) {
	if parent.IsNull() {
		return nil, false, nil
	}
	if h, ok := handles[parent]; ok {
		return h, false, nil
	}
	if opts.fromBeginning() {
		return nil, true, fmt.Errorf("parent %s not found for %s", parent, csid)
	}

	node, err := store.GetChangeset(ctx, parent)
	if err != nil {
		return nil, false, fmt.Errorf("while reading parents of %s: %w", csid, err)
	}
	return handle.FromNode(node), false, nil
}

func optParent(h types.Hash) *types.Hash {
	if h.IsNull() {
		return nil
	}
	c := h
	return &c
}
