package importer

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/revstream/internal/revlog"
	"github.com/i5heu/revstream/pkg/interfaces"
	"github.com/i5heu/revstream/pkg/types"
)

// parsedChangeset is everything the store upload needs from the legacy log
// for one revision. err carries the first extraction failure; the other
// fields are then meaningless.
type parsedChangeset struct {
	csid    types.Hash
	cs      *interfaces.RevlogChangeset
	rootmf  *interfaces.Manifest // nil for the synthetic empty root
	entries []*interfaces.RevlogEntry
	err     error
}

func failedParse(csid types.Hash, err error) *parsedChangeset {
	return &parsedChangeset{csid: csid, err: err}
}

// parseChangeset extracts one revision. The changeset record is fetched once
// and shared by the root manifest and entry extractions, which run
// concurrently.
func parseChangeset(ctx context.Context, log *logrus.Logger, repo interfaces.RevlogRepo, csid types.Hash) *parsedChangeset {
	defer timePhase(log, "parse", csid)()

	cs, err := repo.GetChangeset(ctx, csid)
	if err != nil {
		return failedParse(csid, fmt.Errorf("while reading changeset %s: %w", csid, err))
	}

	if cs.Fields.ManifestID.IsNull() {
		// The synthetic empty root has no tree at all.
		return &parsedChangeset{csid: csid, cs: cs}
	}

	var (
		wg        sync.WaitGroup
		rootmf    *interfaces.Manifest
		rootErr   error
		parentMfs [][]revlog.ManifestLine
		parentErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer timePhase(log, "read-root-manifest", csid)()
		rootmf, rootErr = repo.GetRootManifest(ctx, cs.Fields.ManifestID)
		if rootErr != nil {
			rootErr = fmt.Errorf("while reading root manifest for %s: %w", csid, rootErr)
		}
	}()
	go func() {
		defer wg.Done()
		defer timePhase(log, "read-parents", csid)()
		parentMfs, parentErr = parentManifests(ctx, repo, cs)
		if parentErr != nil {
			parentErr = fmt.Errorf("while reading parents of %s: %w", csid, parentErr)
		}
	}()
	wg.Wait()

	if rootErr != nil {
		return failedParse(csid, rootErr)
	}
	if parentErr != nil {
		return failedParse(csid, parentErr)
	}

	entries, err := changedEntries(ctx, repo, rootmf, parentMfs)
	if err != nil {
		return failedParse(csid, fmt.Errorf("while reading entries for %s: %w", csid, err))
	}

	return &parsedChangeset{
		csid:    csid,
		cs:      cs,
		rootmf:  rootmf,
		entries: entries,
	}
}

// parentManifests fetches and parses the root manifest of each non-null
// parent changeset.
func parentManifests(ctx context.Context, repo interfaces.RevlogRepo, cs *interfaces.RevlogChangeset) ([][]revlog.ManifestLine, error) {
	var out [][]revlog.ManifestLine
	for _, parent := range []types.Hash{cs.P1, cs.P2} {
		if parent.IsNull() {
			continue
		}
		pcs, err := repo.GetChangeset(ctx, parent)
		if err != nil {
			return nil, err
		}
		if pcs.Fields.ManifestID.IsNull() {
			continue
		}
		mf, err := repo.GetRootManifest(ctx, pcs.Fields.ManifestID)
		if err != nil {
			return nil, err
		}
		lines, err := revlog.ParseManifest(mf.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, lines)
	}
	return out, nil
}

// changedEntries diffs the root manifest against the parents' and fetches the
// revisions this changeset introduced. Sibling entries carry no
// interdependency, so fetch order is irrelevant.
func changedEntries(ctx context.Context, repo interfaces.RevlogRepo, rootmf *interfaces.Manifest, parentMfs [][]revlog.ManifestLine) ([]*interfaces.RevlogEntry, error) {
	rootLines, err := revlog.ParseManifest(rootmf.Content)
	if err != nil {
		return nil, err
	}

	changed := revlog.DiffAgainstParents(rootLines, parentMfs...)
	entries := make([]*interfaces.RevlogEntry, 0, len(changed))
	for _, line := range changed {
		entry, err := repo.GetEntry(ctx, line.Path, line.Node)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
