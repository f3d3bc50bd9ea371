package revlog

import (
	"context"
	"fmt"
	"sort"

	"github.com/i5heu/revstream/pkg/interfaces"
	"github.com/i5heu/revstream/pkg/types"
)

type entryKey struct {
	path string
	node types.Hash
}

// MemRepo is an in-memory legacy log. Tests and the CLI fixture generator
// build histories with Commit; the import pipeline only sees the
// interfaces.RevlogRepo side.
type MemRepo struct {
	order      []types.Hash
	changesets map[types.Hash]*interfaces.RevlogChangeset
	manifests  map[types.Hash]*interfaces.Manifest
	entries    map[entryKey]*interfaces.RevlogEntry
}

var _ interfaces.RevlogRepo = (*MemRepo)(nil)

func NewMemRepo() *MemRepo {
	return &MemRepo{
		changesets: make(map[types.Hash]*interfaces.RevlogChangeset),
		manifests:  make(map[types.Hash]*interfaces.Manifest),
		entries:    make(map[entryKey]*interfaces.RevlogEntry),
	}
}

func (r *MemRepo) Changesets(ctx context.Context) ([]types.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]types.Hash(nil), r.order...), nil
}

func (r *MemRepo) GetChangeset(ctx context.Context, id types.Hash) (*interfaces.RevlogChangeset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cs, ok := r.changesets[id]
	if !ok {
		return nil, fmt.Errorf("changeset %s not found", id)
	}
	return cs, nil
}

func (r *MemRepo) GetRootManifest(ctx context.Context, mfid types.Hash) (*interfaces.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mf, ok := r.manifests[mfid]
	if !ok {
		return nil, fmt.Errorf("manifest %s not found", mfid)
	}
	return mf, nil
}

func (r *MemRepo) GetEntry(ctx context.Context, path string, node types.Hash) (*interfaces.RevlogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, ok := r.entries[entryKey{path, node}]
	if !ok {
		return nil, fmt.Errorf("entry %q %s not found", path, node)
	}
	return entry, nil
}

// AddChangeset registers a prebuilt changeset record in source order.
func (r *MemRepo) AddChangeset(cs *interfaces.RevlogChangeset) {
	r.changesets[cs.Node] = cs
	r.order = append(r.order, cs.Node)
}

func (r *MemRepo) AddManifest(mf *interfaces.Manifest) {
	r.manifests[mf.Node] = mf
}

func (r *MemRepo) AddEntry(e *interfaces.RevlogEntry) {
	r.entries[entryKey{e.Path, e.Node}] = e
}

// Commit builds a consistent revision on top of the given parent changesets:
// file revisions, the manifest and the changeset record, all hashed the way
// the node identity rules demand. files maps path to new content.
func (r *MemRepo) Commit(parents []types.Hash, user string, when int64, comments string, files map[string][]byte) (types.Hash, error) {
	if len(parents) > 2 {
		return types.NullHash, fmt.Errorf("commit with %d parents, at most 2 supported", len(parents))
	}

	baseLines, err := r.parentManifestLines(parents)
	if err != nil {
		return types.NullHash, err
	}

	lineByPath := make(map[string]ManifestLine, len(baseLines))
	for _, l := range baseLines {
		lineByPath[l.Path] = l
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		content := files[path]

		var fileP1 *types.Hash
		if prev, ok := lineByPath[path]; ok {
			p := prev.Node
			fileP1 = &p
		}

		node := types.HashContent(content, fileP1, nil)
		entry := &interfaces.RevlogEntry{
			Path:    path,
			Type:    interfaces.EntryFile,
			Node:    node,
			P2:      types.NullHash,
			Content: content,
		}
		if fileP1 != nil {
			entry.P1 = *fileP1
		}
		r.AddEntry(entry)
		lineByPath[path] = ManifestLine{Path: path, Node: node}
	}

	lines := make([]ManifestLine, 0, len(lineByPath))
	for _, l := range lineByPath {
		lines = append(lines, l)
	}
	mfContent := GenerateManifest(lines)

	mfP1, mfP2 := r.parentManifestIDs(parents)
	mfNode := types.HashContent(mfContent, optHash(mfP1), optHash(mfP2))
	r.AddManifest(&interfaces.Manifest{
		Node:    mfNode,
		P1:      mfP1,
		P2:      mfP2,
		Content: mfContent,
	})

	fields := &types.Changeset{
		ManifestID: mfNode,
		User:       []byte(user),
		Time:       when,
		Files:      paths,
		Comments:   []byte(comments),
	}
	csContent, err := fields.Generate()
	if err != nil {
		return types.NullHash, fmt.Errorf("error generating changeset content: %w", err)
	}

	csP1, csP2 := types.NullHash, types.NullHash
	if len(parents) > 0 {
		csP1 = parents[0]
	}
	if len(parents) > 1 {
		csP2 = parents[1]
	}
	csNode := types.HashContent(csContent, optHash(csP1), optHash(csP2))

	r.AddChangeset(&interfaces.RevlogChangeset{
		Node:   csNode,
		P1:     csP1,
		P2:     csP2,
		Fields: fields,
	})
	return csNode, nil
}

func (r *MemRepo) parentManifestLines(parents []types.Hash) ([]ManifestLine, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	cs, ok := r.changesets[parents[0]]
	if !ok {
		return nil, fmt.Errorf("parent changeset %s not found", parents[0])
	}
	if cs.Fields.ManifestID.IsNull() {
		return nil, nil
	}
	mf, ok := r.manifests[cs.Fields.ManifestID]
	if !ok {
		return nil, fmt.Errorf("parent manifest %s not found", cs.Fields.ManifestID)
	}
	return ParseManifest(mf.Content)
}

func (r *MemRepo) parentManifestIDs(parents []types.Hash) (types.Hash, types.Hash) {
	ids := [2]types.Hash{types.NullHash, types.NullHash}
	for i, p := range parents {
		if i > 1 {
			break
		}
		if cs, ok := r.changesets[p]; ok {
			ids[i] = cs.Fields.ManifestID
		}
	}
	return ids[0], ids[1]
}

func optHash(h types.Hash) *types.Hash {
	if h.IsNull() {
		return nil
	}
	c := h
	return &c
}
