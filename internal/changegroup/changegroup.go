package changegroup

import (
	"fmt"
	"io"

	"github.com/i5heu/revstream/pkg/delta"
	"github.com/i5heu/revstream/pkg/types"
)

// NodeEntry is one decoded (hash, object) pair. Node is the hash declared on
// the wire; Linknode names the changeset that introduced the revision.
type NodeEntry struct {
	Node     types.Hash
	Blob     *types.BlobNode
	Linknode types.Hash
}

// ConvertChangesetChunk turns a changeset delta chunk into a canonical
// object. Changesets are never deltaed against another changeset, so the base
// must be the null sentinel, and their linknode must equal the node itself.
// Malformed input from a peer is untrusted: any violation is an error, never
// coerced.
func ConvertChangesetChunk(c *DeltaChunk) (*NodeEntry, error) {
	if !c.Base.IsNull() {
		return nil, fmt.Errorf(
			"changeset chunk base (%s) should be equal to root commit (%s), because it is never deltaed",
			c.Base, types.NullHash)
	}
	if c.Node != c.Linknode {
		return nil, fmt.Errorf(
			"changeset chunk node (%s) should be equal to linknode (%s)",
			c.Node, c.Linknode)
	}

	content, err := delta.Apply(nil, c.Delta)
	if err != nil {
		return nil, fmt.Errorf("error applying changeset delta for %s: %w", c.Node, err)
	}

	return &NodeEntry{
		Node:     c.Node,
		Blob:     types.NewBlobNode(content, optParent(c.P1), optParent(c.P2)),
		Linknode: c.Node,
	}, nil
}

// ConvertToBlobNodes converts an ordered run of changeset chunks, aborting at
// the first invariant violation.
func ConvertToBlobNodes(chunks []DeltaChunk) ([]NodeEntry, error) {
	entries := make([]NodeEntry, 0, len(chunks))
	for i := range chunks {
		entry, err := ConvertChangesetChunk(&chunks[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// baseTracker resolves delta bases within one manifest or filelog section. It
// remembers the content of every revision decoded so far in the section,
// which is the window a conforming peer may delta against.
type baseTracker struct {
	section Section
	seen    map[types.Hash][]byte
}

func newBaseTracker(section Section) *baseTracker {
	return &baseTracker{
		section: section,
		seen:    make(map[types.Hash][]byte),
	}
}

func (t *baseTracker) convert(c *DeltaChunk) (*NodeEntry, error) {
	var base []byte
	if !c.Base.IsNull() {
		prior, ok := t.seen[c.Base]
		if !ok {
			return nil, fmt.Errorf(
				"%s chunk %s references base %s not previously seen in the stream",
				t.section, c.Node, c.Base)
		}
		base = prior
	}

	content, err := delta.Apply(base, c.Delta)
	if err != nil {
		return nil, fmt.Errorf("error applying %s delta for %s: %w", t.section, c.Node, err)
	}
	t.seen[c.Node] = content

	return &NodeEntry{
		Node:     c.Node,
		Blob:     types.NewBlobNode(content, optParent(c.P1), optParent(c.P2)),
		Linknode: c.Linknode,
	}, nil
}

// FileSection groups the decoded revisions of one file path.
type FileSection struct {
	Path    string
	Entries []NodeEntry
}

// DecodedBundle is a fully decoded changegroup stream.
type DecodedBundle struct {
	Changesets []NodeEntry
	Manifests  []NodeEntry
	Files      []FileSection
}

// Decode consumes a whole changegroup wire stream: the changeset section, the
// manifest section, then any filelog sections. The first violation aborts the
// decode; a malformed changegroup is never partially applied.
func Decode(r io.Reader) (*DecodedBundle, error) {
	u := NewUnpacker(r)
	out := &DecodedBundle{}

	for {
		chunk, err := u.NextChunk()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		entry, err := ConvertChangesetChunk(chunk)
		if err != nil {
			return nil, err
		}
		out.Changesets = append(out.Changesets, *entry)
	}

	manifests := newBaseTracker(SectionManifest)
	for {
		chunk, err := u.NextChunk()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		entry, err := manifests.convert(chunk)
		if err != nil {
			return nil, err
		}
		out.Manifests = append(out.Manifests, *entry)
	}

	for {
		path, err := u.NextFilename()
		if err != nil {
			return nil, err
		}
		if path == "" {
			break
		}

		section := FileSection{Path: path}
		files := newBaseTracker(SectionFilelog)
		for {
			chunk, err := u.NextChunk()
			if err != nil {
				return nil, err
			}
			if chunk == nil {
				break
			}
			entry, err := files.convert(chunk)
			if err != nil {
				return nil, fmt.Errorf("in filelog %q: %w", path, err)
			}
			section.Entries = append(section.Entries, *entry)
		}
		out.Files = append(out.Files, section)
	}

	return out, nil
}

func optParent(h types.Hash) *types.Hash {
	if h.IsNull() {
		return nil
	}
	c := h
	return &c
}
