// Package revlog provides the manifest text codec shared by the import
// pipeline and an in-memory legacy log used by tests and fixtures. The real
// legacy log's on-disk layout is out of scope; it is consumed through
// interfaces.RevlogRepo only.
package revlog

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/i5heu/revstream/pkg/interfaces"
	"github.com/i5heu/revstream/pkg/types"
)

// ManifestLine is one entry of a manifest: "path\x00<40 hex>[flag]\n". Flag
// is 0 for a regular file, 'x' executable, 'l' symlink, 't' subtree.
type ManifestLine struct {
	Path string
	Node types.Hash
	Flag byte
}

func (l ManifestLine) EntryType() interfaces.EntryType {
	switch l.Flag {
	case 't':
		return interfaces.EntryTree
	case 'x':
		return interfaces.EntryExecutable
	case 'l':
		return interfaces.EntrySymlink
	default:
		return interfaces.EntryFile
	}
}

// ParseManifest decodes manifest content into its lines.
func ParseManifest(content []byte) ([]ManifestLine, error) {
	var lines []ManifestLine
	for len(content) > 0 {
		nl := bytes.IndexByte(content, '\n')
		if nl < 0 {
			return nil, fmt.Errorf("manifest line %q lacks newline", content)
		}
		line := content[:nl]
		content = content[nl+1:]

		sep := bytes.IndexByte(line, 0)
		if sep < 0 {
			return nil, fmt.Errorf("manifest line %q lacks separator", line)
		}
		path := string(line[:sep])
		rest := line[sep+1:]

		var flag byte
		if len(rest) == 2*types.HashSize+1 {
			flag = rest[2*types.HashSize]
			rest = rest[:2*types.HashSize]
		}
		node, err := types.HashFromHex(string(rest))
		if err != nil {
			return nil, fmt.Errorf("manifest line for %q: %w", path, err)
		}

		lines = append(lines, ManifestLine{Path: path, Node: node, Flag: flag})
	}
	return lines, nil
}

// GenerateManifest encodes lines, sorted by path, back into manifest content.
func GenerateManifest(lines []ManifestLine) []byte {
	sorted := append([]ManifestLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	for _, l := range sorted {
		buf.WriteString(l.Path)
		buf.WriteByte(0)
		buf.WriteString(l.Node.String())
		if l.Flag != 0 {
			buf.WriteByte(l.Flag)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// DiffAgainstParents returns the lines of root that are not present
// identically in any parent manifest: the entries this changeset actually
// introduced. This is a set intersection over parents, not a full tree walk.
func DiffAgainstParents(root []ManifestLine, parents ...[]ManifestLine) []ManifestLine {
	type key struct {
		path string
		node types.Hash
		flag byte
	}

	inParent := make(map[key]bool)
	for _, parent := range parents {
		for _, l := range parent {
			inParent[key{l.Path, l.Node, l.Flag}] = true
		}
	}

	var changed []ManifestLine
	for _, l := range root {
		if !inParent[key{l.Path, l.Node, l.Flag}] {
			changed = append(changed, l)
		}
	}
	return changed
}
