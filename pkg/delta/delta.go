// Package delta implements the incremental patch encoding shared by the
// changegroup wire format and the tree pack records. A delta is an ordered
// list of fragments, each replacing a byte range of the base with new
// content. A fulltext is the degenerate delta that replaces the whole base.
package delta

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Fragment replaces base[Start:End] with Content.
type Fragment struct {
	Start   int
	End     int
	Content []byte
}

type Delta struct {
	Fragments []Fragment
}

// fulltextEnd marks the whole-base replacement fragment. It is the only
// offset allowed to exceed the base.
const fulltextEnd = math.MaxUint32

// NewFulltext builds a delta that ignores its base entirely and yields data
// verbatim. Used for true fulltext wire chunks and for re-encoding content
// when no incremental base is beneficial.
func NewFulltext(data []byte) Delta {
	return Delta{
		Fragments: []Fragment{{Start: 0, End: fulltextEnd, Content: data}},
	}
}

// Apply reconstructs full content from base and d. Fragments must be sorted,
// non-overlapping and in range; violations are errors, never panics. The one
// exception is the fulltext sentinel (start 0, end fulltextEnd), which stands
// for "replace whatever the base is" and so is valid against any base. All
// other out-of-range offsets are rejected, never coerced.
func Apply(base []byte, d Delta) ([]byte, error) {
	var out []byte
	pos := 0
	for i, frag := range d.Fragments {
		start, end := frag.Start, frag.End
		if start == 0 && end == fulltextEnd {
			end = len(base)
		}
		if start > len(base) || end > len(base) {
			return nil, fmt.Errorf("delta fragment %d range [%d:%d) beyond base length %d", i, start, end, len(base))
		}
		if start < pos {
			return nil, fmt.Errorf("delta fragment %d starts at %d before previous end %d", i, start, pos)
		}
		if end < start {
			return nil, fmt.Errorf("delta fragment %d has end %d before start %d", i, end, start)
		}
		out = append(out, base[pos:start]...)
		out = append(out, frag.Content...)
		pos = end
	}
	out = append(out, base[pos:]...)
	return out, nil
}

// Encode writes the wire form of d: per fragment a big-endian
// (start, end, content length) header followed by the content.
func Encode(w io.Writer, d Delta) error {
	var hdr [12]byte
	for _, frag := range d.Fragments {
		binary.BigEndian.PutUint32(hdr[0:4], uint32(frag.Start))
		binary.BigEndian.PutUint32(hdr[4:8], uint32(frag.End))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(frag.Content)))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := w.Write(frag.Content); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses the wire form until data is exhausted.
func Decode(data []byte) (Delta, error) {
	var d Delta
	for len(data) > 0 {
		if len(data) < 12 {
			return Delta{}, fmt.Errorf("truncated delta fragment header: %d bytes left", len(data))
		}
		start := binary.BigEndian.Uint32(data[0:4])
		end := binary.BigEndian.Uint32(data[4:8])
		clen := binary.BigEndian.Uint32(data[8:12])
		data = data[12:]
		if uint32(len(data)) < clen {
			return Delta{}, fmt.Errorf("truncated delta fragment content: want %d bytes, have %d", clen, len(data))
		}
		d.Fragments = append(d.Fragments, Fragment{
			Start:   int(start),
			End:     int(end),
			Content: append([]byte(nil), data[:clen]...),
		})
		data = data[clen:]
	}
	return d, nil
}
