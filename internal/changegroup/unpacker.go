package changegroup

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/i5heu/revstream/pkg/delta"
	"github.com/i5heu/revstream/pkg/types"
)

// Unpacker reads the wire framing produced by Packer. It is single-pass and
// keeps no state beyond the stream position.
type Unpacker struct {
	r io.Reader
}

func NewUnpacker(r io.Reader) *Unpacker {
	return &Unpacker{r: r}
}

// element reads one length-prefixed element body. A nil body with nil error
// is a section terminator.
func (u *Unpacker) element() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(u.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("changegroup stream truncated: missing terminator")
		}
		return nil, fmt.Errorf("error reading changegroup element length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, nil
	}
	if length < 4 {
		return nil, fmt.Errorf("invalid changegroup element length %d", length)
	}

	body := make([]byte, length-4)
	if _, err := io.ReadFull(u.r, body); err != nil {
		return nil, fmt.Errorf("changegroup element truncated: %w", err)
	}
	return body, nil
}

// NextChunk returns the next delta chunk in the current section, or (nil,
// nil) at the section terminator.
func (u *Unpacker) NextChunk() (*DeltaChunk, error) {
	body, err := u.element()
	if err != nil || body == nil {
		return nil, err
	}
	if len(body) < chunkHeaderSize-4 {
		return nil, fmt.Errorf("changegroup chunk too short: %d bytes", len(body))
	}

	var c DeltaChunk
	c.Node, _ = types.HashFromBytes(body[0:20])
	c.P1, _ = types.HashFromBytes(body[20:40])
	c.P2, _ = types.HashFromBytes(body[40:60])
	c.Base, _ = types.HashFromBytes(body[60:80])
	c.Linknode, _ = types.HashFromBytes(body[80:100])

	c.Delta, err = delta.Decode(body[100:])
	if err != nil {
		return nil, fmt.Errorf("error decoding delta for %s: %w", c.Node, err)
	}
	return &c, nil
}

// NextFilename returns the next filelog section path, or ("", nil) at the
// stream terminator.
func (u *Unpacker) NextFilename() (string, error) {
	body, err := u.element()
	if err != nil || body == nil {
		return "", err
	}
	return string(body), nil
}
