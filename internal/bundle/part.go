// Package bundle builds the outer transfer parts that carry changegroup and
// tree-pack streams, server listkeys and push replies between peers.
package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// PartType names the kind of a part. The strings travel on the wire, so they
// are stable identifiers, not display text.
type PartType string

const (
	PartChangegroup      PartType = "changegroup"
	PartTreepack         PartType = "b2x:treegroup2"
	PartListkeys         PartType = "listkeys"
	PartReplyChangegroup PartType = "reply:changegroup"
	PartReplyPushkey     PartType = "reply:pushkey"
)

type param struct {
	key   string
	value string
}

// PartBuilder assembles one part: its type, id, mandatoriness, ordered
// parameters and a payload generator. The payload is produced only when the
// part is encoded, so builders for expensive streams stay cheap to construct.
type PartBuilder struct {
	typ       PartType
	id        uint32
	mandatory bool
	params    []param
	payload   func(w io.Writer) error
}

func NewPartBuilder(typ PartType) *PartBuilder {
	return &PartBuilder{typ: typ, mandatory: true}
}

// SetID assigns the part id the enclosing bundle allocated. Reply parts
// reference it through their in-reply-to parameter.
func (b *PartBuilder) SetID(id uint32) *PartBuilder {
	b.id = id
	return b
}

// SetAdvisory marks the part as safe for a receiver to skip when it does not
// understand the type. Parts are mandatory unless told otherwise.
func (b *PartBuilder) SetAdvisory() *PartBuilder {
	b.mandatory = false
	return b
}

func (b *PartBuilder) AddParam(key, value string) *PartBuilder {
	b.params = append(b.params, param{key: key, value: value})
	return b
}

func (b *PartBuilder) SetPayload(fn func(w io.Writer) error) *PartBuilder {
	b.payload = fn
	return b
}

func (b *PartBuilder) Type() PartType { return b.typ }
func (b *PartBuilder) ID() uint32     { return b.id }

const partFlagMandatory byte = 1 << 0

const (
	// payloadChunkSize is how much payload one chunk carries on encode.
	payloadChunkSize = 1 << 20
	// maxHeaderSize and maxChunkSize bound what the decoder will allocate
	// for a length word before reading. Wire input is untrusted.
	maxHeaderSize = 1 << 20
	maxChunkSize  = 1 << 24
)

// Encode writes the part: a length-prefixed header, then the payload as
// length-prefixed chunks closed by a zero word. Parameter order is preserved
// exactly as added.
func (b *PartBuilder) Encode(w io.Writer) error {
	header, err := b.encodeHeader()
	if err != nil {
		return fmt.Errorf("error encoding header of %s part: %w", b.typ, err)
	}

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(header)))
	if _, err := w.Write(u32[:]); err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}

	if b.payload != nil {
		var payload bytes.Buffer
		if err := b.payload(&payload); err != nil {
			return fmt.Errorf("error generating payload of %s part: %w", b.typ, err)
		}
		for rest := payload.Bytes(); len(rest) > 0; {
			chunk := rest
			if len(chunk) > payloadChunkSize {
				chunk = chunk[:payloadChunkSize]
			}
			rest = rest[len(chunk):]

			binary.BigEndian.PutUint32(u32[:], uint32(len(chunk)))
			if _, err := w.Write(u32[:]); err != nil {
				return err
			}
			if _, err := w.Write(chunk); err != nil {
				return err
			}
		}
	}

	binary.BigEndian.PutUint32(u32[:], 0)
	_, err = w.Write(u32[:])
	return err
}

func (b *PartBuilder) encodeHeader() ([]byte, error) {
	if len(b.typ) > 0xFF {
		return nil, fmt.Errorf("part type too long: %d bytes", len(b.typ))
	}
	if len(b.params) > 0xFF {
		return nil, fmt.Errorf("too many part parameters: %d", len(b.params))
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(len(b.typ)))
	buf.WriteString(string(b.typ))

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], b.id)
	buf.Write(u32[:])

	var flags byte
	if b.mandatory {
		flags |= partFlagMandatory
	}
	buf.WriteByte(flags)

	// Sizes first, then the key and value bytes, so a reader can take the
	// whole size table before touching variable data.
	buf.WriteByte(byte(len(b.params)))
	for _, p := range b.params {
		if len(p.key) > 0xFF {
			return nil, fmt.Errorf("parameter key too long: %q", p.key)
		}
		if len(p.value) > 0xFFFF {
			return nil, fmt.Errorf("parameter value for %q too long: %d bytes", p.key, len(p.value))
		}
		buf.WriteByte(byte(len(p.key)))
		var u16 [2]byte
		binary.BigEndian.PutUint16(u16[:], uint16(len(p.value)))
		buf.Write(u16[:])
	}
	for _, p := range b.params {
		buf.WriteString(p.key)
		buf.WriteString(p.value)
	}
	return buf.Bytes(), nil
}

// Part is a decoded part, payload fully buffered.
type Part struct {
	Type      PartType
	ID        uint32
	Mandatory bool
	Params    map[string]string
	Payload   []byte
}

// DecodePart reads one encoded part from r. io.EOF before the first header
// byte means a clean end of input.
func DecodePart(r io.Reader) (*Part, error) {
	var u32 [4]byte
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, err
	}
	headerLen := binary.BigEndian.Uint32(u32[:])
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("part header length %d exceeds limit %d", headerLen, maxHeaderSize)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("part header truncated: %w", err)
	}

	part, err := decodeHeader(header)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := io.ReadFull(r, u32[:]); err != nil {
			return nil, fmt.Errorf("part payload truncated: %w", err)
		}
		chunkLen := binary.BigEndian.Uint32(u32[:])
		if chunkLen == 0 {
			return part, nil
		}
		if chunkLen > maxChunkSize {
			return nil, fmt.Errorf("part payload chunk length %d exceeds limit %d", chunkLen, maxChunkSize)
		}
		chunk := make([]byte, chunkLen)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("part payload truncated: %w", err)
		}
		part.Payload = append(part.Payload, chunk...)
	}
}

func decodeHeader(header []byte) (*Part, error) {
	rd := bytes.NewReader(header)

	typLen, err := rd.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("invalid part header: %w", err)
	}
	typ := make([]byte, typLen)
	if _, err := io.ReadFull(rd, typ); err != nil {
		return nil, fmt.Errorf("invalid part header: %w", err)
	}

	var u32 [4]byte
	if _, err := io.ReadFull(rd, u32[:]); err != nil {
		return nil, fmt.Errorf("invalid part header: %w", err)
	}
	id := binary.BigEndian.Uint32(u32[:])

	flags, err := rd.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("invalid part header: %w", err)
	}
	nparams, err := rd.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("invalid part header: %w", err)
	}

	type paramSize struct {
		keyLen byte
		valLen uint16
	}
	sizes := make([]paramSize, nparams)
	for i := range sizes {
		keyLen, err := rd.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("invalid part header: %w", err)
		}
		var u16 [2]byte
		if _, err := io.ReadFull(rd, u16[:]); err != nil {
			return nil, fmt.Errorf("invalid part header: %w", err)
		}
		sizes[i] = paramSize{keyLen: keyLen, valLen: binary.BigEndian.Uint16(u16[:])}
	}

	params := make(map[string]string, nparams)
	for _, s := range sizes {
		key := make([]byte, s.keyLen)
		if _, err := io.ReadFull(rd, key); err != nil {
			return nil, fmt.Errorf("invalid part header: %w", err)
		}
		val := make([]byte, s.valLen)
		if _, err := io.ReadFull(rd, val); err != nil {
			return nil, fmt.Errorf("invalid part header: %w", err)
		}
		params[string(key)] = string(val)
	}

	return &Part{
		Type:      PartType(typ),
		ID:        id,
		Mandatory: flags&partFlagMandatory != 0,
		Params:    params,
	}, nil
}
