// Package envelope implements the at-rest binary wrapper around a canonical
// object. Envelopes are encoded as deterministic CBOR so the same logical
// envelope always produces identical bytes.
package envelope

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/i5heu/revstream/pkg/types"
)

// Kind names the envelope flavor, used in error reporting and storage keys.
type Kind int

const (
	KindChangeset Kind = iota
	KindManifest
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindChangeset:
		return "ChangesetEnvelope"
	case KindManifest:
		return "ManifestEnvelope"
	case KindFile:
		return "FileEnvelope"
	default:
		return "UnknownEnvelope"
	}
}

// Envelope wraps a canonical object for the blob store.
//
// NodeID is the hash as recorded by the origin system; ComputedNodeID is
// independently recomputed from contents and parents. The two may differ for
// legacy root manifests, so callers must compare them explicitly instead of
// assuming equality.
type Envelope struct {
	NodeID         types.Hash
	P1             *types.Hash
	P2             *types.Hash
	ComputedNodeID types.Hash
	Contents       []byte
}

// envelopeWire is the raw CBOR shape. Hashes travel as byte strings and are
// length-checked on decode; Contents is nil only when the field was absent.
type envelopeWire struct {
	NodeID         []byte `cbor:"1,keyasint"`
	P1             []byte `cbor:"2,keyasint,omitempty"`
	P2             []byte `cbor:"3,keyasint,omitempty"`
	ComputedNodeID []byte `cbor:"4,keyasint"`
	Contents       []byte `cbor:"5,keyasint"`
}

// encMode encodes with Core Deterministic Encoding (RFC 8949 §4.2): sorted
// keys, smallest integer encoding, no indefinite-length items.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("envelope: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("envelope: CBOR decoder initialization failed: " + err.Error())
	}
}

// Serialize encodes e for the blob store.
func Serialize(e *Envelope) ([]byte, error) {
	wire := envelopeWire{
		NodeID:         e.NodeID.Bytes(),
		ComputedNodeID: e.ComputedNodeID.Bytes(),
		Contents:       e.Contents,
	}
	if wire.Contents == nil {
		wire.Contents = []byte{}
	}
	if e.P1 != nil {
		wire.P1 = e.P1.Bytes()
	}
	if e.P2 != nil {
		wire.P2 = e.P2.Bytes()
	}

	data, err := encMode.Marshal(&wire)
	if err != nil {
		return nil, &SerializationError{Node: e.NodeID, Err: err}
	}
	return data, nil
}

// Deserialize decodes a stored blob. Undecodable bytes surface as a
// DeserializeError; decodable bytes with invalid structure (missing contents,
// wrong hash length) surface as an InvalidEnvelopeError. Decoding never
// panics.
func Deserialize(kind Kind, blob []byte) (*Envelope, error) {
	var wire envelopeWire
	if err := decMode.Unmarshal(blob, &wire); err != nil {
		return nil, &DeserializeError{Kind: kind, Err: err}
	}

	nodeID, err := types.HashFromBytes(wire.NodeID)
	if err != nil {
		return nil, &InvalidEnvelopeError{Kind: kind, Detail: "node_id: " + err.Error()}
	}
	computed, err := types.HashFromBytes(wire.ComputedNodeID)
	if err != nil {
		return nil, &InvalidEnvelopeError{Kind: kind, Detail: "computed_node_id: " + err.Error()}
	}
	p1, err := optionalHash(wire.P1)
	if err != nil {
		return nil, &InvalidEnvelopeError{Kind: kind, Detail: "p1: " + err.Error()}
	}
	p2, err := optionalHash(wire.P2)
	if err != nil {
		return nil, &InvalidEnvelopeError{Kind: kind, Detail: "p2: " + err.Error()}
	}
	if wire.Contents == nil {
		// An envelope with absent contents is corrupt, never a valid
		// empty object.
		return nil, &InvalidEnvelopeError{Kind: kind, Detail: "missing contents field"}
	}

	return &Envelope{
		NodeID:         nodeID,
		P1:             p1,
		P2:             p2,
		ComputedNodeID: computed,
		Contents:       wire.Contents,
	}, nil
}

func optionalHash(b []byte) (*types.Hash, error) {
	if b == nil {
		return nil, nil
	}
	h, err := types.HashFromBytes(b)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
