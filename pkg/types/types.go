package types

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// HashSize is the length of a node hash in bytes. The wire format and the
// at-rest envelopes both carry exactly this many bytes per node reference.
const HashSize = 20

// Hash identifies one immutable object (changeset, manifest or file revision).
// It is a pure function of the object's parents and content, so two objects
// with the same parents and content get the same Hash and are deduplicated.
type Hash [HashSize]byte

// NullHash is the reserved sentinel for "no node". It stands in for an absent
// parent and for the empty delta base on the wire.
var NullHash = Hash{}

func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d, expected %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex %q: %w", s, err)
	}
	return HashFromBytes(b)
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsNull() bool {
	return h == NullHash
}

// BlobNode is a canonical object: raw content plus up to two parent hashes.
// Parent order matters, p1 before p2.
type BlobNode struct {
	Hash    Hash
	P1      *Hash
	P2      *Hash
	Content []byte
}

// NewBlobNode builds a canonical object and computes its node hash from the
// parents and content.
func NewBlobNode(content []byte, p1, p2 *Hash) *BlobNode {
	return &BlobNode{
		Hash:    HashContent(content, p1, p2),
		P1:      copyHash(p1),
		P2:      copyHash(p2),
		Content: content,
	}
}

// HashContent computes the node hash: sha1 of the two parent hashes in
// byte-sorted order (NullHash standing in for absent parents) followed by the
// content.
func HashContent(content []byte, p1, p2 *Hash) Hash {
	a, b := NullHash, NullHash
	if p1 != nil {
		a = *p1
	}
	if p2 != nil {
		b = *p2
	}
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}

	d := sha1.New()
	d.Write(a[:])
	d.Write(b[:])
	d.Write(content)

	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// Parents returns the parent hashes, nil for an absent parent.
func (n *BlobNode) Parents() (*Hash, *Hash) {
	return n.P1, n.P2
}

func copyHash(h *Hash) *Hash {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}
