package envelope

import (
	"fmt"

	"github.com/i5heu/revstream/pkg/types"
)

// SerializationError reports a failed envelope encode, carrying the node that
// was being serialized.
type SerializationError struct {
	Node types.Hash
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize node %s: %v", e.Node, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// DeserializeError reports a stored blob that could not be decoded at all.
type DeserializeError struct {
	Kind Kind
	Err  error
}

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("error while deserializing blob for %s: %v", e.Kind, e.Err)
}

func (e *DeserializeError) Unwrap() error {
	return e.Err
}

// InvalidEnvelopeError reports a blob that decoded but does not form a valid
// envelope.
type InvalidEnvelopeError struct {
	Kind   Kind
	Detail string
}

func (e *InvalidEnvelopeError) Error() string {
	return fmt.Sprintf("invalid envelope %s: %s", e.Kind, e.Detail)
}
