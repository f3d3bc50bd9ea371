package envelope

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/revstream/pkg/types"
)

func sampleEnvelope() *Envelope {
	p1 := types.HashContent([]byte("parent one"), nil, nil)
	content := []byte("file contents")
	return &Envelope{
		NodeID:         types.HashContent(content, &p1, nil),
		P1:             &p1,
		ComputedNodeID: types.HashContent(content, &p1, nil),
		Contents:       content,
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	env := sampleEnvelope()

	blob, err := Serialize(env)
	require.NoError(t, err)

	got, err := Deserialize(KindFile, blob)
	require.NoError(t, err)
	assert.Equal(t, env.NodeID, got.NodeID)
	require.NotNil(t, got.P1)
	assert.Equal(t, *env.P1, *got.P1)
	assert.Nil(t, got.P2)
	assert.Equal(t, env.ComputedNodeID, got.ComputedNodeID)
	assert.Equal(t, env.Contents, got.Contents)
}

func TestSerializeDeterministic(t *testing.T) {
	env := sampleEnvelope()

	first, err := Serialize(env)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Serialize(env)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSerializeEmptyContentsSurvives(t *testing.T) {
	env := &Envelope{
		NodeID:         types.HashContent(nil, nil, nil),
		ComputedNodeID: types.HashContent(nil, nil, nil),
		Contents:       nil,
	}

	blob, err := Serialize(env)
	require.NoError(t, err)

	got, err := Deserialize(KindChangeset, blob)
	require.NoError(t, err)
	assert.NotNil(t, got.Contents, "an empty object is valid, an absent contents field is not")
	assert.Empty(t, got.Contents)
}

func TestDeserializeRejectsMissingContents(t *testing.T) {
	// Hand-built wire map without field 5.
	wire := map[int][]byte{
		1: types.NullHash.Bytes(),
		4: types.NullHash.Bytes(),
	}
	blob, err := cbor.Marshal(wire)
	require.NoError(t, err)

	_, err = Deserialize(KindManifest, blob)
	var invalid *InvalidEnvelopeError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Error(), "missing contents field")
}

func TestDeserializeRejectsBadHashLength(t *testing.T) {
	wire := map[int][]byte{
		1: []byte("short"),
		4: types.NullHash.Bytes(),
		5: []byte("content"),
	}
	blob, err := cbor.Marshal(wire)
	require.NoError(t, err)

	_, err = Deserialize(KindFile, blob)
	var invalid *InvalidEnvelopeError
	assert.ErrorAs(t, err, &invalid)
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize(KindChangeset, []byte{0xff, 0x00, 0x13, 0x37})
	var de *DeserializeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Error(), "ChangesetEnvelope")
}
