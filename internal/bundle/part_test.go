package bundle

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartEncodeDecodeRoundTrip(t *testing.T) {
	b := NewPartBuilder(PartChangegroup).
		SetID(7).
		AddParam("version", "02").
		AddParam("nbchanges", "3")
	b.SetPayload(func(w io.Writer) error {
		_, err := w.Write([]byte("payload bytes"))
		return err
	})

	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf))

	part, err := DecodePart(&buf)
	require.NoError(t, err)
	assert.Equal(t, PartChangegroup, part.Type)
	assert.Equal(t, uint32(7), part.ID)
	assert.True(t, part.Mandatory)
	assert.Equal(t, map[string]string{"version": "02", "nbchanges": "3"}, part.Params)
	assert.Equal(t, []byte("payload bytes"), part.Payload)
	assert.Zero(t, buf.Len(), "a part consumes exactly its own bytes")
}

func TestPartAdvisoryFlag(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPartBuilder(PartListkeys).SetAdvisory().Encode(&buf))

	part, err := DecodePart(&buf)
	require.NoError(t, err)
	assert.False(t, part.Mandatory)
}

func TestPartEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPartBuilder(PartListkeys).Encode(&buf))

	part, err := DecodePart(&buf)
	require.NoError(t, err)
	assert.Empty(t, part.Payload)
}

func TestPartPayloadErrorAborts(t *testing.T) {
	b := NewPartBuilder(PartChangegroup)
	b.SetPayload(func(w io.Writer) error {
		return io.ErrUnexpectedEOF
	})

	var buf bytes.Buffer
	err := b.Encode(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload")
}

func TestPartLargePayloadSplitsIntoChunks(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), payloadChunkSize+1234)
	b := NewPartBuilder(PartChangegroup)
	b.SetPayload(func(w io.Writer) error {
		_, err := w.Write(payload)
		return err
	})

	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf))

	part, err := DecodePart(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, part.Payload)
}

func TestDecodePartRejectsOversizedHeaderLength(t *testing.T) {
	// A length word claiming a 4 GiB header, with no bytes behind it.
	raw := []byte{0xff, 0xff, 0xff, 0xff}
	_, err := DecodePart(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestDecodePartRejectsOversizedChunkLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPartBuilder(PartChangegroup).Encode(&buf))
	raw := buf.Bytes()

	// Replace the terminating zero word with an absurd chunk length.
	copy(raw[len(raw)-4:], []byte{0xff, 0xff, 0xff, 0xff})
	_, err := DecodePart(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestDecodePartRejectsTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPartBuilder(PartChangegroup).Encode(&buf))
	raw := buf.Bytes()

	_, err := DecodePart(bytes.NewReader(raw[:len(raw)-2]))
	assert.Error(t, err)
}
