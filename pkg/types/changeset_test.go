package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifestID(t *testing.T) Hash {
	t.Helper()
	h, err := HashFromHex("1111111111111111111111111111111111111111")
	require.NoError(t, err)
	return h
}

func TestChangesetGenerateParseRoundTrip(t *testing.T) {
	cs := &Changeset{
		ManifestID: testManifestID(t),
		User:       []byte("Alice <alice@example.com>"),
		Time:       1700000000,
		Timezone:   -3600,
		Extra: map[string][]byte{
			"branch": []byte("default"),
			"source": []byte("with\nnewline\x00and null"),
		},
		Files:    []string{"a.txt", "dir/b.txt"},
		Comments: []byte("a message\n\nwith a blank line in it"),
	}

	content, err := cs.Generate()
	require.NoError(t, err)

	parsed, err := ParseChangeset(content)
	require.NoError(t, err)
	assert.Equal(t, cs.ManifestID, parsed.ManifestID)
	assert.Equal(t, cs.User, parsed.User)
	assert.Equal(t, cs.Time, parsed.Time)
	assert.Equal(t, cs.Timezone, parsed.Timezone)
	assert.Equal(t, cs.Extra, parsed.Extra)
	assert.Equal(t, cs.Files, parsed.Files)
	assert.Equal(t, cs.Comments, parsed.Comments)
}

func TestChangesetGenerateDeterministic(t *testing.T) {
	cs := &Changeset{
		ManifestID: testManifestID(t),
		User:       []byte("bob"),
		Time:       42,
		Extra: map[string][]byte{
			"c": []byte("3"),
			"a": []byte("1"),
			"b": []byte("2"),
		},
		Comments: []byte("msg"),
	}

	first, err := cs.Generate()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := cs.Generate()
		require.NoError(t, err)
		assert.Equal(t, first, again, "extra key order must not leak into the content")
	}
}

func TestChangesetGenerateRejectsNewlineInUser(t *testing.T) {
	cs := &Changeset{
		ManifestID: testManifestID(t),
		User:       []byte("evil\nuser"),
		Comments:   []byte("msg"),
	}
	_, err := cs.Generate()
	assert.Error(t, err)
}

func TestParseChangesetNoFilesNoExtra(t *testing.T) {
	cs := &Changeset{
		ManifestID: testManifestID(t),
		User:       []byte("carol"),
		Time:       7,
		Timezone:   0,
		Comments:   []byte("empty commit"),
	}
	content, err := cs.Generate()
	require.NoError(t, err)

	parsed, err := ParseChangeset(content)
	require.NoError(t, err)
	assert.Empty(t, parsed.Files)
	assert.Nil(t, parsed.Extra)
}

func TestParseChangesetRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"no separator":     []byte("1111111111111111111111111111111111111111\nuser\n1 0"),
		"too few lines":    []byte("1111111111111111111111111111111111111111\nuser\n\nmsg"),
		"bad manifest hex": []byte("nothex\nuser\n1 0\n\nmsg"),
		"bad time":         []byte("1111111111111111111111111111111111111111\nuser\nxyz 0\n\nmsg"),
		"dangling escape":  []byte("1111111111111111111111111111111111111111\nuser\n1 0 k:v\\\n\nmsg"),
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChangeset(content)
			assert.Error(t, err)
		})
	}
}
