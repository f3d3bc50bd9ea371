package importer

import (
	"bytes"
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/revstream/internal/blobStore"
	"github.com/i5heu/revstream/internal/bundle"
	"github.com/i5heu/revstream/internal/changegroup"
	"github.com/i5heu/revstream/internal/keyValStore"
	"github.com/i5heu/revstream/internal/revlog"
	"github.com/i5heu/revstream/pkg/handle"
	"github.com/i5heu/revstream/pkg/interfaces"
	"github.com/i5heu/revstream/pkg/types"
	"github.com/i5heu/revstream/pkg/workerPool"
)

func newTestStore(t *testing.T) *blobStore.Store {
	t.Helper()
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{t.TempDir()},
		MinimumFreeSpace: 1,
		Logger:           logrus.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	return blobStore.New(kv, workerPool.NewWorkerPool(workerPool.Config{WorkerCount: 4}), logrus.New())
}

func linearHistory(t *testing.T, revisions int) (*revlog.MemRepo, []types.Hash) {
	t.Helper()
	repo := revlog.NewMemRepo()

	var csids []types.Hash
	var parents []types.Hash
	for i := 0; i < revisions; i++ {
		csid, err := repo.Commit(parents, "alice <alice@example.com>", int64(1000+i), "revision", map[string][]byte{
			"a.txt":   []byte("version " + string(rune('a'+i)) + "\n"),
			"b/c.txt": []byte("stable content\n"),
		})
		require.NoError(t, err)
		csids = append(csids, csid)
		parents = []types.Hash{csid}
	}
	return repo, csids
}

func collectHandles(t *testing.T, ctx context.Context, handles <-chan *handle.Handle) []*types.BlobNode {
	t.Helper()
	var nodes []*types.BlobNode
	for h := range handles {
		node, err := h.Completed(ctx)
		require.NoError(t, err)
		nodes = append(nodes, node)
	}
	return nodes
}

func TestUploadChangesetsLinearHistory(t *testing.T) {
	ctx := context.Background()
	repo, csids := linearHistory(t, 3)
	store := newTestStore(t)

	handles, err := UploadChangesets(ctx, logrus.New(), repo, store, UploadOptions{})
	require.NoError(t, err)
	nodes := collectHandles(t, ctx, handles)

	require.Len(t, nodes, 3)
	for i, node := range nodes {
		assert.Equal(t, csids[i], node.Hash, "emission keeps source order")
	}

	// The second revision's store record links the first.
	require.NotNil(t, nodes[1].P1)
	assert.Equal(t, csids[0], *nodes[1].P1)
	assert.Nil(t, nodes[0].P1)

	for _, csid := range csids {
		ok, err := store.HasChangeset(ctx, csid)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// The stored content parses back to the original fields.
	stored, err := store.GetChangeset(ctx, csids[2])
	require.NoError(t, err)
	parsed, err := types.ParseChangeset(stored.Content)
	require.NoError(t, err)
	original, err := repo.GetChangeset(ctx, csids[2])
	require.NoError(t, err)
	assert.Equal(t, original.Fields.ManifestID, parsed.ManifestID)
	assert.Equal(t, original.Fields.User, parsed.User)
}

func TestUploadChangesetsSkipAndLimit(t *testing.T) {
	ctx := context.Background()
	repo, csids := linearHistory(t, 4)

	// First session imports the beginning of history.
	store := newTestStore(t)
	handles, err := UploadChangesets(ctx, logrus.New(), repo, store, UploadOptions{Limit: 2})
	require.NoError(t, err)
	nodes := collectHandles(t, ctx, handles)
	require.Len(t, nodes, 2)
	assert.Equal(t, csids[0], nodes[0].Hash)
	assert.Equal(t, csids[1], nodes[1].Hash)

	// The resumed session finds its parent in the store, not the handle map.
	handles, err = UploadChangesets(ctx, logrus.New(), repo, store, UploadOptions{Skip: 2})
	require.NoError(t, err)
	nodes = collectHandles(t, ctx, handles)
	require.Len(t, nodes, 2)
	assert.Equal(t, csids[2], nodes[0].Hash)
	assert.Equal(t, csids[3], nodes[1].Hash)
}

func TestUploadChangesetsSingleRevision(t *testing.T) {
	ctx := context.Background()
	repo, csids := linearHistory(t, 2)

	store := newTestStore(t)
	full, err := UploadChangesets(ctx, logrus.New(), repo, store, UploadOptions{Limit: 1})
	require.NoError(t, err)
	collectHandles(t, ctx, full)

	handles, err := UploadChangesets(ctx, logrus.New(), repo, store, UploadOptions{Changeset: &csids[1]})
	require.NoError(t, err)
	nodes := collectHandles(t, ctx, handles)
	require.Len(t, nodes, 1)
	assert.Equal(t, csids[1], nodes[0].Hash)
}

// reversedEnumeration rebuilds repo with the changeset enumeration reversed,
// so every child turns up before its parent.
func reversedEnumeration(t *testing.T, ctx context.Context, repo *revlog.MemRepo, csids []types.Hash) *revlog.MemRepo {
	t.Helper()
	broken := revlog.NewMemRepo()
	for i := len(csids) - 1; i >= 0; i-- {
		cs, err := repo.GetChangeset(ctx, csids[i])
		require.NoError(t, err)
		broken.AddChangeset(cs)
		mf, err := repo.GetRootManifest(ctx, cs.Fields.ManifestID)
		require.NoError(t, err)
		broken.AddManifest(mf)
		lines, err := revlog.ParseManifest(mf.Content)
		require.NoError(t, err)
		for _, line := range lines {
			entry, err := repo.GetEntry(ctx, line.Path, line.Node)
			require.NoError(t, err)
			broken.AddEntry(entry)
		}
	}
	return broken
}

func TestUploadChangesetsChildBeforeParentAborts(t *testing.T) {
	ctx := context.Background()
	repo, csids := linearHistory(t, 2)
	broken := reversedEnumeration(t, ctx, repo, csids)

	store := newTestStore(t)
	handles, err := UploadChangesets(ctx, logrus.New(), broken, store, UploadOptions{})
	require.NoError(t, err)

	var results []*handle.Handle
	for h := range handles {
		results = append(results, h)
	}
	require.Len(t, results, 1, "the pipeline stops at the violation instead of limping on")

	_, err = results[0].Completed(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parent")
	assert.Contains(t, err.Error(), "not found")
}

func TestAbortReleasesExtractionPipeline(t *testing.T) {
	ctx := context.Background()
	repo, csids := linearHistory(t, 6)
	broken := reversedEnumeration(t, ctx, repo, csids)
	store := newTestStore(t)

	before := runtime.NumGoroutine()

	// Window 1 guarantees revisions are still waiting to enter the window
	// when the first consumed revision triggers the abort.
	handles, err := UploadChangesets(ctx, logrus.New(), broken, store, UploadOptions{Window: 1})
	require.NoError(t, err)
	for h := range handles {
		h.Completed(ctx)
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 10*time.Millisecond,
		"extraction goroutines must drain once the pipeline aborts")
}

func TestImportEmptyRootThenChildAndReExport(t *testing.T) {
	ctx := context.Background()
	repo := revlog.NewMemRepo()

	// Root changeset with no tree at all.
	rootFields := &types.Changeset{
		ManifestID: types.NullHash,
		User:       []byte("alice"),
		Time:       1000,
		Comments:   []byte("empty root"),
	}
	rootContent, err := rootFields.Generate()
	require.NoError(t, err)
	rootID := types.HashContent(rootContent, nil, nil)
	repo.AddChangeset(&interfaces.RevlogChangeset{
		Node:   rootID,
		P1:     types.NullHash,
		P2:     types.NullHash,
		Fields: rootFields,
	})

	// Child adds one file.
	fileContent := []byte("hello\n")
	fileNode := types.HashContent(fileContent, nil, nil)
	repo.AddEntry(&interfaces.RevlogEntry{
		Path:    "a.txt",
		Type:    interfaces.EntryFile,
		Node:    fileNode,
		Content: fileContent,
	})
	mfContent := revlog.GenerateManifest([]revlog.ManifestLine{{Path: "a.txt", Node: fileNode}})
	mfNode := types.HashContent(mfContent, nil, nil)
	repo.AddManifest(&interfaces.Manifest{Node: mfNode, Content: mfContent})

	childFields := &types.Changeset{
		ManifestID: mfNode,
		User:       []byte("alice"),
		Time:       2000,
		Files:      []string{"a.txt"},
		Comments:   []byte("add a.txt"),
	}
	childContent, err := childFields.Generate()
	require.NoError(t, err)
	childID := types.HashContent(childContent, &rootID, nil)
	repo.AddChangeset(&interfaces.RevlogChangeset{
		Node:   childID,
		P1:     rootID,
		P2:     types.NullHash,
		Fields: childFields,
	})

	store := newTestStore(t)
	handles, err := UploadChangesets(ctx, logrus.New(), repo, store, UploadOptions{})
	require.NoError(t, err)
	nodes := collectHandles(t, ctx, handles)
	require.Len(t, nodes, 2)
	assert.Equal(t, rootID, nodes[0].Hash)
	assert.Equal(t, childID, nodes[1].Hash)
	require.NotNil(t, nodes[1].P1)
	assert.Equal(t, rootID, *nodes[1].P1)

	for _, csid := range []types.Hash{rootID, childID} {
		ok, err := store.HasChangeset(ctx, csid)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Re-encode through the part encoder and decode the payload again.
	part := bundle.ChangegroupPart([]changegroup.NodeEntry{
		{Node: rootID, Blob: nodes[0], Linknode: rootID},
		{Node: childID, Blob: nodes[1], Linknode: childID},
	})
	var buf bytes.Buffer
	require.NoError(t, part.Encode(&buf))

	decodedPart, err := bundle.DecodePart(&buf)
	require.NoError(t, err)
	decoded, err := changegroup.Decode(bytes.NewReader(decodedPart.Payload))
	require.NoError(t, err)
	require.Len(t, decoded.Changesets, 2)
	assert.Equal(t, rootContent, decoded.Changesets[0].Blob.Content)
	assert.Equal(t, childContent, decoded.Changesets[1].Blob.Content)
	assert.Equal(t, rootID, decoded.Changesets[0].Blob.Hash)
	assert.Equal(t, childID, decoded.Changesets[1].Blob.Hash)
}

func TestImportedChangesetsSurviveChangegroupRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, csids := linearHistory(t, 2)
	store := newTestStore(t)

	handles, err := UploadChangesets(ctx, logrus.New(), repo, store, UploadOptions{})
	require.NoError(t, err)
	nodes := collectHandles(t, ctx, handles)
	require.Len(t, nodes, 2)

	var buf bytes.Buffer
	p := changegroup.NewPacker(&buf)
	for i, node := range nodes {
		chunk := changegroup.FulltextChunk(csids[i], node)
		require.NoError(t, p.WriteChunk(&chunk))
	}
	require.NoError(t, p.WriteSectionEnd())
	require.NoError(t, p.WriteSectionEnd())
	require.NoError(t, p.WriteSectionEnd())

	decoded, err := changegroup.Decode(&buf)
	require.NoError(t, err)
	require.Len(t, decoded.Changesets, 2)
	for i, entry := range decoded.Changesets {
		assert.Equal(t, csids[i], entry.Node)
		assert.Equal(t, nodes[i].Content, entry.Blob.Content)
		assert.Equal(t, csids[i], entry.Blob.Hash, "decoded content re-hashes to the wire node")
	}
}
