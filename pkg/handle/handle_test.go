package handle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/revstream/pkg/types"
)

func TestCompleteDeliversNode(t *testing.T) {
	node := types.NewBlobNode([]byte("content"), nil, nil)
	h := New()

	go h.Complete(node, nil)

	got, err := h.Completed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, node, got)
}

func TestCompleteOnlyFirstCallCounts(t *testing.T) {
	node := types.NewBlobNode([]byte("winner"), nil, nil)
	h := New()
	h.Complete(node, nil)
	h.Complete(nil, errors.New("too late"))

	got, err := h.Completed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, node, got)
}

func TestManyWaitersSeeSameResult(t *testing.T) {
	node := types.NewBlobNode([]byte("shared"), nil, nil)
	h := New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := h.Completed(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, node, got)
		}()
	}
	h.Complete(node, nil)
	wg.Wait()
}

func TestFromNodeAndFromError(t *testing.T) {
	node := types.NewBlobNode([]byte("ready"), nil, nil)

	got, err := FromNode(node).Completed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, node, got)

	boom := errors.New("boom")
	_, err = FromError(boom).Completed(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCompletedHonorsContext(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Completed(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
