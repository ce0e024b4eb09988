package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/common/logger"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "tasks:testdata:default", Key("testdata", "default"))
}

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "json"))
	ctx := context.Background()
	key := Key("testdata", "default")

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, key, Message{Collection: "testdata", TaskID: i}))
	}

	depth, err := q.Depth(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)

	for i := int64(1); i <= 3; i++ {
		msg, err := q.Dequeue(ctx, []string{key}, 0)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, i, msg.TaskID)
	}
}

func TestMemoryQueueTimeout(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "json"))

	start := time.Now()
	msg, err := q.Dequeue(context.Background(), []string{"tasks:testdata:empty"}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg, "timeout returns nil message")
	assert.Less(t, time.Since(start), time.Second)
}

func TestMemoryQueueScansInOrder(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "json"))
	ctx := context.Background()

	first := Key("testdata", "first")
	second := Key("testdata", "second")
	require.NoError(t, q.Enqueue(ctx, second, Message{TaskID: 2}))
	require.NoError(t, q.Enqueue(ctx, first, Message{TaskID: 1}))

	// The first non-empty queue in the scan list wins
	msg, err := q.Dequeue(ctx, []string{first, second}, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(1), msg.TaskID)
}

func TestMemoryQueueCancelledContext(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "json"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx, []string{"tasks:testdata:default"}, time.Second)
	assert.Error(t, err)
}
