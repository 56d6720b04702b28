package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/fixit/internal/fixit/domain"
)

func newTestFrame(raw string) *QueuedFrame {
	return NewQueuedFrame(&domain.InterceptedFrame{
		Direction:   domain.DirectionOut,
		RawBytes:    []byte(raw),
		ArrivalTime: time.Now(),
	})
}

func TestQueuePeekDoesNotDequeue(t *testing.T) {
	q := NewPeekableQueue(4)
	require.NoError(t, q.Put(newTestFrame("a")))
	require.NoError(t, q.Put(newTestFrame("b")))

	head, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), head.Frame.RawBytes)
	assert.Equal(t, 2, q.Len())

	// 窥视与出队返回同一个帧
	popped, err := q.TryPop()
	require.NoError(t, err)
	assert.Same(t, head, popped)
	assert.Equal(t, 1, q.Len())
}

func TestQueueEmptyAndFull(t *testing.T) {
	q := NewPeekableQueue(1)

	_, err := q.Peek()
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)
	_, err = q.TryPop()
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)

	require.NoError(t, q.Put(newTestFrame("a")))
	err = q.Put(newTestFrame("b"))
	assert.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestQueuePopBlocksUntilPut(t *testing.T) {
	q := NewPeekableQueue(4)

	done := make(chan *QueuedFrame, 1)
	go func() {
		item, err := q.Pop(context.Background())
		if err == nil {
			done <- item
		}
	}()

	select {
	case <-done:
		t.Fatal("pop returned before put")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Put(newTestFrame("a")))
	select {
	case item := <-done:
		assert.Equal(t, []byte("a"), item.Frame.RawBytes)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestQueuePopHonorsContext(t *testing.T) {
	q := NewPeekableQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseReturnsParkedFrames(t *testing.T) {
	q := NewPeekableQueue(4)
	require.NoError(t, q.Put(newTestFrame("a")))
	require.NoError(t, q.Put(newTestFrame("b")))

	parked := q.Close()
	require.Len(t, parked, 2)
	assert.Equal(t, []byte("a"), parked[0].Frame.RawBytes)
	assert.Equal(t, []byte("b"), parked[1].Frame.RawBytes)

	// 关闭后所有操作返回 ErrQueueClosed
	assert.ErrorIs(t, q.Put(newTestFrame("c")), domain.ErrQueueClosed)
	_, err := q.Peek()
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, domain.ErrQueueClosed)

	// 重复关闭无副作用
	assert.Nil(t, q.Close())
}

func TestQueuedFrameReleaseRoundTrip(t *testing.T) {
	item := newTestFrame("8=FIX.4.4\x0110=000\x01")

	go item.Release([]byte("edited"))
	got, err := item.AwaitRelease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("edited"), got)
}

func TestQueuedFrameAwaitReleaseCancel(t *testing.T) {
	item := newTestFrame("a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := item.AwaitRelease(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
