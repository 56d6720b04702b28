// Package relay 提供双向 TCP 拦截中继：消息分帧、可窥视移交队列与方向泵。
// 变更说明：实现线程安全的可窥视 FIFO，支持查看队首而不出队，供操作者先审后放。
package relay

import (
	"context"
	"sync"

	"github.com/wyfcoding/fixit/internal/fixit/domain"
)

// QueuedFrame 队列中的待处理帧。
// released 承载放行结果：替换后的字节，或 nil 表示丢弃。
type QueuedFrame struct {
	Frame    *domain.InterceptedFrame
	released chan []byte
}

// NewQueuedFrame 包装一个拦截帧
func NewQueuedFrame(frame *domain.InterceptedFrame) *QueuedFrame {
	return &QueuedFrame{
		Frame:    frame,
		released: make(chan []byte, 1),
	}
}

// Release 放行该帧。bytes 为最终上线字节，nil 表示丢弃。
func (f *QueuedFrame) Release(bytes []byte) {
	f.released <- bytes
}

// AwaitRelease 阻塞等待放行结果，ctx 取消时返回错误
func (f *QueuedFrame) AwaitRelease(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case bytes := <-f.released:
		return bytes, nil
	}
}

// PeekableQueue 网络任务与操作者消费任务之间唯一的移交面。
// 有界非阻塞入队；出队阻塞消费者但从不阻塞生产者；
// Peek 在不出队的前提下查看队首，放行前可对在途帧做编辑。
type PeekableQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []*QueuedFrame
	capacity int
	closed   bool
}

// NewPeekableQueue 创建有界队列。capacity <= 0 时使用默认容量 256，
// FIX 消息节奏是人类可观测级别的，该容量足够宽裕。
func NewPeekableQueue(capacity int) *PeekableQueue {
	if capacity <= 0 {
		capacity = 256
	}
	q := &PeekableQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Put 非阻塞入队。队列已关闭或已满时返回错误。
func (q *PeekableQueue) Put(item *QueuedFrame) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	if len(q.items) >= q.capacity {
		return domain.ErrQueueFull
	}
	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return nil
}

// Peek 查看队首而不出队。队列为空时返回 ErrQueueEmpty。
func (q *PeekableQueue) Peek() (*QueuedFrame, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		if q.closed {
			return nil, domain.ErrQueueClosed
		}
		return nil, domain.ErrQueueEmpty
	}
	return q.items[0], nil
}

// Pop 出队并返回队首，队列为空时阻塞直到有帧、队列关闭或 ctx 取消
func (q *PeekableQueue) Pop(ctx context.Context) (*QueuedFrame, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return nil, domain.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.notEmpty.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// TryPop 非阻塞出队
func (q *PeekableQueue) TryPop() (*QueuedFrame, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		if q.closed {
			return nil, domain.ErrQueueClosed
		}
		return nil, domain.ErrQueueEmpty
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// Len 当前深度
func (q *PeekableQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 关闭队列并返回仍滞留的帧，调用方负责对丢弃逐帧告警
func (q *PeekableQueue) Close() []*QueuedFrame {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	parked := q.items
	q.items = nil
	q.notEmpty.Broadcast()
	return parked
}
