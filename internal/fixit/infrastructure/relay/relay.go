// 变更说明：实现单会话双向拦截中继：一次本地 accept、一次上游拨号、
// 两个方向泵、管理帧旁路与逐帧放行背压。
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/wyfcoding/fixit/internal/fixit/domain"
	"github.com/wyfcoding/fixit/pkg/metrics"
)

// Config 中继配置，会话启动时传入且不再变更
type Config struct {
	// ListenAddr 本地拦截监听地址
	ListenAddr string
	// UpstreamAddr 上游真实网关地址
	UpstreamAddr string
	// Delimiter 线上字段分隔符
	Delimiter byte
	// ScanWindow 分帧扫描窗口
	ScanWindow int
	// QueueCapacity 拦截队列容量
	QueueCapacity int
	// LogAll 为真时管理类帧也进入拦截队列
	LogAll bool
	// DialTimeout 上游拨号超时
	DialTimeout time.Duration
}

// ReleaseFunc 帧放行回调。中继在每帧放行（或入队）时调用，
// 由上层接到追加式存储与审计发布。
type ReleaseFunc func(frame *domain.InterceptedFrame, state domain.FrameState)

// Relay 拦截中继。接受唯一一条本地连接（FIX 会话是单连接的），
// 拨通上游网关，在两个方向上以消息为单位搬运字节。
// 两个方向是互不阻塞的独立流水线；单方向内严格按到达顺序转发，
// 前一帧未从队列放行前不转发下一帧。
type Relay struct {
	cfg       Config
	sequencer *domain.Sequencer
	queue     *PeekableQueue
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onRelease ReleaseFunc

	mu         sync.Mutex
	listener   net.Listener
	local      net.Conn
	upstream   net.Conn
	upstreamMu sync.Mutex
	localMu    sync.Mutex
	running    bool

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// New 创建中继
func New(cfg Config, sequencer *domain.Sequencer, m *metrics.Metrics, onRelease ReleaseFunc, logger *slog.Logger) *Relay {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Relay{
		cfg:       cfg,
		sequencer: sequencer,
		queue:     NewPeekableQueue(cfg.QueueCapacity),
		logger:    logger,
		metrics:   m,
		onRelease: onRelease,
		done:      make(chan struct{}),
	}
}

// Queue 返回共享拦截队列
func (r *Relay) Queue() *PeekableQueue {
	return r.queue
}

// Addr 返回监听地址，Start 之后可用
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Done 中继终止信号
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Start 绑定监听地址并异步等待唯一一条本地连接。
// 接受连接后拨号上游；拨号失败对本会话是致命的，上报后不做静默重试，
// 静默重连会掩盖被测目标的真实行为。
func (r *Relay) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.ListenAddr, err)
	}

	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.listener = listener
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "relay listening",
		"listen_addr", listener.Addr().String(),
		"upstream_addr", r.cfg.UpstreamAddr)

	go r.serve(ctx)
	return nil
}

// serve 接受一条连接并启动方向泵与心跳任务
func (r *Relay) serve(ctx context.Context) {
	local, err := r.listener.Accept()
	if err != nil {
		r.teardown(ctx, fmt.Errorf("accept: %w", err))
		return
	}

	upstream, err := net.DialTimeout("tcp", r.cfg.UpstreamAddr, r.cfg.DialTimeout)
	if err != nil {
		local.Close()
		r.teardown(ctx, fmt.Errorf("dial upstream %s: %w", r.cfg.UpstreamAddr, err))
		return
	}

	r.mu.Lock()
	r.local = local
	r.upstream = upstream
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "relay session established",
		"local_peer", local.RemoteAddr().String(),
		"upstream", upstream.RemoteAddr().String())

	go r.pump(ctx, domain.DirectionOut, local, upstream, &r.upstreamMu)
	go r.pump(ctx, domain.DirectionIn, upstream, local, &r.localMu)
}

// pump 单方向读循环：读字节、分帧、逐帧处理。
// 读阻塞只影响本方向；任何读错误触发双向联动关闭。
func (r *Relay) pump(ctx context.Context, direction domain.Direction, src, dst net.Conn, dstMu *sync.Mutex) {
	framer := NewFramer(r.cfg.Delimiter, r.cfg.ScanWindow)
	buf := make([]byte, 4096)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			framer.Push(buf[:n])
			for {
				frame, ok := framer.Next()
				if !ok {
					break
				}
				if herr := r.handleFrame(ctx, direction, frame, dst, dstMu); herr != nil {
					r.teardown(ctx, herr)
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = nil
			}
			if framer.Buffered() > 0 {
				r.logger.WarnContext(ctx, "discarding partial frame at close",
					"direction", string(direction),
					"buffered", framer.Buffered())
			}
			r.teardown(ctx, err)
			return
		}
	}
}

// handleFrame 处理一个完整帧。管理类帧直接转发，避免保活流量淹没操作者；
// 应用类帧入队并阻塞本方向，直到操作者放行或丢弃。
func (r *Relay) handleFrame(ctx context.Context, direction domain.Direction, frame []byte, dst net.Conn, dstMu *sync.Mutex) error {
	msg, parseErrs := domain.Parse(frame, r.cfg.Delimiter)
	for _, perr := range parseErrs {
		if r.metrics != nil {
			r.metrics.MalformedFieldsTotal.Inc()
		}
		r.logger.WarnContext(ctx, "malformed field retained opaque",
			"direction", string(direction),
			"error", perr)
	}

	if msg.IsAdmin() && !r.cfg.LogAll {
		return r.forward(ctx, direction, frame, msg, dst, dstMu)
	}

	intercepted := &domain.InterceptedFrame{
		Direction:   direction,
		RawBytes:    frame,
		ArrivalTime: time.Now(),
	}
	queued := NewQueuedFrame(intercepted)

	if err := r.queue.Put(queued); err != nil {
		r.logger.WarnContext(ctx, "intercept queue unavailable, forwarding uninspected",
			"direction", string(direction),
			"error", err)
		return r.forward(ctx, direction, frame, msg, dst, dstMu)
	}

	if r.metrics != nil {
		r.metrics.FramesInterceptedTotal.Inc()
		r.metrics.QueueDepth.Set(float64(r.queue.Len()))
	}
	if r.onRelease != nil {
		r.onRelease(intercepted, domain.FrameStateIntercepted)
	}

	released, err := queued.AwaitRelease(ctx)
	if r.metrics != nil {
		r.metrics.QueueDepth.Set(float64(r.queue.Len()))
	}
	if err != nil {
		return err
	}
	if released == nil {
		if r.metrics != nil {
			r.metrics.FramesDroppedTotal.Inc()
		}
		r.logger.InfoContext(ctx, "frame dropped by operator",
			"direction", string(direction),
			"bytes", len(frame))
		return nil
	}

	finalMsg, _ := domain.Parse(released, r.cfg.Delimiter)
	return r.forward(ctx, direction, released, finalMsg, dst, dstMu)
}

// forward 序列号记账后写入目标连接，并发出放行事件。
// 出站帧若缺少 MsgSeqNum 由序列器分配并重新序列化；
// 已携带序列号的帧按原始字节转发，保持字节级透传。
func (r *Relay) forward(ctx context.Context, direction domain.Direction, raw []byte, msg *domain.Message, dst net.Conn, dstMu *sync.Mutex) error {
	if direction == domain.DirectionOut {
		_, hadSeq := msg.SeqNum()
		r.sequencer.OnOutboundSent(msg)
		if !hadSeq {
			raw = msg.Serialize(r.cfg.Delimiter)
		}
	} else {
		auto, gapErr := r.sequencer.OnInboundReceived(msg)
		if gapErr != nil && r.metrics != nil {
			r.metrics.SequenceGapsTotal.Inc()
		}
		if auto != nil {
			if err := r.writeUpstream(auto.Serialize(r.cfg.Delimiter)); err != nil {
				return fmt.Errorf("write auto-response: %w", err)
			}
			if r.metrics != nil {
				r.metrics.AutoResponsesTotal.Inc()
				r.metrics.RecordRelease(string(domain.DirectionOut))
			}
			r.emitRelease(domain.DirectionOut, auto.Serialize(r.cfg.Delimiter))
			r.logger.DebugContext(ctx, "auto-response sent",
				"msg_type", auto.MsgType())
		}
	}

	dstMu.Lock()
	_, err := dst.Write(raw)
	dstMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s frame: %w", direction, err)
	}

	if r.metrics != nil {
		r.metrics.RecordRelease(string(direction))
		r.metrics.RecordSessionState(string(r.sequencer.Descriptor().State()))
	}
	r.emitRelease(direction, raw)
	return nil
}

// emitRelease 发出放行事件供存储与审计消费
func (r *Relay) emitRelease(direction domain.Direction, raw []byte) {
	if r.onRelease == nil {
		return
	}
	r.onRelease(&domain.InterceptedFrame{
		Direction:   direction,
		RawBytes:    raw,
		ArrivalTime: time.Now(),
	}, domain.FrameStateSent)
}

// Inject 把一条消息作为出站帧直接写向上游，供操作者注入使用。
// 缺少 MsgSeqNum 时由序列器分配。
func (r *Relay) Inject(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	upstream := r.upstream
	r.mu.Unlock()
	if upstream == nil {
		return domain.ErrRelayNotRunning
	}

	r.sequencer.OnOutboundSent(msg)
	raw := msg.Serialize(r.cfg.Delimiter)

	if err := r.writeUpstream(raw); err != nil {
		return fmt.Errorf("inject: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordRelease(string(domain.DirectionOut))
		r.metrics.RecordSessionState(string(r.sequencer.Descriptor().State()))
	}
	r.emitRelease(domain.DirectionOut, raw)

	r.logger.InfoContext(ctx, "frame injected",
		"msg_type", msg.MsgType(),
		"bytes", len(raw))
	return nil
}

// InjectRaw 把原始字节注入上游，不经过消息解析，用于发送蓄意畸形的负载
func (r *Relay) InjectRaw(ctx context.Context, raw []byte) error {
	r.mu.Lock()
	upstream := r.upstream
	r.mu.Unlock()
	if upstream == nil {
		return domain.ErrRelayNotRunning
	}

	if err := r.writeUpstream(raw); err != nil {
		return fmt.Errorf("inject raw: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordRelease(string(domain.DirectionOut))
	}
	r.emitRelease(domain.DirectionOut, raw)
	return nil
}

// writeUpstream 串行化对上游连接的写入。
// 入站泵的自动应答、心跳任务与注入路径都可能并发写同一连接。
func (r *Relay) writeUpstream(raw []byte) error {
	r.mu.Lock()
	upstream := r.upstream
	r.mu.Unlock()
	if upstream == nil {
		return domain.ErrRelayNotRunning
	}
	r.upstreamMu.Lock()
	defer r.upstreamMu.Unlock()
	_, err := upstream.Write(raw)
	return err
}

// Close 主动关闭中继
func (r *Relay) Close() {
	r.teardown(context.Background(), nil)
}

// teardown 联动关闭：任一套接字关闭即拆除双向链路，
// 序列器回到 DISCONNECTED，滞留在队列中的帧逐个告警后丢弃。
func (r *Relay) teardown(ctx context.Context, cause error) {
	r.closeOnce.Do(func() {
		if cause != nil {
			r.logger.ErrorContext(ctx, "relay terminated",
				"error", cause)
		} else {
			r.logger.InfoContext(ctx, "relay closed")
		}

		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		if r.listener != nil {
			r.listener.Close()
		}
		if r.local != nil {
			r.local.Close()
		}
		if r.upstream != nil {
			r.upstream.Close()
		}
		r.running = false
		r.mu.Unlock()

		parked := r.queue.Close()
		for _, item := range parked {
			r.logger.WarnContext(ctx, "discarding parked frame at shutdown",
				"direction", string(item.Frame.Direction),
				"bytes", len(item.Frame.RawBytes))
			if r.metrics != nil {
				r.metrics.FramesDroppedTotal.Inc()
			}
		}

		r.sequencer.Descriptor().Disconnect()
		if r.metrics != nil {
			r.metrics.RecordSessionState(string(domain.StateDisconnected))
		}
		close(r.done)
	})
}
