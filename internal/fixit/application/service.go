// Package application 编排编解码、序列器、中继与仓储，对外提供操作者命令面。
// 变更说明：实现注入发送、队首窥视、编辑放行、序列状态查询、字典查询与字段 fuzz。
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/fixit/internal/fixit/domain"
	"github.com/wyfcoding/fixit/internal/fixit/infrastructure/relay"
	"github.com/wyfcoding/fixit/pkg/metrics"
)

// FixitService 拦截会话的应用服务
type FixitService struct {
	sequencer *domain.Sequencer
	relay     *relay.Relay
	resolver  *domain.DictionaryResolver
	frames    domain.FrameRepository
	sessions  domain.SessionRepository
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	wireDelim byte
	fuzzDelay time.Duration
}

// NewFixitService 创建应用服务。frames/sessions/publisher 允许为 nil，
// 持久化与审计是旁路能力，不影响线路协议。
func NewFixitService(
	sequencer *domain.Sequencer,
	rly *relay.Relay,
	resolver *domain.DictionaryResolver,
	frames domain.FrameRepository,
	sessions domain.SessionRepository,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	wireDelim byte,
	fuzzDelay time.Duration,
) *FixitService {
	return &FixitService{
		sequencer: sequencer,
		relay:     rly,
		resolver:  resolver,
		frames:    frames,
		sessions:  sessions,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		wireDelim: wireDelim,
		fuzzDelay: fuzzDelay,
	}
}

// OnFrameReleased 中继放行回调：追加帧记录、发布审计事件、刷新会话快照。
// 任何失败只记日志，存储从不参与线路协议的正确性。
func (s *FixitService) OnFrameReleased(frame *domain.InterceptedFrame, state domain.FrameState) {
	ctx := context.Background()
	msg, _ := domain.Parse(frame.RawBytes, s.wireDelim)
	seq, _ := msg.SeqNum()
	sessionID := s.sequencer.Descriptor().SessionID

	if s.frames != nil {
		record := &domain.FrameRecord{
			UUID:      domain.NextID(),
			SessionID: sessionID,
			Direction: frame.Direction,
			State:     state,
			MsgType:   msg.MsgType(),
			SeqNum:    seq,
			RawBytes:  frame.RawBytes,
		}
		if err := s.frames.AppendFrame(ctx, record); err != nil {
			s.logger.ErrorContext(ctx, "failed to append frame record", "error", err)
		} else if s.metrics != nil {
			s.metrics.DBWritesTotal.Inc()
		}
	}

	if s.publisher != nil {
		event := domain.FrameReleasedEvent{
			SessionID: sessionID,
			Direction: frame.Direction,
			RawBytes:  frame.RawBytes,
			MsgType:   msg.MsgType(),
			SeqNum:    seq,
			State:     state,
			Timestamp: frame.ArrivalTime,
		}
		if err := s.publisher.Publish(ctx, "fixit.frame_released", sessionID, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish frame event", "error", err)
		}
	}

	if s.sessions != nil && state == domain.FrameStateSent {
		if err := s.sessions.SaveSession(ctx, s.sequencer.Descriptor().Snapshot()); err != nil {
			s.logger.ErrorContext(ctx, "failed to save session snapshot", "error", err)
		}
	}
}

// SubmitForSend 把一条消息注入上游。
// repair 为真时按固定顺序修复：分配 MsgSeqNum、重算 BodyLength、重算 CheckSum；
// 为假时字节原样上线，用于蓄意畸形消息的测试。
// delim 指明输入所用分隔符，操作者手输通常用可读分隔符。
func (s *FixitService) SubmitForSend(ctx context.Context, raw []byte, delim byte, repair bool) error {
	msg, parseErrs := domain.Parse(raw, delim)
	for _, perr := range parseErrs {
		s.logger.WarnContext(ctx, "submitted message has malformed fields", "error", perr)
	}

	if !repair {
		// 仅做分隔符转写，不动任何字段
		return s.relay.InjectRaw(ctx, msg.Serialize(s.wireDelim))
	}
	// 已带序列号的消息此处修复长度与校验和；缺序列号的在注入时分配后修复
	if _, ok := msg.SeqNum(); ok {
		msg.Finalize(s.wireDelim)
	}
	return s.relay.Inject(ctx, msg)
}

// NextFrame 窥视拦截队列队首而不出队。
// 操作者先查看、再编辑、最后通过 ReleaseFrame 放行同一帧。
func (s *FixitService) NextFrame(ctx context.Context) (*domain.InterceptedFrame, error) {
	item, err := s.relay.Queue().Peek()
	if err != nil {
		return nil, err
	}
	return item.Frame, nil
}

// AwaitFrame 阻塞等待下一帧进入队列并窥视，不出队
func (s *FixitService) AwaitFrame(ctx context.Context, timeout time.Duration) (*domain.InterceptedFrame, error) {
	deadline := time.Now().Add(timeout)
	for {
		frame, err := s.NextFrame(ctx)
		if err == nil {
			return frame, nil
		}
		if !errors.Is(err, domain.ErrQueueEmpty) {
			return nil, err
		}
		if timeout > 0 && time.Now().After(deadline) {
			return nil, domain.ErrQueueEmpty
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// ReleaseFrame 放行队首帧。edited 为 nil 表示按原始字节放行；
// repair 为真且有编辑时重算 BodyLength 与 CheckSum。
func (s *FixitService) ReleaseFrame(ctx context.Context, edited []byte, repair bool) error {
	item, err := s.relay.Queue().TryPop()
	if err != nil {
		return err
	}

	final := item.Frame.RawBytes
	if edited != nil {
		final = edited
		if repair {
			msg, _ := domain.Parse(edited, s.wireDelim)
			msg.Finalize(s.wireDelim)
			final = msg.Serialize(s.wireDelim)
		}
	}

	item.Release(final)
	s.logger.InfoContext(ctx, "frame released",
		"direction", string(item.Frame.Direction),
		"edited", edited != nil,
		"bytes", len(final))
	return nil
}

// DropFrame 丢弃队首帧，帧不会上线
func (s *FixitService) DropFrame(ctx context.Context) error {
	item, err := s.relay.Queue().TryPop()
	if err != nil {
		return err
	}
	item.Release(nil)
	s.logger.InfoContext(ctx, "frame dropped",
		"direction", string(item.Frame.Direction))
	return nil
}

// SequenceState 返回会话描述符快照
func (s *FixitService) SequenceState() domain.SessionSnapshot {
	return s.sequencer.Descriptor().Snapshot()
}

// Reseed 把序列号重置为配置种子
func (s *FixitService) Reseed(ctx context.Context) {
	s.sequencer.Descriptor().Reseed()
	s.logger.InfoContext(ctx, "sequence counters reseeded")
}

// VersionSpec 返回 BeginString 对应的数据字典
func (s *FixitService) VersionSpec(beginString string) (*domain.VersionSpec, error) {
	return s.resolver.Resolve(beginString)
}

// ExpandMessage 按字典逐字段描述一条消息，未知 tag 显示 UNKNOWN
func (s *FixitService) ExpandMessage(raw []byte, delim byte) ([]string, error) {
	msg, _ := domain.Parse(raw, delim)
	spec, err := s.resolver.Resolve(s.sequencer.Descriptor().BeginString)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, msg.Len())
	for _, f := range msg.Fields() {
		lines = append(lines, spec.Describe(f))
	}
	return lines, nil
}

// Logon 构造并注入登录消息
func (s *FixitService) Logon(ctx context.Context) error {
	msg := s.sequencer.BuildLogon()
	return s.relay.Inject(ctx, msg)
}

// Logout 构造并注入登出消息
func (s *FixitService) Logout(ctx context.Context, reason string) error {
	msg := s.sequencer.BuildLogout(reason)
	return s.relay.Inject(ctx, msg)
}

// SendTestRequest 构造并注入测试请求
func (s *FixitService) SendTestRequest(ctx context.Context) error {
	testReqID := domain.NextID()
	d := s.sequencer.Descriptor()
	msg := domain.NewMessageBuilder(domain.MsgTypeTestRequest).
		BeginString(d.BeginString).
		Sender(d.SenderCompID).
		Target(d.TargetCompID).
		Field(domain.TagTestReqID, testReqID).
		Build()
	return s.relay.Inject(ctx, msg)
}

// SendOrder 按模板构造限价单并注入
func (s *FixitService) SendOrder(ctx context.Context, order domain.Order) (string, error) {
	msg := domain.BuildNewOrderSingle(s.sequencer.Descriptor(), order)
	clOrdID, _ := msg.GetString(domain.TagClOrdID)
	if err := s.relay.Inject(ctx, msg); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "order sent",
		"cl_ord_id", clOrdID,
		"symbol", order.Symbol,
		"side", order.Side)
	return clOrdID, nil
}

// CancelOrder 由历史订单字节派生撤单消息并注入
func (s *FixitService) CancelOrder(ctx context.Context, orderRaw []byte) (string, error) {
	orderMsg, _ := domain.Parse(orderRaw, s.wireDelim)
	cancel := domain.BuildOrderCancelRequest(s.sequencer.Descriptor(), orderMsg)
	clOrdID, _ := cancel.GetString(domain.TagClOrdID)
	if err := s.relay.Inject(ctx, cancel); err != nil {
		return "", err
	}
	return clOrdID, nil
}

// OrderStatus 构造订单状态查询并注入
func (s *FixitService) OrderStatus(ctx context.Context, clOrdID, symbol, side string) error {
	msg := domain.BuildOrderStatusRequest(s.sequencer.Descriptor(), clOrdID, symbol, side)
	return s.relay.Inject(ctx, msg)
}

// SubscribeMarketData 构造行情订阅并注入
func (s *FixitService) SubscribeMarketData(ctx context.Context, symbols []string) error {
	msg := domain.BuildMarketDataRequest(s.sequencer.Descriptor(), symbols)
	return s.relay.Inject(ctx, msg)
}

// FuzzField 以模板消息为底，把候选值逐个写入目标字段后注入。
// 每个变体重新分配序列号并修复长度与校验和，变体间按配置间隔发送。
// 返回成功注入的变体数。
func (s *FixitService) FuzzField(ctx context.Context, template []byte, tag int, values []string) (int, error) {
	base, _ := domain.Parse(template, s.wireDelim)
	sent := 0
	for _, value := range values {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}

		variant := base.Clone()
		variant.SetString(tag, value)
		_ = variant.Remove(domain.TagMsgSeqNum)
		variant.SetString(domain.TagSendingTime, domain.Timestamp(time.Now()))
		variant.Finalize(s.wireDelim)

		if err := s.relay.Inject(ctx, variant); err != nil {
			return sent, fmt.Errorf("fuzz variant %d: %w", sent, err)
		}
		sent++

		if s.fuzzDelay > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(s.fuzzDelay):
			}
		}
	}
	s.logger.InfoContext(ctx, "field fuzz completed", "tag", tag, "sent", sent)
	return sent, nil
}

// ListFrames 列出会话帧历史
func (s *FixitService) ListFrames(ctx context.Context, limit int) ([]*domain.FrameRecord, error) {
	if s.frames == nil {
		return nil, nil
	}
	return s.frames.ListFrames(ctx, s.sequencer.Descriptor().SessionID, limit)
}

// GetFrame 按 uuid 取单条帧记录
func (s *FixitService) GetFrame(ctx context.Context, uuid string) (*domain.FrameRecord, error) {
	if s.frames == nil {
		return nil, errors.New("frame store not configured")
	}
	return s.frames.GetFrame(ctx, uuid)
}

// StartHeartbeat 启动心跳任务，空闲间隔内自动发出心跳
func (s *FixitService) StartHeartbeat(ctx context.Context, interval time.Duration) {
	go s.sequencer.HeartbeatLoop(ctx, interval, func(hb *domain.Message) error {
		return s.relay.InjectRaw(ctx, hb.Serialize(s.wireDelim))
	})
}
