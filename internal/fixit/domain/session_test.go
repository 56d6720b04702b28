package domain

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSequencer(t *testing.T) *Sequencer {
	t.Helper()
	d := NewSessionDescriptor("FIX.4.4", "FIXIT", "GATEWAY", 1, 1)
	return NewSequencer(d, LogonOptions{HeartBtInt: 30}, SOHDelimiter,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// 对端视角构造入站消息
func inbound(msgType string, seq uint64, fields ...Field) *Message {
	b := NewMessageBuilder(msgType).
		BeginString("FIX.4.4").
		Sender("GATEWAY").
		Target("FIXIT").
		SeqNum(seq)
	for _, f := range fields {
		b.FieldBytes(f.Tag, f.Value)
	}
	return b.Build()
}

func TestLogonHandshake(t *testing.T) {
	s := testSequencer(t)

	logon := s.BuildLogon()
	n, ok := logon.SeqNum()
	require.True(t, ok)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, StateLoggingOn, s.Descriptor().State())

	auto, err := s.OnInboundReceived(inbound(MsgTypeLogon, 1))
	require.NoError(t, err)
	assert.Nil(t, auto)
	assert.Equal(t, StateLoggedOn, s.Descriptor().State())

	snap := s.Descriptor().Snapshot()
	assert.Equal(t, uint64(2), snap.NextOutboundSeq)
	assert.Equal(t, uint64(2), snap.NextInboundSeq)
}

func TestLogoutHandshake(t *testing.T) {
	s := testSequencer(t)
	s.BuildLogon()
	_, _ = s.OnInboundReceived(inbound(MsgTypeLogon, 1))

	logout := s.BuildLogout("done")
	v, _ := logout.GetString(TagText)
	assert.Equal(t, "done", v)
	assert.Equal(t, StateLoggingOut, s.Descriptor().State())

	_, err := s.OnInboundReceived(inbound(MsgTypeLogout, 2))
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, s.Descriptor().State())
}

func TestCounterpartyInitiatedLogout(t *testing.T) {
	s := testSequencer(t)
	s.BuildLogon()
	_, _ = s.OnInboundReceived(inbound(MsgTypeLogon, 1))

	_, err := s.OnInboundReceived(inbound(MsgTypeLogout, 2))
	require.NoError(t, err)
	assert.Equal(t, StateLoggingOut, s.Descriptor().State())
}

func TestOnOutboundSentAssignsMissingSeqNum(t *testing.T) {
	s := testSequencer(t)

	msg := NewMessageBuilder("D").
		BeginString("FIX.4.4").
		Sender("FIXIT").
		Target("GATEWAY").
		Field(TagSymbol, "BTC/USD").
		Build()
	_, ok := msg.SeqNum()
	require.False(t, ok)

	assigned := s.OnOutboundSent(msg)
	assert.Equal(t, uint64(1), assigned)
	n, _ := msg.SeqNum()
	assert.Equal(t, uint64(1), n)

	assert.Equal(t, uint64(2), s.Descriptor().Snapshot().NextOutboundSeq)
}

func TestOnOutboundSentRespectsOverride(t *testing.T) {
	s := testSequencer(t)

	// 操作者显式覆盖的序列号原样保留，计数推进到 max(计数, 覆盖值+1)
	msg := inbound("D", 50)
	assigned := s.OnOutboundSent(msg)
	assert.Equal(t, uint64(50), assigned)
	assert.Equal(t, uint64(51), s.Descriptor().Snapshot().NextOutboundSeq)

	// 低于计数的覆盖不回退计数
	low := inbound("D", 3)
	assigned = s.OnOutboundSent(low)
	assert.Equal(t, uint64(3), assigned)
	assert.Equal(t, uint64(51), s.Descriptor().Snapshot().NextOutboundSeq)
}

func TestInboundSequenceGapReportedOnce(t *testing.T) {
	s := testSequencer(t)

	_, err := s.OnInboundReceived(inbound("0", 1))
	require.NoError(t, err)

	// 期望 2 实际 5：上报缺口并推进到 6
	_, err = s.OnInboundReceived(inbound("0", 5))
	var gap *SequenceGapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, uint64(2), gap.Expected)
	assert.Equal(t, uint64(5), gap.Actual)

	// 缺口之后的连续消息不再告警
	_, err = s.OnInboundReceived(inbound("0", 6))
	assert.NoError(t, err)
}

func TestTestRequestAutoHeartbeat(t *testing.T) {
	s := testSequencer(t)
	s.BuildLogon()
	_, _ = s.OnInboundReceived(inbound(MsgTypeLogon, 1))

	auto, err := s.OnInboundReceived(inbound(MsgTypeTestRequest, 2,
		Field{Tag: TagTestReqID, Value: []byte("TID1")}))
	require.NoError(t, err)
	require.NotNil(t, auto)

	assert.Equal(t, MsgTypeHeartbeat, auto.MsgType())
	v, _ := auto.GetString(TagTestReqID)
	assert.Equal(t, "TID1", v)
	n, ok := auto.SeqNum()
	require.True(t, ok)
	assert.Equal(t, uint64(2), n) // 登录占用 1，应答心跳占用 2
}

func TestReseed(t *testing.T) {
	s := testSequencer(t)
	s.BuildLogon()
	_, _ = s.OnInboundReceived(inbound(MsgTypeLogon, 1))
	s.BuildHeartbeat("")

	s.Descriptor().Reseed()
	snap := s.Descriptor().Snapshot()
	assert.Equal(t, uint64(1), snap.NextOutboundSeq)
	assert.Equal(t, uint64(1), snap.NextInboundSeq)
}

func TestHeartbeatLoopEmitsWhenIdle(t *testing.T) {
	s := testSequencer(t)
	s.BuildLogon()
	_, _ = s.OnInboundReceived(inbound(MsgTypeLogon, 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var sent []*Message
	go s.HeartbeatLoop(ctx, 10*time.Millisecond, func(m *Message) error {
		mu.Lock()
		sent = append(sent, m)
		mu.Unlock()
		return nil
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) > 0
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	hb := sent[0]
	mu.Unlock()
	assert.Equal(t, MsgTypeHeartbeat, hb.MsgType())
	_, ok := hb.Get(TagTestReqID)
	assert.False(t, ok)
}

func TestHeartbeatLoopSilentWhenNotLoggedOn(t *testing.T) {
	s := testSequencer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	var mu sync.Mutex
	count := 0
	s.HeartbeatLoop(ctx, 10*time.Millisecond, func(*Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}
