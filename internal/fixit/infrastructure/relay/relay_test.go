package relay

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/fixit/internal/fixit/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startUpstream 启动一个假网关，接受唯一一条连接
func startUpstream(t *testing.T) (string, chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		connCh <- conn
	}()
	return ln.Addr().String(), connCh
}

// readFrame 从连接读取下一个完整帧
func readFrame(t *testing.T, conn net.Conn, framer *Framer) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	for {
		if frame, ok := framer.Next(); ok {
			return frame
		}
		n, err := conn.Read(buf)
		require.NoError(t, err)
		framer.Push(buf[:n])
	}
}

// startRelay 装配一条完整的拦截链路：本地客户端 <-> 中继 <-> 假网关
func startRelay(t *testing.T, cfg Config, onRelease ReleaseFunc) (*Relay, net.Conn, net.Conn) {
	t.Helper()
	upstreamAddr, connCh := startUpstream(t)
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.UpstreamAddr = upstreamAddr
	if cfg.Delimiter == 0 {
		cfg.Delimiter = domain.SOHDelimiter
	}

	d := domain.NewSessionDescriptor("FIX.4.4", "FIXIT", "GATEWAY", 1, 1)
	sequencer := domain.NewSequencer(d, domain.LogonOptions{}, cfg.Delimiter, discardLogger())

	r := New(cfg, sequencer, nil, onRelease, discardLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Close)

	client, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case upstream := <-connCh:
		t.Cleanup(func() { upstream.Close() })
		return r, client, upstream
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not dial upstream")
		return nil, nil, nil
	}
}

func TestRelayAdminBypass(t *testing.T) {
	r, client, upstream := startRelay(t, Config{}, nil)

	heartbeat := "8=FIX.4.4\x019=10\x0135=0\x0134=1\x0110=000\x01"
	_, err := client.Write([]byte(heartbeat))
	require.NoError(t, err)

	framer := NewFramer(domain.SOHDelimiter, 0)
	got := readFrame(t, upstream, framer)
	assert.Equal(t, []byte(heartbeat), got)
	assert.Zero(t, r.Queue().Len())
}

func TestRelayInterceptReleaseEdited(t *testing.T) {
	r, client, upstream := startRelay(t, Config{}, nil)

	order := "8=FIX.4.4\x019=20\x0135=D\x0134=2\x0155=BTC/USD\x0110=000\x01"
	_, err := client.Write([]byte(order))
	require.NoError(t, err)

	// 帧滞留在队列中，未放行前不出现在上游
	var queued *QueuedFrame
	require.Eventually(t, func() bool {
		item, err := r.Queue().Peek()
		if err != nil {
			return false
		}
		queued = item
		return true
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.DirectionOut, queued.Frame.Direction)
	assert.Equal(t, []byte(order), queued.Frame.RawBytes)

	edited := "8=FIX.4.4\x019=20\x0135=D\x0134=2\x0155=ETH/USD\x0110=000\x01"
	item, err := r.Queue().TryPop()
	require.NoError(t, err)
	item.Release([]byte(edited))

	framer := NewFramer(domain.SOHDelimiter, 0)
	got := readFrame(t, upstream, framer)
	assert.Equal(t, []byte(edited), got)
}

func TestRelayDropFrame(t *testing.T) {
	r, client, upstream := startRelay(t, Config{}, nil)

	order := "8=FIX.4.4\x019=12\x0135=D\x0134=2\x0110=000\x01"
	_, err := client.Write([]byte(order))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Queue().Len() > 0
	}, 2*time.Second, 5*time.Millisecond)

	item, err := r.Queue().TryPop()
	require.NoError(t, err)
	item.Release(nil)

	// 被丢弃的帧不上线，后续帧正常通过
	heartbeat := "8=FIX.4.4\x019=10\x0135=0\x0134=3\x0110=000\x01"
	_, err = client.Write([]byte(heartbeat))
	require.NoError(t, err)

	framer := NewFramer(domain.SOHDelimiter, 0)
	got := readFrame(t, upstream, framer)
	assert.Equal(t, []byte(heartbeat), got)
}

func TestRelayAssignsMissingOutboundSeqNum(t *testing.T) {
	r, client, upstream := startRelay(t, Config{}, nil)

	order := "8=FIX.4.4\x019=0\x0135=D\x0155=BTC/USD\x0110=000\x01"
	_, err := client.Write([]byte(order))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Queue().Len() > 0
	}, 2*time.Second, 5*time.Millisecond)
	item, err := r.Queue().TryPop()
	require.NoError(t, err)
	item.Release(item.Frame.RawBytes)

	framer := NewFramer(domain.SOHDelimiter, 0)
	got := readFrame(t, upstream, framer)

	msg, errs := domain.Parse(got, domain.SOHDelimiter)
	require.Empty(t, errs)
	n, ok := msg.SeqNum()
	require.True(t, ok)
	assert.Equal(t, uint64(1), n)

	// 分配序列号后长度与校验和同步重算
	before := msg.Serialize(domain.SOHDelimiter)
	msg.Finalize(domain.SOHDelimiter)
	assert.Equal(t, before, msg.Serialize(domain.SOHDelimiter))
}

func TestRelayInboundDirection(t *testing.T) {
	r, client, upstream := startRelay(t, Config{}, nil)

	report := "8=FIX.4.4\x019=15\x0135=8\x0134=1\x0139=0\x0110=000\x01"
	_, err := upstream.Write([]byte(report))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Queue().Len() > 0
	}, 2*time.Second, 5*time.Millisecond)

	item, err := r.Queue().TryPop()
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionIn, item.Frame.Direction)
	item.Release(item.Frame.RawBytes)

	framer := NewFramer(domain.SOHDelimiter, 0)
	got := readFrame(t, client, framer)
	assert.Equal(t, []byte(report), got)
}

func TestRelayLogAllInterceptsAdminFrames(t *testing.T) {
	r, client, _ := startRelay(t, Config{LogAll: true}, nil)

	heartbeat := "8=FIX.4.4\x019=10\x0135=0\x0134=1\x0110=000\x01"
	_, err := client.Write([]byte(heartbeat))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Queue().Len() > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRelayTestRequestAutoResponse(t *testing.T) {
	_, client, upstream := startRelay(t, Config{}, nil)

	// 入站 TestRequest 属管理类，旁路转发并触发携带回显的自动心跳
	testReq := "8=FIX.4.4\x019=18\x0135=1\x0134=1\x01112=PING1\x0110=000\x01"
	_, err := upstream.Write([]byte(testReq))
	require.NoError(t, err)

	upFramer := NewFramer(domain.SOHDelimiter, 0)
	auto := readFrame(t, upstream, upFramer)
	msg, errs := domain.Parse(auto, domain.SOHDelimiter)
	require.Empty(t, errs)
	assert.Equal(t, domain.MsgTypeHeartbeat, msg.MsgType())
	v, _ := msg.GetString(domain.TagTestReqID)
	assert.Equal(t, "PING1", v)

	// 原始 TestRequest 原样透传给本地发起方
	clientFramer := NewFramer(domain.SOHDelimiter, 0)
	got := readFrame(t, client, clientFramer)
	assert.Equal(t, []byte(testReq), got)
}

func TestRelayInject(t *testing.T) {
	r, _, upstream := startRelay(t, Config{}, nil)

	msg := domain.NewMessageBuilder("D").
		BeginString("FIX.4.4").
		Sender("FIXIT").
		Target("GATEWAY").
		Field(domain.TagSymbol, "BTC/USD").
		Build()
	require.NoError(t, r.Inject(context.Background(), msg))

	framer := NewFramer(domain.SOHDelimiter, 0)
	got := readFrame(t, upstream, framer)
	parsed, errs := domain.Parse(got, domain.SOHDelimiter)
	require.Empty(t, errs)
	n, ok := parsed.SeqNum()
	require.True(t, ok)
	assert.Equal(t, uint64(1), n)
}

func TestRelayInjectRawPreservesBytes(t *testing.T) {
	r, _, upstream := startRelay(t, Config{}, nil)

	// 蓄意畸形的负载原样上线，不做解析与修复
	raw := []byte("8=FIX.4.4\x01garbage\x019=bad\x0110=XYZ\x01")
	require.NoError(t, r.InjectRaw(context.Background(), raw))

	framer := NewFramer(domain.SOHDelimiter, 0)
	got := readFrame(t, upstream, framer)
	assert.Equal(t, raw, got)
}

func TestRelayInjectBeforeSessionEstablished(t *testing.T) {
	d := domain.NewSessionDescriptor("FIX.4.4", "FIXIT", "GATEWAY", 1, 1)
	sequencer := domain.NewSequencer(d, domain.LogonOptions{}, domain.SOHDelimiter, discardLogger())
	r := New(Config{
		ListenAddr:   "127.0.0.1:0",
		UpstreamAddr: "127.0.0.1:1",
		Delimiter:    domain.SOHDelimiter,
	}, sequencer, nil, nil, discardLogger())

	err := r.InjectRaw(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, domain.ErrRelayNotRunning)
}

func TestRelayPropagatedClose(t *testing.T) {
	r, client, upstream := startRelay(t, Config{}, nil)

	require.NoError(t, client.Close())

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not terminate after local close")
	}

	// 联动关闭传导到上游连接
	require.NoError(t, upstream.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err := upstream.Read(buf)
	assert.Error(t, err)

	assert.Equal(t, domain.StateDisconnected, r.sequencer.Descriptor().State())
}

func TestRelayDialFailureIsFatal(t *testing.T) {
	// 占住一个端口再释放，得到大概率无人监听的地址
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d := domain.NewSessionDescriptor("FIX.4.4", "FIXIT", "GATEWAY", 1, 1)
	sequencer := domain.NewSequencer(d, domain.LogonOptions{}, domain.SOHDelimiter, discardLogger())
	r := New(Config{
		ListenAddr:   "127.0.0.1:0",
		UpstreamAddr: deadAddr,
		Delimiter:    domain.SOHDelimiter,
		DialTimeout:  200 * time.Millisecond,
	}, sequencer, nil, nil, discardLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Close)

	client, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not terminate after dial failure")
	}
}
