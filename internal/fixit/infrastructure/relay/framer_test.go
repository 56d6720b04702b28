package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/fixit/internal/fixit/domain"
)

func TestFramerSplitsConcatenatedFrames(t *testing.T) {
	frame1 := "8=FIX.4.4\x019=5\x0135=0\x0110=163\x01"
	frame2 := "8=FIX.4.4\x019=12\x0135=1\x01112=T1\x0110=000\x01"

	f := NewFramer(domain.SOHDelimiter, 0)
	f.Push([]byte(frame1 + frame2))

	got, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, []byte(frame1), got)

	got, ok = f.Next()
	require.True(t, ok)
	assert.Equal(t, []byte(frame2), got)

	_, ok = f.Next()
	assert.False(t, ok)
	assert.Zero(t, f.Buffered())
}

func TestFramerWaitsForCompleteFrame(t *testing.T) {
	f := NewFramer(domain.SOHDelimiter, 0)

	f.Push([]byte("8=FIX.4.4\x019=5\x0135=0\x0110="))
	_, ok := f.Next()
	assert.False(t, ok)

	// 校验和的尾随分隔符到达后帧才完整
	f.Push([]byte("163"))
	_, ok = f.Next()
	assert.False(t, ok)

	f.Push([]byte{domain.SOHDelimiter})
	got, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, []byte("8=FIX.4.4\x019=5\x0135=0\x0110=163\x01"), got)
}

func TestFramerValueContaining10Equals(t *testing.T) {
	// 值内出现 "10=" 不构成帧边界，边界必须位于分隔符之后
	raw := "8=FIX.4.4\x0158=x10=y\x0110=042\x01"
	f := NewFramer(domain.SOHDelimiter, 0)
	f.Push([]byte(raw))

	got, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, []byte(raw), got)
}

func TestFramerFallbackBeyondScanWindow(t *testing.T) {
	f := NewFramer(domain.SOHDelimiter, 16)

	junk := []byte("8=FIX.4.4\x0158=aaaaaaaaaaaaaaaaaaaaaaaa")
	f.Push(junk)

	// 超出扫描窗口仍无 CheckSum 边界，整体兜底为一帧
	got, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, junk, got)
	assert.Zero(t, f.Buffered())
}

func TestFramerFlush(t *testing.T) {
	f := NewFramer(domain.SOHDelimiter, 0)
	assert.Nil(t, f.Flush())

	f.Push([]byte("8=FIX.4.4\x0135=D"))
	assert.Equal(t, []byte("8=FIX.4.4\x0135=D"), f.Flush())
	assert.Zero(t, f.Buffered())
}

func TestFramerPipeDelimiter(t *testing.T) {
	frame := "8=FIX.4.4|9=5|35=0|10=163|"
	f := NewFramer(domain.PipeDelimiter, 0)
	f.Push([]byte(frame))

	got, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, []byte(frame), got)
}
