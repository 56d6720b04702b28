// 变更说明：实现字节流消息分帧：以 CheckSum 字段的尾随分隔符为帧边界，扫描窗口内找不到时整体兜底。
package relay

import "bytes"

// DefaultScanWindow 默认扫描窗口。缓冲超过该长度仍未出现 CheckSum
// 边界时，把已缓冲字节整体作为一帧畸形消息交出，避免永久阻塞。
const DefaultScanWindow = 1 << 16

// Framer 增量分帧器。FIX 消息理论上可由 BodyLength/CheckSum 自定界，
// 这里按分隔符终止的字段流切帧：定位下一个 CheckSum (10) 字段的尾随分隔符。
// 每个方向的字节流各持有一个实例，不做跨方向共享。
type Framer struct {
	delim      byte
	scanWindow int
	buf        bytes.Buffer
}

// NewFramer 创建分帧器。scanWindow <= 0 时使用 DefaultScanWindow。
func NewFramer(delim byte, scanWindow int) *Framer {
	if scanWindow <= 0 {
		scanWindow = DefaultScanWindow
	}
	return &Framer{delim: delim, scanWindow: scanWindow}
}

// Push 追加新到达的字节
func (f *Framer) Push(data []byte) {
	f.buf.Write(data)
}

// Next 尝试取出下一个完整帧。没有完整帧时返回 (nil, false)。
// 缓冲超出扫描窗口仍无边界时，兜底返回全部已缓冲字节作为一帧。
func (f *Framer) Next() ([]byte, bool) {
	data := f.buf.Bytes()
	if len(data) == 0 {
		return nil, false
	}

	if end, ok := f.boundary(data); ok {
		frame := make([]byte, end)
		copy(frame, data[:end])
		f.buf.Next(end)
		return frame, true
	}

	if f.buf.Len() > f.scanWindow {
		return f.Flush(), true
	}
	return nil, false
}

// Flush 交出全部剩余字节，中继关闭或兜底时调用
func (f *Framer) Flush() []byte {
	if f.buf.Len() == 0 {
		return nil
	}
	rest := make([]byte, f.buf.Len())
	copy(rest, f.buf.Bytes())
	f.buf.Reset()
	return rest
}

// Buffered 当前缓冲字节数
func (f *Framer) Buffered() int {
	return f.buf.Len()
}

// boundary 定位帧边界：CheckSum 字段尾随分隔符之后的偏移量
func (f *Framer) boundary(data []byte) (int, bool) {
	var start int
	if bytes.HasPrefix(data, []byte("10=")) {
		start = 0
	} else {
		idx := bytes.Index(data, []byte{f.delim, '1', '0', '='})
		if idx < 0 {
			return 0, false
		}
		start = idx + 1
	}

	rel := bytes.IndexByte(data[start+3:], f.delim)
	if rel < 0 {
		return 0, false
	}
	return start + 3 + rel + 1, true
}
