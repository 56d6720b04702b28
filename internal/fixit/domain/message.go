// Package domain 提供 FIX 拦截工具的核心模型：字节级消息编解码、
// 数据字典解析、消息模板构造与会话序列号管理。
// 变更说明：实现保序字段序列编解码，畸形片段保留原样以支持对抗性报文的观察与重放。
package domain

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// 字段分隔符
const (
	// SOHDelimiter FIX 线上编码使用的标准分隔符 (0x01)
	SOHDelimiter byte = 0x01
	// PipeDelimiter 操作者输入与展示时使用的可读分隔符
	PipeDelimiter byte = '|'
)

// 常用字段编号
const (
	TagBeginString   = 8
	TagBodyLength    = 9
	TagCheckSum      = 10
	TagClOrdID       = 11
	TagHandlInst     = 21
	TagMsgSeqNum     = 34
	TagMsgType       = 35
	TagOrderQty      = 38
	TagOrdType       = 40
	TagOrigClOrdID   = 41
	TagPrice         = 44
	TagSenderCompID  = 49
	TagSendingTime   = 52
	TagSide          = 54
	TagSymbol        = 55
	TagTargetCompID  = 56
	TagText          = 58
	TagTimeInForce   = 59
	TagTransactTime  = 60
	TagEncryptMethod = 98
	TagHeartBtInt    = 108
	TagTestReqID     = 112
	TagResetSeqNum   = 141
	TagUsername      = 553
	TagPassword      = 554
)

// 管理类消息类型
const (
	MsgTypeHeartbeat     = "0"
	MsgTypeTestRequest   = "1"
	MsgTypeResendRequest = "2"
	MsgTypeReject        = "3"
	MsgTypeSeqReset      = "4"
	MsgTypeLogout        = "5"
	MsgTypeLogon         = "A"
)

// SendingTimeFormat FIX UTCTimestamp 毫秒格式
const SendingTimeFormat = "20060102-15:04:05.000"

// Field 一个 tag=value 字段。畸形片段的 Tag 为 0 且 raw 保留原始字节。
type Field struct {
	Tag   int
	Value []byte
	raw   []byte
}

// Opaque 该字段是否为无法解析的不透明片段
func (f Field) Opaque() bool {
	return f.raw != nil
}

// Bytes 返回字段的线上字节表示（不含分隔符）
func (f Field) Bytes() []byte {
	if f.raw != nil {
		return f.raw
	}
	buf := make([]byte, 0, len(f.Value)+8)
	buf = strconv.AppendInt(buf, int64(f.Tag), 10)
	buf = append(buf, '=')
	buf = append(buf, f.Value...)
	return buf
}

// Message 一条 FIX 消息，即保序的字段序列。
// 字段顺序有意义且必须保留；重复的 tag 按出现位置保留，不做折叠。
type Message struct {
	fields   []Field
	trailing bool
}

// NewMessage 创建空消息。序列化时默认在末尾补分隔符。
func NewMessage() *Message {
	return &Message{trailing: true}
}

// Parse 按分隔符切分原始字节为字段序列。
// 无 '=' 或 tag 非数字的片段作为不透明字段原样保留，对应错误只上报不中止，
// 保证任何字节都不会被丢弃：serialize(parse(x)) == x。
func Parse(raw []byte, delim byte) (*Message, []error) {
	msg := &Message{}
	if len(raw) == 0 {
		return msg, nil
	}

	segments := bytes.Split(raw, []byte{delim})
	if len(segments) > 1 && len(segments[len(segments)-1]) == 0 {
		msg.trailing = true
		segments = segments[:len(segments)-1]
	}

	var errs []error
	for i, seg := range segments {
		eq := bytes.IndexByte(seg, '=')
		if eq <= 0 {
			reason := "no tag=value separator"
			if eq == 0 {
				reason = "empty tag"
			}
			msg.fields = append(msg.fields, Field{raw: seg})
			errs = append(errs, &MalformedFieldError{Segment: seg, Position: i, Reason: reason})
			continue
		}
		tag, err := strconv.Atoi(string(seg[:eq]))
		if err != nil || tag < 1 {
			msg.fields = append(msg.fields, Field{raw: seg})
			errs = append(errs, &MalformedFieldError{Segment: seg, Position: i, Reason: "non-numeric tag"})
			continue
		}
		value := make([]byte, len(seg)-eq-1)
		copy(value, seg[eq+1:])
		msg.fields = append(msg.fields, Field{Tag: tag, Value: value})
	}
	return msg, errs
}

// Serialize 按字段顺序拼接 tag=value 与分隔符。
// 不重算长度和校验和，这两项由 Finalize 系列方法显式完成。
// 值内允许出现分隔符本身，编码器不做任何转义。
func (m *Message) Serialize(delim byte) []byte {
	var buf bytes.Buffer
	for i, f := range m.fields {
		if i > 0 {
			buf.WriteByte(delim)
		}
		buf.Write(f.Bytes())
	}
	if m.trailing && len(m.fields) > 0 {
		buf.WriteByte(delim)
	}
	return buf.Bytes()
}

// Fields 返回字段序列的副本视图（元素共享底层值字节）
func (m *Message) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Len 字段个数
func (m *Message) Len() int {
	return len(m.fields)
}

// Get 返回第一个匹配 tag 的字段值
func (m *Message) Get(tag int) ([]byte, bool) {
	for _, f := range m.fields {
		if !f.Opaque() && f.Tag == tag {
			return f.Value, true
		}
	}
	return nil, false
}

// GetString 返回第一个匹配 tag 的字段值的字符串形式
func (m *Message) GetString(tag int) (string, bool) {
	v, ok := m.Get(tag)
	return string(v), ok
}

// Set 就地更新第一个匹配 tag 的字段；不存在时在 CheckSum 之前追加。
func (m *Message) Set(tag int, value []byte) {
	for i, f := range m.fields {
		if !f.Opaque() && f.Tag == tag {
			m.fields[i].Value = value
			return
		}
	}
	field := Field{Tag: tag, Value: value}
	for i, f := range m.fields {
		if !f.Opaque() && f.Tag == TagCheckSum {
			m.fields = append(m.fields[:i], append([]Field{field}, m.fields[i:]...)...)
			return
		}
	}
	m.fields = append(m.fields, field)
}

// SetString Set 的字符串便捷形式
func (m *Message) SetString(tag int, value string) {
	m.Set(tag, []byte(value))
}

// Insert 在指定位置插入字段。位置越界时落到序列末尾。
func (m *Message) Insert(pos, tag int, value []byte) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(m.fields) {
		pos = len(m.fields)
	}
	field := Field{Tag: tag, Value: value}
	m.fields = append(m.fields[:pos], append([]Field{field}, m.fields[pos:]...)...)
}

// Remove 删除所有匹配 tag 的字段。不存在时返回 ErrFieldNotFound，可恢复。
func (m *Message) Remove(tag int) error {
	kept := m.fields[:0]
	removed := false
	for _, f := range m.fields {
		if !f.Opaque() && f.Tag == tag {
			removed = true
			continue
		}
		kept = append(kept, f)
	}
	m.fields = kept
	if !removed {
		return fmt.Errorf("remove tag %d: %w", tag, ErrFieldNotFound)
	}
	return nil
}

// indexOf 返回第一个匹配 tag 的字段下标，不存在返回 -1
func (m *Message) indexOf(tag int) int {
	for i, f := range m.fields {
		if !f.Opaque() && f.Tag == tag {
			return i
		}
	}
	return -1
}

// FinalizeBodyLength 重算 BodyLength (9)：BodyLength 字段之后（不含）到
// CheckSum 字段之前（不含）之间所有字节数，每个字段按 tag=value+分隔符计。
// 缺少 BodyLength 字段时在 BeginString 之后补入。幂等。
func (m *Message) FinalizeBodyLength(delim byte) {
	if m.indexOf(TagBodyLength) < 0 {
		pos := m.indexOf(TagBeginString) + 1
		m.Insert(pos, TagBodyLength, []byte("0"))
	}
	start := m.indexOf(TagBodyLength) + 1
	end := m.indexOf(TagCheckSum)
	if end < 0 {
		end = len(m.fields)
	}
	length := 0
	for _, f := range m.fields[start:end] {
		length += len(f.Bytes()) + 1
	}
	m.fields[start-1].Value = []byte(strconv.Itoa(length))
}

// FinalizeCheckSum 重算 CheckSum (10)：CheckSum 字段之前所有字节
// （含各字段后的分隔符）逐字节求和模 256，渲染为零填充 3 位十进制。
// 求和作用于分隔符拼接后的原始字节流，值内的二进制字节按原样计入。
// 缺少 CheckSum 字段时在末尾补入。幂等。
func (m *Message) FinalizeCheckSum(delim byte) {
	end := m.indexOf(TagCheckSum)
	if end < 0 {
		m.fields = append(m.fields, Field{Tag: TagCheckSum, Value: []byte("000")})
		end = len(m.fields) - 1
	}
	sum := 0
	for _, f := range m.fields[:end] {
		for _, b := range f.Bytes() {
			sum += int(b)
		}
		sum += int(delim)
	}
	m.fields[end].Value = []byte(fmt.Sprintf("%03d", sum%256))
}

// Finalize 依次重算 BodyLength 与 CheckSum，顺序不可颠倒。
func (m *Message) Finalize(delim byte) {
	m.FinalizeBodyLength(delim)
	m.FinalizeCheckSum(delim)
}

// BeginString 返回 BeginString (8) 值
func (m *Message) BeginString() string {
	v, _ := m.GetString(TagBeginString)
	return v
}

// MsgType 返回 MsgType (35) 值
func (m *Message) MsgType() string {
	v, _ := m.GetString(TagMsgType)
	return v
}

// SeqNum 返回 MsgSeqNum (34) 值
func (m *Message) SeqNum() (uint64, bool) {
	v, ok := m.GetString(TagMsgSeqNum)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsAdmin 是否为管理类消息（心跳、测试请求、重传、拒绝、序列重置、登录、登出）
func (m *Message) IsAdmin() bool {
	switch m.MsgType() {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest,
		MsgTypeReject, MsgTypeSeqReset, MsgTypeLogout, MsgTypeLogon:
		return true
	}
	return false
}

// Clone 深拷贝消息
func (m *Message) Clone() *Message {
	clone := &Message{trailing: m.trailing, fields: make([]Field, len(m.fields))}
	for i, f := range m.fields {
		nf := Field{Tag: f.Tag}
		if f.raw != nil {
			nf.raw = append([]byte(nil), f.raw...)
		} else {
			nf.Value = append([]byte(nil), f.Value...)
		}
		clone.fields[i] = nf
	}
	return clone
}

// String 以可读分隔符渲染，便于日志与操作者查看
func (m *Message) String() string {
	return string(m.Serialize(PipeDelimiter))
}

// Timestamp 返回当前 UTC 时间的 FIX SendingTime 表示
func Timestamp(now time.Time) string {
	return now.UTC().Format(SendingTimeFormat)
}
