// 变更说明：实现消息模板构造器，覆盖管理类消息与常用应用消息（下单、撤单、订单状态、行情订阅）。
package domain

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// idCounter 生成 "<序号>-<纳秒时间戳>" 形式的本地唯一标识
var idCounter atomic.Uint64

// NextID 生成下一个本地唯一标识，用于 ClOrdID、TestReqID 等
func NextID() string {
	n := idCounter.Add(1)
	return fmt.Sprintf("%d-%d", n, time.Now().UnixNano())
}

// MessageBuilder 链式消息构造器。
// 按调用顺序写入字段，Build 时补齐头部并重算长度与校验和。
type MessageBuilder struct {
	beginString string
	msgType     string
	sender      string
	target      string
	seqNum      uint64
	hasSeqNum   bool
	body        []Field
	now         func() time.Time
}

// NewMessageBuilder 创建指定消息类型的构造器
func NewMessageBuilder(msgType string) *MessageBuilder {
	return &MessageBuilder{
		msgType: msgType,
		now:     time.Now,
	}
}

// BeginString 设置协议版本 (8)
func (b *MessageBuilder) BeginString(v string) *MessageBuilder {
	b.beginString = v
	return b
}

// Sender 设置 SenderCompID (49)
func (b *MessageBuilder) Sender(v string) *MessageBuilder {
	b.sender = v
	return b
}

// Target 设置 TargetCompID (56)
func (b *MessageBuilder) Target(v string) *MessageBuilder {
	b.target = v
	return b
}

// SeqNum 设置 MsgSeqNum (34)。未设置时由序列器在发送阶段分配。
func (b *MessageBuilder) SeqNum(n uint64) *MessageBuilder {
	b.seqNum = n
	b.hasSeqNum = true
	return b
}

// Field 追加任意体字段
func (b *MessageBuilder) Field(tag int, value string) *MessageBuilder {
	b.body = append(b.body, Field{Tag: tag, Value: []byte(value)})
	return b
}

// FieldBytes 追加任意体字段（原始字节值）
func (b *MessageBuilder) FieldBytes(tag int, value []byte) *MessageBuilder {
	b.body = append(b.body, Field{Tag: tag, Value: value})
	return b
}

// Decimal 追加十进制数值字段
func (b *MessageBuilder) Decimal(tag int, value decimal.Decimal) *MessageBuilder {
	return b.Field(tag, value.String())
}

// Clock 替换时间源，仅用于测试
func (b *MessageBuilder) Clock(now func() time.Time) *MessageBuilder {
	b.now = now
	return b
}

// Build 组装消息：头部字段按 8/9/35/34/49/56/52 顺序排列，
// 体字段按追加顺序排列，最后补 CheckSum 并完成 Finalize。
func (b *MessageBuilder) Build() *Message {
	msg := NewMessage()
	if b.beginString != "" {
		msg.fields = append(msg.fields, Field{Tag: TagBeginString, Value: []byte(b.beginString)})
	}
	msg.fields = append(msg.fields, Field{Tag: TagBodyLength, Value: []byte("0")})
	msg.fields = append(msg.fields, Field{Tag: TagMsgType, Value: []byte(b.msgType)})
	if b.hasSeqNum {
		msg.fields = append(msg.fields, Field{Tag: TagMsgSeqNum, Value: []byte(strconv.FormatUint(b.seqNum, 10))})
	}
	if b.sender != "" {
		msg.fields = append(msg.fields, Field{Tag: TagSenderCompID, Value: []byte(b.sender)})
	}
	if b.target != "" {
		msg.fields = append(msg.fields, Field{Tag: TagTargetCompID, Value: []byte(b.target)})
	}
	msg.fields = append(msg.fields, Field{Tag: TagSendingTime, Value: []byte(Timestamp(b.now()))})
	msg.fields = append(msg.fields, b.body...)
	msg.fields = append(msg.fields, Field{Tag: TagCheckSum, Value: []byte("000")})
	msg.Finalize(SOHDelimiter)
	return msg
}

// LogonOptions 登录消息可选项
type LogonOptions struct {
	// HeartBtInt 心跳间隔（秒）
	HeartBtInt int
	// ResetSeqNum 是否携带 ResetSeqNumFlag=Y
	ResetSeqNum bool
	// Username / Password 网关凭据，为空时不携带
	Username string
	Password string
}

// BuildLogonMessage 构造登录消息 (35=A)，固定携带 EncryptMethod=0
func BuildLogonMessage(d *SessionDescriptor, opts LogonOptions) *Message {
	if opts.HeartBtInt <= 0 {
		opts.HeartBtInt = 30
	}
	b := NewMessageBuilder(MsgTypeLogon).
		BeginString(d.BeginString).
		Sender(d.SenderCompID).
		Target(d.TargetCompID).
		Field(TagEncryptMethod, "0").
		Field(TagHeartBtInt, strconv.Itoa(opts.HeartBtInt))
	if opts.ResetSeqNum {
		b.Field(TagResetSeqNum, "Y")
	}
	if opts.Username != "" {
		b.Field(TagUsername, opts.Username)
	}
	if opts.Password != "" {
		b.Field(TagPassword, opts.Password)
	}
	return b.Build()
}

// Order 应用层订单模板参数
type Order struct {
	ClOrdID  string
	Symbol   string
	Side     string // 1=买 2=卖
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// BuildNewOrderSingle 构造限价单 (35=D)：OrdType=2、TimeInForce=1 (GTC)、HandlInst=1
func BuildNewOrderSingle(d *SessionDescriptor, order Order) *Message {
	if order.ClOrdID == "" {
		order.ClOrdID = NextID()
	}
	return NewMessageBuilder("D").
		BeginString(d.BeginString).
		Sender(d.SenderCompID).
		Target(d.TargetCompID).
		Field(TagClOrdID, order.ClOrdID).
		Field(TagHandlInst, "1").
		Decimal(TagOrderQty, order.Quantity).
		Field(TagOrdType, "2").
		Decimal(TagPrice, order.Price).
		Field(TagSide, order.Side).
		Field(TagSymbol, order.Symbol).
		Field(TagTimeInForce, "1").
		Field(TagTransactTime, Timestamp(time.Now())).
		Build()
}

// BuildOrderCancelRequest 由历史订单派生撤单消息 (35=F)：
// 原 ClOrdID 变为 OrigClOrdID，并移除下单特有字段 21/40/44/59。
func BuildOrderCancelRequest(d *SessionDescriptor, orderMsg *Message) *Message {
	cancel := orderMsg.Clone()
	cancel.SetString(TagMsgType, "F")
	if orig, ok := cancel.GetString(TagClOrdID); ok {
		cancel.SetString(TagOrigClOrdID, orig)
	}
	cancel.SetString(TagClOrdID, NextID())
	for _, tag := range []int{TagHandlInst, TagOrdType, TagPrice, TagTimeInForce} {
		_ = cancel.Remove(tag)
	}
	cancel.SetString(TagSendingTime, Timestamp(time.Now()))
	cancel.SetString(TagTransactTime, Timestamp(time.Now()))
	cancel.SetString(TagSenderCompID, d.SenderCompID)
	cancel.SetString(TagTargetCompID, d.TargetCompID)
	_ = cancel.Remove(TagMsgSeqNum)
	cancel.Finalize(SOHDelimiter)
	return cancel
}

// BuildOrderStatusRequest 构造订单状态查询 (35=H)
func BuildOrderStatusRequest(d *SessionDescriptor, clOrdID, symbol, side string) *Message {
	return NewMessageBuilder("H").
		BeginString(d.BeginString).
		Sender(d.SenderCompID).
		Target(d.TargetCompID).
		Field(TagClOrdID, clOrdID).
		Field(TagSide, side).
		Field(TagSymbol, symbol).
		Build()
}

// BuildMarketDataRequest 构造行情订阅 (35=V)：快照+增量，订阅买卖双边
func BuildMarketDataRequest(d *SessionDescriptor, symbols []string) *Message {
	b := NewMessageBuilder("V").
		BeginString(d.BeginString).
		Sender(d.SenderCompID).
		Target(d.TargetCompID).
		Field(262, NextID()). // MDReqID
		Field(263, "1").      // SubscriptionRequestType: 快照+更新
		Field(264, "0").      // MarketDepth: 全深度
		Field(267, "2").      // NoMDEntryTypes
		Field(269, "0").      // MDEntryType: 买价
		Field(269, "1").      // MDEntryType: 卖价
		Field(146, strconv.Itoa(len(symbols)))
	for _, sym := range symbols {
		b.Field(TagSymbol, sym)
	}
	return b.Build()
}
