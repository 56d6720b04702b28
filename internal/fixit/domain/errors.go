package domain

import (
	"errors"
	"fmt"
)

// 领域层错误定义。可恢复错误（字段缺失、队列为空）用哨兵值表示，
// 携带诊断上下文的错误（畸形字段、序列号缺口）用独立类型表示。
var (
	// ErrFieldNotFound 消息中不存在目标字段
	ErrFieldNotFound = errors.New("field not found in message")
	// ErrSpecNotFound 找不到对应 BeginString 的数据字典文件
	ErrSpecNotFound = errors.New("data dictionary not found for begin string")
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
	// ErrQueueEmpty 拦截队列为空
	ErrQueueEmpty = errors.New("intercept queue is empty")
	// ErrQueueFull 拦截队列已满
	ErrQueueFull = errors.New("intercept queue is full")
	// ErrQueueClosed 拦截队列已关闭
	ErrQueueClosed = errors.New("intercept queue is closed")
	// ErrRelayNotRunning 中继未启动或已停止
	ErrRelayNotRunning = errors.New("relay is not running")
)

// MalformedFieldError 解析到无法识别的字段片段。
// 片段本身被保留为不透明字段，解析不会中止，错误仅用于上报。
type MalformedFieldError struct {
	// Segment 原始片段字节
	Segment []byte
	// Position 片段在消息中的序号（从 0 开始）
	Position int
	// Reason 无法解析的原因
	Reason string
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("malformed field at position %d (%s): %q", e.Position, e.Reason, e.Segment)
}

// SequenceGapError 入站序列号与预期不符。
// 只上报不纠正，由操作者决定如何处理。
type SequenceGapError struct {
	// Expected 预期的下一个入站序列号
	Expected uint64
	// Actual 实际收到的序列号
	Actual uint64
	// SessionID 发生缺口的会话
	SessionID string
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap on session %s: expected %d, got %d", e.SessionID, e.Expected, e.Actual)
}
