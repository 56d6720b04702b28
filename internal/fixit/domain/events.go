package domain

import (
	"context"
	"time"
)

// FrameReleasedEvent 帧放行事件。每个方向上每放行一帧发布一次，
// 供追加式存储与外部审计消费；存储自行分配标识，线路协议正确性不依赖存储。
type FrameReleasedEvent struct {
	SessionID string     `json:"session_id"`
	Direction Direction  `json:"direction"`
	RawBytes  []byte     `json:"raw_bytes"`
	MsgType   string     `json:"msg_type"`
	SeqNum    uint64     `json:"seq_num"`
	State     FrameState `json:"state"`
	Timestamp time.Time  `json:"timestamp"`
}

// EventPublisher 事件发布端口
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, event any) error
}

// FrameRecord 帧历史记录
type FrameRecord struct {
	ID        uint
	UUID      string
	SessionID string
	Direction Direction
	State     FrameState
	MsgType   string
	SeqNum    uint64
	RawBytes  []byte
	CreatedAt time.Time
}

// FrameRepository 帧历史仓储端口，追加写入
type FrameRepository interface {
	AppendFrame(ctx context.Context, record *FrameRecord) error
	ListFrames(ctx context.Context, sessionID string, limit int) ([]*FrameRecord, error)
	GetFrame(ctx context.Context, uuid string) (*FrameRecord, error)
}

// SessionRepository 会话仓储端口
type SessionRepository interface {
	SaveSession(ctx context.Context, snapshot SessionSnapshot) error
	GetSession(ctx context.Context, sessionID string) (*SessionSnapshot, error)
}
