package mysql

import (
	"time"

	"github.com/wyfcoding/fixit/internal/fixit/domain"
	"gorm.io/gorm"
)

// FrameRecordModel 放行帧记录 (数据库映射)，追加写入
type FrameRecordModel struct {
	gorm.Model
	UUID      string `gorm:"column:uuid;type:varchar(64);uniqueIndex;not null"`
	SessionID string `gorm:"column:session_id;type:varchar(128);index;not null"`
	Direction string `gorm:"column:direction;type:varchar(8);not null"`
	State     string `gorm:"column:state;type:varchar(16);not null"`
	MsgType   string `gorm:"column:msg_type;type:varchar(8)"`
	SeqNum    uint64 `gorm:"column:seq_num"`
	RawBytes  []byte `gorm:"column:raw_bytes;type:blob"`
}

func (FrameRecordModel) TableName() string {
	return "fix_frames"
}

// SessionModel 会话快照 (数据库映射)
type SessionModel struct {
	gorm.Model
	SessionID       string    `gorm:"column:session_id;type:varchar(128);uniqueIndex;not null"`
	BeginString     string    `gorm:"column:begin_string;type:varchar(16);not null"`
	SenderCompID    string    `gorm:"column:sender_comp_id;type:varchar(32);not null"`
	TargetCompID    string    `gorm:"column:target_comp_id;type:varchar(32);not null"`
	State           string    `gorm:"column:state;type:varchar(16)"`
	NextOutboundSeq uint64    `gorm:"column:next_outbound_seq"`
	NextInboundSeq  uint64    `gorm:"column:next_inbound_seq"`
	LastActiveAt    time.Time `gorm:"column:last_active_at"`
}

func (SessionModel) TableName() string {
	return "fix_sessions"
}

func toDomainFrame(m *FrameRecordModel) *domain.FrameRecord {
	return &domain.FrameRecord{
		ID:        m.ID,
		UUID:      m.UUID,
		SessionID: m.SessionID,
		Direction: domain.Direction(m.Direction),
		State:     domain.FrameState(m.State),
		MsgType:   m.MsgType,
		SeqNum:    m.SeqNum,
		RawBytes:  m.RawBytes,
		CreatedAt: m.CreatedAt,
	}
}

func toDomainSession(m *SessionModel) *domain.SessionSnapshot {
	return &domain.SessionSnapshot{
		SessionID:       m.SessionID,
		BeginString:     m.BeginString,
		SenderCompID:    m.SenderCompID,
		TargetCompID:    m.TargetCompID,
		State:           domain.SessionState(m.State),
		NextOutboundSeq: m.NextOutboundSeq,
		NextInboundSeq:  m.NextInboundSeq,
		LastActivityAt:  m.LastActiveAt,
	}
}
