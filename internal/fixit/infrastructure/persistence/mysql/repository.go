package mysql

import (
	"context"
	"errors"

	"github.com/wyfcoding/fixit/internal/fixit/domain"
	"gorm.io/gorm"
)

// GormFrameRepository 帧历史仓储的 GORM 实现
type GormFrameRepository struct {
	db *gorm.DB
}

// NewGormFrameRepository 创建帧历史仓储
func NewGormFrameRepository(db *gorm.DB) domain.FrameRepository {
	return &GormFrameRepository{db: db}
}

// AppendFrame 追加一条帧记录，只写不改
func (r *GormFrameRepository) AppendFrame(ctx context.Context, record *domain.FrameRecord) error {
	model := FrameRecordModel{
		UUID:      record.UUID,
		SessionID: record.SessionID,
		Direction: string(record.Direction),
		State:     string(record.State),
		MsgType:   record.MsgType,
		SeqNum:    record.SeqNum,
		RawBytes:  record.RawBytes,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// ListFrames 按会话倒序列出帧记录
func (r *GormFrameRepository) ListFrames(ctx context.Context, sessionID string, limit int) ([]*domain.FrameRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []FrameRecordModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]*domain.FrameRecord, len(models))
	for i := range models {
		records[i] = toDomainFrame(&models[i])
	}
	return records, nil
}

// GetFrame 按 uuid 取单条帧记录
func (r *GormFrameRepository) GetFrame(ctx context.Context, uuid string) (*domain.FrameRecord, error) {
	var model FrameRecordModel
	if err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&model).Error; err != nil {
		return nil, err
	}
	return toDomainFrame(&model), nil
}

// GormSessionRepository 会话仓储的 GORM 实现
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建会话仓储
func NewGormSessionRepository(db *gorm.DB) domain.SessionRepository {
	return &GormSessionRepository{db: db}
}

// SaveSession 保存会话快照
func (r *GormSessionRepository) SaveSession(ctx context.Context, snapshot domain.SessionSnapshot) error {
	model := SessionModel{
		SessionID:       snapshot.SessionID,
		BeginString:     snapshot.BeginString,
		SenderCompID:    snapshot.SenderCompID,
		TargetCompID:    snapshot.TargetCompID,
		State:           string(snapshot.State),
		NextOutboundSeq: snapshot.NextOutboundSeq,
		NextInboundSeq:  snapshot.NextInboundSeq,
		LastActiveAt:    snapshot.LastActivityAt,
	}

	// 首先尝试查找是否存在记录以获取 ID (用于更新)
	var existing SessionModel
	if err := r.db.WithContext(ctx).Where("session_id = ?", snapshot.SessionID).First(&existing).Error; err == nil {
		model.ID = existing.ID
		model.CreatedAt = existing.CreatedAt
	}

	return r.db.WithContext(ctx).Save(&model).Error
}

// GetSession 按会话标识读取快照
func (r *GormSessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	var model SessionModel
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return toDomainSession(&model), nil
}
