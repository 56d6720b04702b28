package domain

import "time"

// Direction 帧方向
type Direction string

const (
	// DirectionOut 本地发起方到网关
	DirectionOut Direction = "OUT"
	// DirectionIn 网关到本地发起方
	DirectionIn Direction = "IN"
)

// FrameState 帧的记录状态
type FrameState string

const (
	// FrameStateSent 已放行上线
	FrameStateSent FrameState = "SENT"
	// FrameStateIntercepted 被拦截等待操作者处理
	FrameStateIntercepted FrameState = "INTERCEPTED"
)

// InterceptedFrame 拦截队列中的一个工作单元。
// 由中继在每个完整消息边界产出；管理类帧自动消费，
// 应用类帧交由操作者处理，放行前可替换 RawBytes。
type InterceptedFrame struct {
	Direction   Direction
	RawBytes    []byte
	ArrivalTime time.Time
}
