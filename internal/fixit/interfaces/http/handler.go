// Package http 提供操作者控制面：消息注入、帧审放、会话状态与字典查询。
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/fixit/internal/fixit/application"
	"github.com/wyfcoding/fixit/internal/fixit/domain"
	"github.com/wyfcoding/fixit/pkg/logger"
)

// FixitHandler 控制面 HTTP 处理器
type FixitHandler struct {
	app *application.FixitService // 拦截会话应用服务
}

// NewFixitHandler 创建 HTTP 处理器实例
func NewFixitHandler(app *application.FixitService) *FixitHandler {
	return &FixitHandler{app: app}
}

// RegisterRoutes 注册路由
func (h *FixitHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/fixit")
	{
		api.POST("/messages", h.SubmitMessage)
		api.POST("/messages/expand", h.ExpandMessage)
		api.GET("/queue/head", h.PeekFrame)
		api.POST("/queue/release", h.ReleaseFrame)
		api.POST("/queue/drop", h.DropFrame)
		api.GET("/session", h.SessionState)
		api.POST("/session/reseed", h.Reseed)
		api.POST("/session/logon", h.Logon)
		api.POST("/session/logout", h.Logout)
		api.POST("/session/testrequest", h.TestRequest)
		api.GET("/spec/:begin_string", h.SpecSummary)
		api.GET("/spec/:begin_string/fields/:tag", h.ResolveField)
		api.POST("/orders", h.SendOrder)
		api.POST("/orders/cancel", h.CancelOrder)
		api.POST("/orders/status", h.OrderStatus)
		api.POST("/marketdata", h.SubscribeMarketData)
		api.POST("/fuzz", h.FuzzField)
		api.GET("/history", h.ListFrames)
		api.GET("/history/:uuid", h.GetFrame)
	}
}

// messageRequest 消息提交请求。raw 以可读分隔符 "|" 书写。
type messageRequest struct {
	Raw    string `json:"raw" binding:"required"`
	Repair *bool  `json:"repair"`
}

// SubmitMessage 注入一条消息
func (h *FixitHandler) SubmitMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	repair := true
	if req.Repair != nil {
		repair = *req.Repair
	}

	if err := h.app.SubmitForSend(c.Request.Context(), []byte(req.Raw), domain.PipeDelimiter, repair); err != nil {
		logger.Error(c.Request.Context(), "Failed to submit message", "error", err)
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	Success(c, gin.H{"submitted": true})
}

// ExpandMessage 按字典逐字段展开一条消息
func (h *FixitHandler) ExpandMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	lines, err := h.app.ExpandMessage([]byte(req.Raw), domain.PipeDelimiter)
	if err != nil {
		if errors.Is(err, domain.ErrSpecNotFound) {
			ErrorWithStatus(c, http.StatusNotFound, err.Error())
			return
		}
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	Success(c, lines)
}

// PeekFrame 窥视队首帧，不出队
func (h *FixitHandler) PeekFrame(c *gin.Context) {
	frame, err := h.app.NextFrame(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrQueueEmpty) {
			ErrorWithStatus(c, http.StatusNotFound, "no frame waiting")
			return
		}
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	msg, _ := domain.Parse(frame.RawBytes, domain.SOHDelimiter)
	Success(c, gin.H{
		"direction":    string(frame.Direction),
		"arrival_time": frame.ArrivalTime,
		"raw":          msg.String(),
		"msg_type":     msg.MsgType(),
	})
}

// releaseRequest 放行请求。raw 为空表示按原始字节放行。
type releaseRequest struct {
	Raw    string `json:"raw"`
	Repair *bool  `json:"repair"`
}

// ReleaseFrame 放行队首帧，可携带编辑后的字节
func (h *FixitHandler) ReleaseFrame(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	repair := true
	if req.Repair != nil {
		repair = *req.Repair
	}

	var edited []byte
	if req.Raw != "" {
		// 操作者以可读分隔符编辑，转写回线上分隔符
		msg, _ := domain.Parse([]byte(req.Raw), domain.PipeDelimiter)
		edited = msg.Serialize(domain.SOHDelimiter)
	}

	if err := h.app.ReleaseFrame(c.Request.Context(), edited, repair); err != nil {
		if errors.Is(err, domain.ErrQueueEmpty) {
			ErrorWithStatus(c, http.StatusNotFound, "no frame waiting")
			return
		}
		logger.Error(c.Request.Context(), "Failed to release frame", "error", err)
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	Success(c, gin.H{"released": true})
}

// DropFrame 丢弃队首帧
func (h *FixitHandler) DropFrame(c *gin.Context) {
	if err := h.app.DropFrame(c.Request.Context()); err != nil {
		if errors.Is(err, domain.ErrQueueEmpty) {
			ErrorWithStatus(c, http.StatusNotFound, "no frame waiting")
			return
		}
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	Success(c, gin.H{"dropped": true})
}

// SessionState 返回会话描述符快照
func (h *FixitHandler) SessionState(c *gin.Context) {
	Success(c, h.app.SequenceState())
}

// Reseed 重置序列号种子
func (h *FixitHandler) Reseed(c *gin.Context) {
	h.app.Reseed(c.Request.Context())
	Success(c, h.app.SequenceState())
}

// Logon 注入登录消息
func (h *FixitHandler) Logon(c *gin.Context) {
	if err := h.app.Logon(c.Request.Context()); err != nil {
		logger.Error(c.Request.Context(), "Failed to send logon", "error", err)
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	Success(c, h.app.SequenceState())
}

// logoutRequest 登出请求
type logoutRequest struct {
	Reason string `json:"reason"`
}

// Logout 注入登出消息
func (h *FixitHandler) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.app.Logout(c.Request.Context(), req.Reason); err != nil {
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	Success(c, h.app.SequenceState())
}

// TestRequest 注入测试请求
func (h *FixitHandler) TestRequest(c *gin.Context) {
	if err := h.app.SendTestRequest(c.Request.Context()); err != nil {
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	Success(c, gin.H{"sent": true})
}

// SpecSummary 返回数据字典概要
func (h *FixitHandler) SpecSummary(c *gin.Context) {
	beginString := c.Param("begin_string")
	spec, err := h.app.VersionSpec(beginString)
	if err != nil {
		if errors.Is(err, domain.ErrSpecNotFound) {
			ErrorWithStatus(c, http.StatusNotFound, err.Error())
			return
		}
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	Success(c, gin.H{
		"begin_string": spec.BeginString,
		"field_count":  spec.FieldCount(),
	})
}

// ResolveField 解析字段编号的名称与类型
func (h *FixitHandler) ResolveField(c *gin.Context) {
	beginString := c.Param("begin_string")
	tag, err := strconv.Atoi(c.Param("tag"))
	if err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, "invalid tag")
		return
	}

	spec, err := h.app.VersionSpec(beginString)
	if err != nil {
		if errors.Is(err, domain.ErrSpecNotFound) {
			ErrorWithStatus(c, http.StatusNotFound, err.Error())
			return
		}
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	def := spec.ResolveField(tag)
	Success(c, gin.H{"tag": tag, "name": def.Name, "type": def.Type})
}

// orderRequest 下单请求
type orderRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Side     string `json:"side" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
	Price    string `json:"price" binding:"required"`
}

// SendOrder 按模板下单
func (h *FixitHandler) SendOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, "invalid quantity")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, "invalid price")
		return
	}

	clOrdID, err := h.app.SendOrder(c.Request.Context(), domain.Order{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: qty,
		Price:    price,
	})
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to send order", "error", err)
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	Success(c, gin.H{"cl_ord_id": clOrdID})
}

// CancelOrder 由历史订单派生撤单
func (h *FixitHandler) CancelOrder(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	msg, _ := domain.Parse([]byte(req.Raw), domain.PipeDelimiter)
	clOrdID, err := h.app.CancelOrder(c.Request.Context(), msg.Serialize(domain.SOHDelimiter))
	if err != nil {
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	Success(c, gin.H{"cl_ord_id": clOrdID})
}

// orderStatusRequest 订单状态查询请求
type orderStatusRequest struct {
	ClOrdID string `json:"cl_ord_id" binding:"required"`
	Symbol  string `json:"symbol" binding:"required"`
	Side    string `json:"side" binding:"required"`
}

// OrderStatus 查询订单状态
func (h *FixitHandler) OrderStatus(c *gin.Context) {
	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.app.OrderStatus(c.Request.Context(), req.ClOrdID, req.Symbol, req.Side); err != nil {
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	Success(c, gin.H{"sent": true})
}

// marketDataRequest 行情订阅请求
type marketDataRequest struct {
	Symbols []string `json:"symbols" binding:"required"`
}

// SubscribeMarketData 订阅行情
func (h *FixitHandler) SubscribeMarketData(c *gin.Context) {
	var req marketDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.app.SubscribeMarketData(c.Request.Context(), req.Symbols); err != nil {
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	Success(c, gin.H{"sent": true})
}

// fuzzRequest 字段 fuzz 请求
type fuzzRequest struct {
	Raw    string   `json:"raw" binding:"required"`
	Tag    int      `json:"tag" binding:"required"`
	Values []string `json:"values" binding:"required"`
}

// FuzzField 对模板消息的单个字段做值遍历注入
func (h *FixitHandler) FuzzField(c *gin.Context) {
	var req fuzzRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	msg, _ := domain.Parse([]byte(req.Raw), domain.PipeDelimiter)
	sent, err := h.app.FuzzField(c.Request.Context(), msg.Serialize(domain.SOHDelimiter), req.Tag, req.Values)
	if err != nil {
		logger.Error(c.Request.Context(), "Field fuzz failed", "tag", req.Tag, "sent", sent, "error", err)
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	Success(c, gin.H{"sent": sent})
}

// ListFrames 列出帧历史
func (h *FixitHandler) ListFrames(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "100")
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, "invalid limit")
		return
	}

	records, err := h.app.ListFrames(c.Request.Context(), limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list frames", "error", err)
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	Success(c, records)
}

// GetFrame 获取单条帧记录
func (h *FixitHandler) GetFrame(c *gin.Context) {
	uuid := c.Param("uuid")
	if uuid == "" {
		ErrorWithStatus(c, http.StatusBadRequest, "uuid is required")
		return
	}

	record, err := h.app.GetFrame(c.Request.Context(), uuid)
	if err != nil {
		ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	Success(c, record)
}
