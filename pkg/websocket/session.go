package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"chatrelay/internal/model"
	"chatrelay/internal/service"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/metrics"
	"chatrelay/pkg/redis"

	"go.uber.org/zap"
)

// 会话状态机：Anonymous -> Identified -> Closed
type sessionState int

const (
	stateAnonymous sessionState = iota
	stateIdentified
	stateClosed
)

// Directory 会话依赖的用户目录能力，由 service.DirectoryService 实现
type Directory interface {
	ResolveOrCreate(ctx context.Context, userID, requestedNickname string) (*model.User, bool, error)
	Rename(ctx context.Context, userID, newNickname string) (*model.User, error)
	ListDMPartnerNicknames(ctx context.Context, userID string) ([]string, error)
}

// DirectMessages 会话依赖的私聊能力，由 service.DMService 实现
type DirectMessages interface {
	Send(ctx context.Context, senderID, receiverNickname, body, kind string) (*model.DirectMessage, error)
	LoadThreadWith(ctx context.Context, userID, partnerNickname string) ([]service.ThreadMessage, *model.User, error)
	DeleteOwned(ctx context.Context, id uint, requesterID string) (*model.DirectMessage, error)
}

// Session 把一条物理连接绑定到至多一个逻辑身份，并路由所有入站事件
// 绑定只发生一次：Identified 态上的重复 identify 是幂等对齐而不是二次绑定
// 所有带 ack_id 的事件恰好应答一次；fire-and-forget 事件出错时静默丢弃

type Session struct {
	client    *Client
	manager   *Manager
	feed      *Feed
	directory Directory
	dms       DirectMessages

	queryTimeout time.Duration

	state    sessionState
	userID   string
	nickname string
}

// NewSession 创建Session实例
func NewSession(client *Client, manager *Manager, feed *Feed, directory Directory, dms DirectMessages, queryTimeout time.Duration) *Session {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &Session{
		client:       client,
		manager:      manager,
		feed:         feed,
		directory:    directory,
		dms:          dms,
		queryTimeout: queryTimeout,
		state:        stateAnonymous,
	}
}

// HandleFrame 处理一条入站帧
// 格式非法的帧直接丢弃；未认证会话上的业务事件按请求/响应与否
// 分别回结构化错误或静默丢弃，绝不断开连接
func (s *Session) HandleFrame(raw []byte) {
	if s.state == stateClosed {
		return
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		logger.Debug("丢弃非法帧", zap.Error(err))
		return
	}

	switch frame.Event {
	case EventIdentify:
		s.handleIdentify(frame)
	case EventHeartbeat:
		s.handleHeartbeat()
	case EventGlobalMessage:
		if s.requireIdentified(frame) {
			s.handleGlobalMessage(frame)
		}
	case EventDeleteGlobalMessage:
		if s.requireIdentified(frame) {
			s.handleDeleteGlobalMessage(frame)
		}
	case EventChangeNickname:
		if s.requireIdentified(frame) {
			s.handleChangeNickname(frame)
		}
	case EventGetDMPartners:
		if s.requireIdentified(frame) {
			s.handleGetDMPartners(frame)
		}
	case EventLoadDMs:
		if s.requireIdentified(frame) {
			s.handleLoadDMs(frame)
		}
	case EventSendDM:
		if s.requireIdentified(frame) {
			s.handleSendDM(frame)
		}
	case EventDeleteDM:
		if s.requireIdentified(frame) {
			s.handleDeleteDM(frame)
		}
	default:
		logger.Debug("未知事件", zap.String("event", frame.Event))
	}
}

// Close 会话终止：退出在线名册并广播新名册
func (s *Session) Close() {
	if s.state == stateIdentified {
		s.manager.Leave(s.userID, s.client)
		_ = redis.SetUserPresence(s.userID, s.nickname, "offline")
		metrics.WsConnections.Dec()
	}
	s.state = stateClosed
}

// requireIdentified 业务事件的认证门禁
func (s *Session) requireIdentified(frame Frame) bool {
	if s.state == stateIdentified {
		return true
	}
	if frame.AckID != 0 {
		s.client.TrySend(encodeAck(frame.AckID, false, nil, "未认证"))
	} else {
		logger.Debug("丢弃未认证事件", zap.String("event", frame.Event))
	}
	return false
}

// fail 统一的失败应答：请求/响应事件回ack，其余回error事件或丢弃
func (s *Session) fail(frame Frame, reason string) {
	if frame.AckID != 0 {
		s.client.TrySend(encodeAck(frame.AckID, false, nil, reason))
		return
	}
	s.client.TrySend(encodeEvent(EventError, errorPayload{Reason: reason}))
}

func (s *Session) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.queryTimeout)
}

// handleIdentify 身份确立
// 首次成功后进入 Identified 态并加入在线名册、回放全局消息
// 已认证会话上带不同 user_id 的重复 identify 被拒绝
func (s *Session) handleIdentify(frame Frame) {
	var req identifyRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		s.fail(frame, "参数格式错误")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Nickname = strings.TrimSpace(req.Nickname)
	if req.UserID == "" || req.Nickname == "" {
		s.fail(frame, "user_id和nickname不能为空")
		return
	}
	if s.state == stateIdentified && req.UserID != s.userID {
		s.fail(frame, "连接已绑定其他身份")
		return
	}

	ctx, cancel := s.storeCtx()
	user, corrected, err := s.directory.ResolveOrCreate(ctx, req.UserID, req.Nickname)
	cancel()
	if err != nil {
		s.fail(frame, s.reasonFor(err))
		return
	}

	first := s.state == stateAnonymous
	s.state = stateIdentified
	s.userID = user.UserID
	s.nickname = user.Nickname
	s.client.UserID = user.UserID

	if first {
		s.manager.Join(user.UserID, user.Nickname, s.client)
		metrics.WsConnections.Inc()
	} else {
		// 幂等对齐：只同步昵称副本
		s.manager.UpdateNickname(user.UserID, user.Nickname)
	}
	_ = redis.SetUserPresence(user.UserID, user.Nickname, "online")

	payload := identifiedPayload{UserID: user.UserID, Nickname: user.Nickname, Corrected: corrected}
	s.client.TrySend(encodeEvent(EventIdentified, payload))
	if frame.AckID != 0 {
		s.client.TrySend(encodeAck(frame.AckID, true, payload, ""))
	}
	if corrected {
		// 请求的昵称与他人冲突，告知客户端服务端实际生效的昵称
		s.client.TrySend(encodeEvent(EventNicknameCorrected, nicknameCorrectedPayload{
			Requested: req.Nickname,
			Effective: user.Nickname,
		}))
	}
	if first {
		s.client.TrySend(encodeEvent(EventGlobalFeedSnapshot, feedSnapshotPayload{Messages: s.feed.Snapshot()}))
	}
}

// handleHeartbeat 心跳：刷新Redis在线镜像的TTL（读超时由传输层刷新）
func (s *Session) handleHeartbeat() {
	if s.state != stateIdentified {
		return
	}
	_ = redis.RefreshUserPresence(s.userID)
}

// handleGlobalMessage 追加全局消息（fire-and-forget）
func (s *Session) handleGlobalMessage(frame Frame) {
	var req globalMessageRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || strings.TrimSpace(req.Body) == "" {
		return
	}
	// 昵称取发送时刻的快照
	s.feed.Append(s.userID, s.nickname, req.Body, model.ValidKind(req.Kind))
}

// handleDeleteGlobalMessage 删除自己的全局消息（fire-and-forget）
// 载荷里的 sender_id 与会话身份不一致时直接丢弃
func (s *Session) handleDeleteGlobalMessage(frame Frame) {
	var req deleteGlobalMessageRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.MessageID == 0 {
		return
	}
	if req.SenderID != "" && req.SenderID != s.userID {
		return
	}
	s.feed.DeleteIfOwned(req.MessageID, s.userID)
}

// handleChangeNickname 显式改名（请求/响应）
// 成功后依次：同步名册副本并广播名册、广播 nickname_changed、应答
func (s *Session) handleChangeNickname(frame Frame) {
	var req changeNicknameRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || strings.TrimSpace(req.Nickname) == "" {
		s.fail(frame, "参数格式错误")
		return
	}

	ctx, cancel := s.storeCtx()
	user, err := s.directory.Rename(ctx, s.userID, req.Nickname)
	cancel()
	if err != nil {
		s.fail(frame, s.reasonFor(err))
		return
	}

	old := s.nickname
	s.nickname = user.Nickname
	s.manager.UpdateNickname(user.UserID, user.Nickname)
	s.manager.Broadcast(encodeEvent(EventNicknameChanged, nicknameChangedPayload{
		UserID: user.UserID,
		Old:    old,
		New:    user.Nickname,
	}))
	_ = redis.SetUserPresence(user.UserID, user.Nickname, "online")

	if frame.AckID != 0 {
		s.client.TrySend(encodeAck(frame.AckID, true, identifiedPayload{UserID: user.UserID, Nickname: user.Nickname}, ""))
	}
}

// handleGetDMPartners 私聊往来对象列表（请求/响应）
func (s *Session) handleGetDMPartners(frame Frame) {
	ctx, cancel := s.storeCtx()
	nicknames, err := s.directory.ListDMPartnerNicknames(ctx, s.userID)
	cancel()
	if err != nil {
		s.fail(frame, s.reasonFor(err))
		return
	}
	if frame.AckID != 0 {
		s.client.TrySend(encodeAck(frame.AckID, true, partnersPayload{Nicknames: nicknames}, ""))
	}
}

// handleLoadDMs 拉取与某昵称的完整会话（请求/响应）
func (s *Session) handleLoadDMs(frame Frame) {
	var req loadDMsRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || strings.TrimSpace(req.TargetNickname) == "" {
		s.fail(frame, "参数格式错误")
		return
	}

	ctx, cancel := s.storeCtx()
	messages, partner, err := s.dms.LoadThreadWith(ctx, s.userID, req.TargetNickname)
	cancel()
	if err != nil {
		s.fail(frame, s.reasonFor(err))
		return
	}
	if frame.AckID != 0 {
		s.client.TrySend(encodeAck(frame.AckID, true, threadPayload{
			PartnerNickname: partner.Nickname,
			Messages:        messages,
		}, ""))
	}
}

// handleSendDM 发送私聊（请求/响应）
// 消息先落库；投递给发送方自己，接收方在线才推送（离线即存储转发）
func (s *Session) handleSendDM(frame Frame) {
	var req sendDMRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || strings.TrimSpace(req.Body) == "" {
		s.fail(frame, "参数格式错误")
		return
	}

	ctx, cancel := s.storeCtx()
	message, err := s.dms.Send(ctx, s.userID, req.ReceiverNickname, req.Body, req.Kind)
	cancel()
	if err != nil {
		s.fail(frame, s.reasonFor(err))
		return
	}
	metrics.DirectMessagesTotal.Inc()

	payload := dmPayload{
		ID:               message.ID,
		SenderID:         message.SenderID,
		SenderNickname:   s.nickname,
		ReceiverID:       message.ReceiverID,
		ReceiverNickname: strings.TrimSpace(req.ReceiverNickname),
		Body:             message.Body,
		Kind:             message.Kind,
		SentAt:           message.SentAt,
	}
	encoded := encodeEvent(EventNewDM, payload)
	s.client.TrySend(encoded)
	if receiver := s.manager.FindByID(message.ReceiverID); receiver != nil && receiver != s.client {
		receiver.TrySend(encoded)
	}

	if frame.AckID != 0 {
		s.client.TrySend(encodeAck(frame.AckID, true, payload, ""))
	}
}

// handleDeleteDM 删除一条私聊（请求/响应）
// 成功后通知双方的在线连接
func (s *Session) handleDeleteDM(frame Frame) {
	var req deleteDMRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.MessageID == 0 {
		s.fail(frame, "参数格式错误")
		return
	}

	ctx, cancel := s.storeCtx()
	message, err := s.dms.DeleteOwned(ctx, req.MessageID, s.userID)
	cancel()
	if err != nil {
		s.fail(frame, s.reasonFor(err))
		return
	}

	encoded := encodeEvent(EventDMDeleted, dmDeletedPayload{MessageID: message.ID})
	for _, id := range []string{message.SenderID, message.ReceiverID} {
		if c := s.manager.FindByID(id); c != nil {
			c.TrySend(encoded)
		}
	}

	if frame.AckID != 0 {
		s.client.TrySend(encodeAck(frame.AckID, true, dmDeletedPayload{MessageID: message.ID}, ""))
	}
}

// reasonFor 把业务错误映射成给客户端的提示
// 其余错误一律按存储故障处理：记日志，回笼统提示，不区分细节
func (s *Session) reasonFor(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return "参数格式错误"
	case errors.Is(err, service.ErrNicknameTaken):
		return "昵称已被占用"
	case errors.Is(err, service.ErrNicknameUnchanged):
		return "昵称未变化"
	case errors.Is(err, service.ErrRateLimited):
		return "改名过于频繁，请稍后再试"
	case errors.Is(err, service.ErrRecipientNotFound):
		return "收件人不存在"
	case errors.Is(err, service.ErrNotFound):
		return "消息不存在"
	default:
		logger.Error("存储操作失败",
			zap.String("user_id", s.userID),
			zap.Error(err),
		)
		return "服务暂时不可用"
	}
}
