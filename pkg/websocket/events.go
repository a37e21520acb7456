package websocket

import (
	"encoding/json"
	"time"

	"chatrelay/internal/service"
)

// 入站事件
const (
	EventIdentify            = "identify"
	EventHeartbeat           = "heartbeat"
	EventGlobalMessage       = "global_message"
	EventDeleteGlobalMessage = "delete_global_message"
	EventChangeNickname      = "change_nickname"
	EventGetDMPartners       = "get_dm_partners"
	EventLoadDMs             = "load_dms"
	EventSendDM              = "send_dm"
	EventDeleteDM            = "delete_dm"
)

// 出站事件
const (
	EventIdentified           = "identified"
	EventOnlineUsersUpdate    = "online_users_update"
	EventGlobalFeedSnapshot   = "global_feed_snapshot"
	EventNewGlobalMessage     = "new_global_message"
	EventGlobalMessageDeleted = "global_message_deleted"
	EventNicknameChanged      = "nickname_changed"
	EventNicknameCorrected    = "nickname_corrected"
	EventNewDM                = "new_dm"
	EventDMDeleted            = "dm_deleted"
	EventError                = "error"
	EventAck                  = "ack"
)

// Frame 协议帧
// 入站帧带 ack_id 时表示请求/响应语义，服务端恰好回一条同 ack_id 的 ack 帧
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID uint64          `json:"ack_id,omitempty"`
}

// 入站载荷

type identifyRequest struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

type globalMessageRequest struct {
	Body string `json:"body"`
	Kind string `json:"kind"`
}

type deleteGlobalMessageRequest struct {
	MessageID int64  `json:"message_id"`
	SenderID  string `json:"sender_id"`
}

type changeNicknameRequest struct {
	Nickname string `json:"nickname"`
}

type loadDMsRequest struct {
	TargetNickname string `json:"target_nickname"`
}

type sendDMRequest struct {
	ReceiverNickname string `json:"receiver_nickname"`
	Body             string `json:"body"`
	Kind             string `json:"kind"`
}

type deleteDMRequest struct {
	MessageID uint `json:"message_id"`
}

// 出站载荷

type identifiedPayload struct {
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname"`
	Corrected bool   `json:"corrected"`
}

type rosterPayload struct {
	UserIDs []string `json:"user_ids"`
}

type feedSnapshotPayload struct {
	Messages []GlobalMessage `json:"messages"`
}

type globalMessageDeletedPayload struct {
	MessageID int64 `json:"message_id"`
}

type nicknameChangedPayload struct {
	UserID string `json:"user_id"`
	Old    string `json:"old"`
	New    string `json:"new"`
}

type nicknameCorrectedPayload struct {
	Requested string `json:"requested"`
	Effective string `json:"effective"`
}

type dmPayload struct {
	ID               uint      `json:"id"`
	SenderID         string    `json:"sender_id"`
	SenderNickname   string    `json:"sender_nickname"`
	ReceiverID       string    `json:"receiver_id"`
	ReceiverNickname string    `json:"receiver_nickname"`
	Body             string    `json:"body"`
	Kind             string    `json:"kind"`
	SentAt           time.Time `json:"sent_at"`
}

type dmDeletedPayload struct {
	MessageID uint `json:"message_id"`
}

type threadPayload struct {
	PartnerNickname string                  `json:"partner_nickname"`
	Messages        []service.ThreadMessage `json:"messages"`
}

type partnersPayload struct {
	Nicknames []string `json:"nicknames"`
}

type errorPayload struct {
	Reason string `json:"reason"`
}

type ackPayload struct {
	OK     bool        `json:"ok"`
	Data   interface{} `json:"data,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// encodeEvent 编码出站帧，编码失败返回nil（TrySend会忽略nil）
func encodeEvent(event string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	b, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil
	}
	return b
}

// encodeAck 编码请求/响应帧的应答
func encodeAck(ackID uint64, ok bool, data interface{}, reason string) []byte {
	raw, err := json.Marshal(ackPayload{OK: ok, Data: data, Reason: reason})
	if err != nil {
		return nil
	}
	b, err := json.Marshal(Frame{Event: EventAck, Data: raw, AckID: ackID})
	if err != nil {
		return nil
	}
	return b
}
