package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatrelay/internal/model"
	"chatrelay/internal/service"
)

// fakeDirectory 脚本化的目录服务
type fakeDirectory struct {
	resolveFn  func(userID, nickname string) (*model.User, bool, error)
	renameFn   func(userID, newNickname string) (*model.User, error)
	partnersFn func(userID string) ([]string, error)
}

func (f *fakeDirectory) ResolveOrCreate(_ context.Context, userID, nickname string) (*model.User, bool, error) {
	return f.resolveFn(userID, nickname)
}

func (f *fakeDirectory) Rename(_ context.Context, userID, newNickname string) (*model.User, error) {
	return f.renameFn(userID, newNickname)
}

func (f *fakeDirectory) ListDMPartnerNicknames(_ context.Context, userID string) ([]string, error) {
	return f.partnersFn(userID)
}

// fakeDMs 脚本化的私聊服务
type fakeDMs struct {
	sendFn   func(senderID, receiverNickname, body, kind string) (*model.DirectMessage, error)
	loadFn   func(userID, partnerNickname string) ([]service.ThreadMessage, *model.User, error)
	deleteFn func(id uint, requesterID string) (*model.DirectMessage, error)
}

func (f *fakeDMs) Send(_ context.Context, senderID, receiverNickname, body, kind string) (*model.DirectMessage, error) {
	return f.sendFn(senderID, receiverNickname, body, kind)
}

func (f *fakeDMs) LoadThreadWith(_ context.Context, userID, partnerNickname string) ([]service.ThreadMessage, *model.User, error) {
	return f.loadFn(userID, partnerNickname)
}

func (f *fakeDMs) DeleteOwned(_ context.Context, id uint, requesterID string) (*model.DirectMessage, error) {
	return f.deleteFn(id, requesterID)
}

// acceptAllDirectory 任何身份都解析成功
func acceptAllDirectory() *fakeDirectory {
	return &fakeDirectory{
		resolveFn: func(userID, nickname string) (*model.User, bool, error) {
			return &model.User{UserID: userID, Nickname: nickname, LastSeen: time.Now()}, false, nil
		},
		renameFn: func(userID, newNickname string) (*model.User, error) {
			return &model.User{UserID: userID, Nickname: newNickname}, nil
		},
		partnersFn: func(userID string) ([]string, error) {
			return nil, nil
		},
	}
}

type sessionEnv struct {
	manager *Manager
	feed    *Feed
	client  *Client
	sess    *Session
}

func newSessionEnv(dir Directory, dms DirectMessages) *sessionEnv {
	manager := NewManager()
	feed := NewFeed(100, manager)
	client := NewClient(nil)
	return &sessionEnv{
		manager: manager,
		feed:    feed,
		client:  client,
		sess:    NewSession(client, manager, feed, dir, dms, time.Second),
	}
}

func mustFrame(t *testing.T, event string, data interface{}, ackID uint64) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	b, err := json.Marshal(Frame{Event: event, Data: raw, AckID: ackID})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return b
}

func (e *sessionEnv) identify(t *testing.T, userID, nickname string) {
	t.Helper()
	e.sess.HandleFrame(mustFrame(t, EventIdentify, identifyRequest{UserID: userID, Nickname: nickname}, 0))
	if e.manager.FindByID(userID) == nil {
		t.Fatal("identify did not join presence")
	}
	drainFrames(t, e.client)
}

func findEvent(frames []Frame, event string) *Frame {
	for i := range frames {
		if frames[i].Event == event {
			return &frames[i]
		}
	}
	return nil
}

func decodeAck(t *testing.T, frames []Frame, ackID uint64) ackPayload {
	t.Helper()
	for _, f := range frames {
		if f.Event == EventAck && f.AckID == ackID {
			var p ackPayload
			if err := json.Unmarshal(f.Data, &p); err != nil {
				t.Fatalf("unmarshal ack: %v", err)
			}
			return p
		}
	}
	t.Fatalf("no ack with id %d in %+v", ackID, frames)
	return ackPayload{}
}

func TestSession_RejectsOpsBeforeIdentify(t *testing.T) {
	env := newSessionEnv(acceptAllDirectory(), &fakeDMs{})

	// 请求/响应事件：回结构化错误
	env.sess.HandleFrame(mustFrame(t, EventSendDM, sendDMRequest{ReceiverNickname: "bob", Body: "hi"}, 7))
	ack := decodeAck(t, drainFrames(t, env.client), 7)
	if ack.OK {
		t.Error("unauthenticated send_dm acked ok")
	}
	if ack.Reason != "未认证" {
		t.Errorf("reason = %q, want 未认证", ack.Reason)
	}

	// fire-and-forget事件：静默丢弃
	env.sess.HandleFrame(mustFrame(t, EventGlobalMessage, globalMessageRequest{Body: "hi"}, 0))
	if env.feed.Len() != 0 {
		t.Error("unauthenticated global_message reached the feed")
	}
	if frames := drainFrames(t, env.client); len(frames) != 0 {
		t.Errorf("unexpected frames %+v for dropped event", frames)
	}
}

func TestSession_IdentifyJoinsAndReplaysFeed(t *testing.T) {
	env := newSessionEnv(acceptAllDirectory(), &fakeDMs{})
	env.feed.Append("seed", "seeder", "earlier message", "text")

	env.sess.HandleFrame(mustFrame(t, EventIdentify, identifyRequest{UserID: "u1", Nickname: "alice"}, 0))

	frames := drainFrames(t, env.client)
	if findEvent(frames, EventOnlineUsersUpdate) == nil {
		t.Error("no roster broadcast after identify")
	}
	idFrame := findEvent(frames, EventIdentified)
	if idFrame == nil {
		t.Fatal("no identified event")
	}
	var idPayload identifiedPayload
	if err := json.Unmarshal(idFrame.Data, &idPayload); err != nil {
		t.Fatalf("unmarshal identified: %v", err)
	}
	if idPayload.UserID != "u1" || idPayload.Nickname != "alice" || idPayload.Corrected {
		t.Errorf("identified payload = %+v", idPayload)
	}
	snapFrame := findEvent(frames, EventGlobalFeedSnapshot)
	if snapFrame == nil {
		t.Fatal("no feed snapshot on first identify")
	}
	var snap feedSnapshotPayload
	if err := json.Unmarshal(snapFrame.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Body != "earlier message" {
		t.Errorf("snapshot = %+v, want the seeded message", snap.Messages)
	}
}

func TestSession_IdentifyCorrectedNickname(t *testing.T) {
	dir := acceptAllDirectory()
	dir.resolveFn = func(userID, nickname string) (*model.User, bool, error) {
		// 请求的昵称被占用，服务端保留库中昵称
		return &model.User{UserID: userID, Nickname: "alice-1"}, true, nil
	}
	env := newSessionEnv(dir, &fakeDMs{})

	env.sess.HandleFrame(mustFrame(t, EventIdentify, identifyRequest{UserID: "u1", Nickname: "alice"}, 0))

	frames := drainFrames(t, env.client)
	corrFrame := findEvent(frames, EventNicknameCorrected)
	if corrFrame == nil {
		t.Fatal("no nickname_corrected event")
	}
	var corr nicknameCorrectedPayload
	if err := json.Unmarshal(corrFrame.Data, &corr); err != nil {
		t.Fatalf("unmarshal corrected: %v", err)
	}
	if corr.Requested != "alice" || corr.Effective != "alice-1" {
		t.Errorf("corrected payload = %+v", corr)
	}
}

func TestSession_ReidentifySameUserIsIdempotent(t *testing.T) {
	env := newSessionEnv(acceptAllDirectory(), &fakeDMs{})
	env.identify(t, "u1", "alice")

	env.sess.HandleFrame(mustFrame(t, EventIdentify, identifyRequest{UserID: "u1", Nickname: "alice"}, 0))

	frames := drainFrames(t, env.client)
	if findEvent(frames, EventGlobalFeedSnapshot) != nil {
		t.Error("repeat identify replayed the feed again")
	}
	if env.manager.Online() != 1 {
		t.Errorf("online count = %d after repeat identify, want 1", env.manager.Online())
	}
}

func TestSession_ReidentifyDifferentUserRejected(t *testing.T) {
	env := newSessionEnv(acceptAllDirectory(), &fakeDMs{})
	env.identify(t, "u1", "alice")

	env.sess.HandleFrame(mustFrame(t, EventIdentify, identifyRequest{UserID: "u2", Nickname: "mallory"}, 9))

	ack := decodeAck(t, drainFrames(t, env.client), 9)
	if ack.OK {
		t.Error("identity rebind acked ok")
	}
	if env.manager.FindByID("u2") != nil {
		t.Error("second identity joined presence")
	}
}

func TestSession_GlobalMessageUsesNicknameSnapshot(t *testing.T) {
	env := newSessionEnv(acceptAllDirectory(), &fakeDMs{})
	env.identify(t, "u1", "alice")

	env.sess.HandleFrame(mustFrame(t, EventGlobalMessage, globalMessageRequest{Body: "hi", Kind: "text"}, 0))

	snap := env.feed.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("feed length = %d, want 1", len(snap))
	}
	if snap[0].SenderID != "u1" || snap[0].SenderNickname != "alice" {
		t.Errorf("message attribution = %s/%s", snap[0].SenderID, snap[0].SenderNickname)
	}
	// 自己也会收到广播
	frames := drainFrames(t, env.client)
	if findEvent(frames, EventNewGlobalMessage) == nil {
		t.Error("sender did not receive the broadcast")
	}
}

func TestSession_DeleteGlobalMessageMismatchedSenderDropped(t *testing.T) {
	env := newSessionEnv(acceptAllDirectory(), &fakeDMs{})
	env.identify(t, "u1", "alice")
	m := env.feed.Append("u1", "alice", "hi", "text")
	drainFrames(t, env.client)

	// 载荷声称的sender_id与会话身份不符，直接丢弃
	env.sess.HandleFrame(mustFrame(t, EventDeleteGlobalMessage, deleteGlobalMessageRequest{MessageID: m.ID, SenderID: "u2"}, 0))
	if env.feed.Len() != 1 {
		t.Error("mismatched delete removed the message")
	}

	env.sess.HandleFrame(mustFrame(t, EventDeleteGlobalMessage, deleteGlobalMessageRequest{MessageID: m.ID, SenderID: "u1"}, 0))
	if env.feed.Len() != 0 {
		t.Error("owner delete did not remove the message")
	}
}

func TestSession_SendDMDeliversToBothLiveParties(t *testing.T) {
	sentAt := time.Now()
	dms := &fakeDMs{
		sendFn: func(senderID, receiverNickname, body, kind string) (*model.DirectMessage, error) {
			return &model.DirectMessage{ID: 42, SenderID: senderID, ReceiverID: "u2", Body: body, Kind: "text", SentAt: sentAt}, nil
		},
	}
	env := newSessionEnv(acceptAllDirectory(), dms)
	env.identify(t, "u1", "alice")

	receiver := NewClient(nil)
	env.manager.Join("u2", "bob", receiver)
	drainFrames(t, env.client)
	drainFrames(t, receiver)

	env.sess.HandleFrame(mustFrame(t, EventSendDM, sendDMRequest{ReceiverNickname: "bob", Body: "hey", Kind: "text"}, 3))

	senderFrames := drainFrames(t, env.client)
	ack := decodeAck(t, senderFrames, 3)
	if !ack.OK {
		t.Fatalf("send_dm ack failed: %s", ack.Reason)
	}
	if findEvent(senderFrames, EventNewDM) == nil {
		t.Error("sender did not receive new_dm")
	}

	recvFrames := drainFrames(t, receiver)
	dmFrame := findEvent(recvFrames, EventNewDM)
	if dmFrame == nil {
		t.Fatal("receiver did not receive new_dm")
	}
	var dm dmPayload
	if err := json.Unmarshal(dmFrame.Data, &dm); err != nil {
		t.Fatalf("unmarshal dm: %v", err)
	}
	if dm.ID != 42 || dm.SenderNickname != "alice" || dm.ReceiverNickname != "bob" {
		t.Errorf("dm payload = %+v", dm)
	}
}

func TestSession_SendDMOfflineReceiverStillPersists(t *testing.T) {
	dms := &fakeDMs{
		sendFn: func(senderID, receiverNickname, body, kind string) (*model.DirectMessage, error) {
			return &model.DirectMessage{ID: 1, SenderID: senderID, ReceiverID: "u2", Body: body, Kind: "text", SentAt: time.Now()}, nil
		},
	}
	env := newSessionEnv(acceptAllDirectory(), dms)
	env.identify(t, "u1", "alice")

	env.sess.HandleFrame(mustFrame(t, EventSendDM, sendDMRequest{ReceiverNickname: "bob", Body: "hey"}, 5))

	frames := drainFrames(t, env.client)
	if !decodeAck(t, frames, 5).OK {
		t.Error("offline receiver failed the send")
	}
	if findEvent(frames, EventNewDM) == nil {
		t.Error("sender did not get the echo delivery")
	}
}

func TestSession_SendDMRecipientNotFound(t *testing.T) {
	dms := &fakeDMs{
		sendFn: func(senderID, receiverNickname, body, kind string) (*model.DirectMessage, error) {
			return nil, service.ErrRecipientNotFound
		},
	}
	env := newSessionEnv(acceptAllDirectory(), dms)
	env.identify(t, "u1", "alice")

	env.sess.HandleFrame(mustFrame(t, EventSendDM, sendDMRequest{ReceiverNickname: "ghost", Body: "hey"}, 4))

	ack := decodeAck(t, drainFrames(t, env.client), 4)
	if ack.OK {
		t.Error("send to unknown recipient acked ok")
	}
	if ack.Reason != "收件人不存在" {
		t.Errorf("reason = %q", ack.Reason)
	}
}

func TestSession_ChangeNicknameBroadcasts(t *testing.T) {
	env := newSessionEnv(acceptAllDirectory(), &fakeDMs{})
	env.identify(t, "u1", "alice")

	env.sess.HandleFrame(mustFrame(t, EventChangeNickname, changeNicknameRequest{Nickname: "alicia"}, 11))

	frames := drainFrames(t, env.client)
	if !decodeAck(t, frames, 11).OK {
		t.Fatal("rename ack failed")
	}
	changed := findEvent(frames, EventNicknameChanged)
	if changed == nil {
		t.Fatal("no nickname_changed broadcast")
	}
	var p nicknameChangedPayload
	if err := json.Unmarshal(changed.Data, &p); err != nil {
		t.Fatalf("unmarshal nickname_changed: %v", err)
	}
	if p.Old != "alice" || p.New != "alicia" {
		t.Errorf("nickname_changed = %+v", p)
	}
	// 名册副本同步
	if env.manager.FindByNickname("alicia") == nil {
		t.Error("presence nickname not updated")
	}

	// 改名后发全局消息用新昵称做快照
	env.sess.HandleFrame(mustFrame(t, EventGlobalMessage, globalMessageRequest{Body: "after"}, 0))
	snap := env.feed.Snapshot()
	if snap[len(snap)-1].SenderNickname != "alicia" {
		t.Error("global message after rename kept the old nickname")
	}
}

func TestSession_ChangeNicknameErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason string
	}{
		{"rate limited", service.ErrRateLimited, "改名过于频繁，请稍后再试"},
		{"taken", service.ErrNicknameTaken, "昵称已被占用"},
		{"unchanged", service.ErrNicknameUnchanged, "昵称未变化"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := acceptAllDirectory()
			dir.renameFn = func(userID, newNickname string) (*model.User, error) {
				return nil, tc.err
			}
			env := newSessionEnv(dir, &fakeDMs{})
			env.identify(t, "u1", "alice")

			env.sess.HandleFrame(mustFrame(t, EventChangeNickname, changeNicknameRequest{Nickname: "x"}, 2))

			ack := decodeAck(t, drainFrames(t, env.client), 2)
			if ack.OK {
				t.Error("failed rename acked ok")
			}
			if ack.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", ack.Reason, tc.reason)
			}
		})
	}
}

func TestSession_DeleteDMNotifiesBothParties(t *testing.T) {
	dms := &fakeDMs{
		deleteFn: func(id uint, requesterID string) (*model.DirectMessage, error) {
			return &model.DirectMessage{ID: id, SenderID: "u1", ReceiverID: "u2"}, nil
		},
	}
	env := newSessionEnv(acceptAllDirectory(), dms)
	env.identify(t, "u1", "alice")

	receiver := NewClient(nil)
	env.manager.Join("u2", "bob", receiver)
	drainFrames(t, env.client)
	drainFrames(t, receiver)

	env.sess.HandleFrame(mustFrame(t, EventDeleteDM, deleteDMRequest{MessageID: 42}, 6))

	if !decodeAck(t, drainFrames(t, env.client), 6).OK {
		t.Fatal("delete_dm ack failed")
	}
	recvFrames := drainFrames(t, receiver)
	delFrame := findEvent(recvFrames, EventDMDeleted)
	if delFrame == nil {
		t.Fatal("receiver did not get dm_deleted")
	}
	var p dmDeletedPayload
	if err := json.Unmarshal(delFrame.Data, &p); err != nil {
		t.Fatalf("unmarshal dm_deleted: %v", err)
	}
	if p.MessageID != 42 {
		t.Errorf("deleted id = %d, want 42", p.MessageID)
	}
}

func TestSession_DeleteDMNonPartyGetsNotFound(t *testing.T) {
	dms := &fakeDMs{
		deleteFn: func(id uint, requesterID string) (*model.DirectMessage, error) {
			return nil, service.ErrNotFound
		},
	}
	env := newSessionEnv(acceptAllDirectory(), dms)
	env.identify(t, "u3", "eve")

	env.sess.HandleFrame(mustFrame(t, EventDeleteDM, deleteDMRequest{MessageID: 42}, 8))

	ack := decodeAck(t, drainFrames(t, env.client), 8)
	if ack.OK {
		t.Error("non-party delete acked ok")
	}
	// 无权限和不存在是同一个提示，不泄露消息是否存在
	if ack.Reason != "消息不存在" {
		t.Errorf("reason = %q", ack.Reason)
	}
}

func TestSession_CloseLeavesPresence(t *testing.T) {
	env := newSessionEnv(acceptAllDirectory(), &fakeDMs{})
	env.identify(t, "u1", "alice")

	observer := NewClient(nil)
	env.manager.Join("u2", "bob", observer)
	drainFrames(t, observer)

	env.sess.Close()

	if env.manager.FindByID("u1") != nil {
		t.Error("presence entry survived session close")
	}
	roster := lastRoster(t, drainFrames(t, observer))
	if len(roster) != 1 || roster[0] != "u2" {
		t.Errorf("roster after close = %v, want [u2]", roster)
	}

	// 会话关闭后的帧全部忽略
	env.sess.HandleFrame(mustFrame(t, EventGlobalMessage, globalMessageRequest{Body: "late"}, 0))
	if env.feed.Len() != 0 {
		t.Error("closed session still appended to the feed")
	}
}

func TestSession_MalformedFramesDropped(t *testing.T) {
	env := newSessionEnv(acceptAllDirectory(), &fakeDMs{})
	env.identify(t, "u1", "alice")

	env.sess.HandleFrame([]byte("not json at all"))
	env.sess.HandleFrame(mustFrame(t, EventGlobalMessage, map[string]int{"body": 3}, 0))
	env.sess.HandleFrame(mustFrame(t, EventGlobalMessage, globalMessageRequest{Body: "   "}, 0))

	if env.feed.Len() != 0 {
		t.Error("malformed frame reached the feed")
	}
}
