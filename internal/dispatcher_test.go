package internal_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/koopa0/neonchat/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink 測試用的出站通道，記錄所有投遞的訊框
type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *fakeSink) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames = append(s.frames, data)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// messages 解碼所有已收到的訊框
func (s *fakeSink) messages(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	decoded := make([]map[string]any, 0, len(s.frames))
	for _, frame := range s.frames {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(frame, &msg))
		decoded = append(decoded, msg)
	}
	return decoded
}

// byType 過濾指定類型的訊框
func (s *fakeSink) byType(t *testing.T, msgType string) []map[string]any {
	t.Helper()
	var matched []map[string]any
	for _, msg := range s.messages(t) {
		if msg["type"] == msgType {
			matched = append(matched, msg)
		}
	}
	return matched
}

// frameCount 已收到的訊框數
func (s *fakeSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// coordinator 組裝完整的協調器供場景測試使用
type coordinator struct {
	registry   *internal.Registry
	match      *internal.Matchmaker
	rooms      *internal.RoomService
	dispatcher *internal.Dispatcher
}

func newCoordinator() *coordinator {
	logger := testLogger()
	registry := internal.NewRegistry(logger)
	match := internal.NewMatchmaker(logger)
	rooms := internal.NewRoomService(logger)
	bcast := internal.NewBroadcaster(registry, rooms, logger)

	return &coordinator{
		registry:   registry,
		match:      match,
		rooms:      rooms,
		dispatcher: internal.NewDispatcher(registry, match, rooms, bcast, logger),
	}
}

// connect 建立連接並完成 REGISTER
func (c *coordinator) connect(t *testing.T, nickname string) (string, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	id := c.registry.Add(sink)
	c.send(t, id, map[string]any{
		"type":     internal.TypeRegister,
		"nickname": nickname,
		"avatar":   nickname + ".png",
	})
	return id, sink
}

// send 編碼並投遞一個入站訊框
func (c *coordinator) send(t *testing.T, id string, msg map[string]any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	c.dispatcher.HandleMessage(id, raw)
}

// TestDispatcher_Register 測試註冊流程
func TestDispatcher_Register(t *testing.T) {
	c := newCoordinator()

	idA, sinkA := c.connect(t, "小明")

	// 回覆 REGISTERED{id}
	registered := sinkA.byType(t, internal.TypeRegistered)
	require.Len(t, registered, 1)
	assert.Equal(t, idA, registered[0]["id"])

	// 廣播在線人數
	counts := sinkA.byType(t, internal.TypeOnlineCount)
	require.Len(t, counts, 1)
	assert.EqualValues(t, 1, counts[0]["count"])

	// 第二人註冊後雙方都收到新的在線人數
	_, sinkB := c.connect(t, "小華")
	counts = sinkA.byType(t, internal.TypeOnlineCount)
	require.Len(t, counts, 2)
	assert.EqualValues(t, 2, counts[1]["count"])

	counts = sinkB.byType(t, internal.TypeOnlineCount)
	require.Len(t, counts, 1)
	assert.EqualValues(t, 2, counts[0]["count"])
}

// TestDispatcher_MatchScenario 測試配對與私聊場景
//
// A、B 註冊後都開始配對 → 雙方收到引用對方 id 的 MATCH_FOUND；
// A 發送 "hi" → B 收到 MESSAGE_RECEIVED，A 不會收到（服務器不回送）。
func TestDispatcher_MatchScenario(t *testing.T) {
	c := newCoordinator()

	idA, sinkA := c.connect(t, "小明")
	idB, sinkB := c.connect(t, "小華")

	c.send(t, idA, map[string]any{"type": internal.TypeStartMatching})
	assert.Empty(t, sinkA.byType(t, internal.TypeMatchFound), "單人排隊不應配對")

	c.send(t, idB, map[string]any{"type": internal.TypeStartMatching})

	// 雙方都收到 MATCH_FOUND，且互相引用對方
	foundA := sinkA.byType(t, internal.TypeMatchFound)
	require.Len(t, foundA, 1)
	partnerOfA := foundA[0]["partner"].(map[string]any)
	assert.Equal(t, idB, partnerOfA["id"])
	assert.Equal(t, "小華", partnerOfA["nickname"])
	assert.Equal(t, "小華.png", partnerOfA["avatar"])

	foundB := sinkB.byType(t, internal.TypeMatchFound)
	require.Len(t, foundB, 1)
	assert.Equal(t, idA, foundB[0]["partner"].(map[string]any)["id"])

	// 私聊只投遞給對方
	c.send(t, idA, map[string]any{"type": internal.TypeSendMessage, "text": "hi"})

	received := sinkB.byType(t, internal.TypeMessageReceived)
	require.Len(t, received, 1)
	assert.Equal(t, idA, received[0]["senderId"])
	assert.Equal(t, "hi", received[0]["text"])
	assert.NotZero(t, received[0]["timestamp"])

	assert.Empty(t, sinkA.byType(t, internal.TypeMessageReceived), "發送者不應收到自己的私聊訊息")
}

// TestDispatcher_MessageWithoutPartner 測試無配對時發私聊
func TestDispatcher_MessageWithoutPartner(t *testing.T) {
	c := newCoordinator()

	idA, sinkA := c.connect(t, "小明")
	_, sinkB := c.connect(t, "小華")

	before := sinkA.frameCount() + sinkB.frameCount()
	c.send(t, idA, map[string]any{"type": internal.TypeSendMessage, "text": "hello?"})

	// 無操作：任何人都不會收到訊息或錯誤
	assert.Equal(t, before, sinkA.frameCount()+sinkB.frameCount())
}

// TestDispatcher_DisconnectChat 測試主動解除配對
func TestDispatcher_DisconnectChat(t *testing.T) {
	c := newCoordinator()

	idA, sinkA := c.connect(t, "小明")
	idB, sinkB := c.connect(t, "小華")
	c.send(t, idA, map[string]any{"type": internal.TypeStartMatching})
	c.send(t, idB, map[string]any{"type": internal.TypeStartMatching})

	c.send(t, idA, map[string]any{"type": internal.TypeDisconnectChat})

	assert.Len(t, sinkB.byType(t, internal.TypePartnerDisconnected), 1)
	assert.Empty(t, sinkA.byType(t, internal.TypePartnerDisconnected), "發起方不會收到通知")

	// 冪等：重複解除不產生新通知
	c.send(t, idA, map[string]any{"type": internal.TypeDisconnectChat})
	c.send(t, idB, map[string]any{"type": internal.TypeDisconnectChat})
	assert.Len(t, sinkB.byType(t, internal.TypePartnerDisconnected), 1)
	assert.Empty(t, sinkA.byType(t, internal.TypePartnerDisconnected))
}

// TestDispatcher_RoomScenario 測試房間場景
//
// 創建 maxSize=2 的房間 → 創建者自動加入；第二人加入 → 加入者收到
// 完整成員列表、創建者收到 USER_JOINED；第三人加入 → 只有第三人
// 收到「房間已滿」錯誤，成員不變。
func TestDispatcher_RoomScenario(t *testing.T) {
	c := newCoordinator()

	idA, sinkA := c.connect(t, "創建者")
	idB, sinkB := c.connect(t, "成員")
	idC, sinkC := c.connect(t, "遲到者")

	// 創建並自動加入
	c.send(t, idA, map[string]any{"type": internal.TypeCreateRoom, "name": "Test", "maxSize": 2})

	joinedA := sinkA.byType(t, internal.TypeRoomJoined)
	require.Len(t, joinedA, 1)
	room := joinedA[0]["room"].(map[string]any)
	assert.Equal(t, "Test", room["name"])
	assert.Equal(t, idA, room["creator"])
	assert.EqualValues(t, 2, room["maxSize"])

	members := joinedA[0]["members"].([]any)
	require.Len(t, members, 1)
	creator := members[0].(map[string]any)
	assert.Equal(t, idA, creator["id"])
	assert.Equal(t, true, creator["isCreator"])

	// 所有連接都收到房間列表更新
	for _, sink := range []*fakeSink{sinkA, sinkB, sinkC} {
		updates := sink.byType(t, internal.TypeRoomListUpdate)
		require.Len(t, updates, 1)
		rooms := updates[0]["rooms"].([]any)
		require.Len(t, rooms, 1)
		assert.EqualValues(t, 1, rooms[0].(map[string]any)["currentSize"])
	}

	roomID := room["id"].(string)

	// 第二人加入
	c.send(t, idB, map[string]any{"type": internal.TypeJoinRoom, "roomId": roomID})

	joinedB := sinkB.byType(t, internal.TypeRoomJoined)
	require.Len(t, joinedB, 1)
	assert.Len(t, joinedB[0]["members"].([]any), 2)

	userJoined := sinkA.byType(t, internal.TypeUserJoined)
	require.Len(t, userJoined, 1)
	joiner := userJoined[0]["user"].(map[string]any)
	assert.Equal(t, idB, joiner["id"])
	assert.Equal(t, false, joiner["isCreator"])
	assert.Empty(t, sinkB.byType(t, internal.TypeUserJoined), "加入者本人不收 USER_JOINED")

	// 第三人加入已滿的房間
	c.send(t, idC, map[string]any{"type": internal.TypeJoinRoom, "roomId": roomID})

	errs := sinkC.byType(t, internal.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, internal.ErrRoomFull.Error(), errs[0]["message"])
	assert.Empty(t, sinkC.byType(t, internal.TypeRoomJoined))
	assert.Empty(t, sinkA.byType(t, internal.TypeError), "錯誤只回給發起者")

	// 成員不變
	c.send(t, idC, map[string]any{"type": internal.TypeGetRooms})
	list := sinkC.byType(t, internal.TypeRoomList)
	require.Len(t, list, 1)
	assert.EqualValues(t, 2, list[0]["rooms"].([]any)[0].(map[string]any)["currentSize"])
}

// TestDispatcher_CreateRoomValidation 測試房間創建驗證
func TestDispatcher_CreateRoomValidation(t *testing.T) {
	c := newCoordinator()

	idA, sinkA := c.connect(t, "小明")
	_, sinkB := c.connect(t, "小華")

	// 名稱非法：錯誤只回發起者，不廣播任何更新
	c.send(t, idA, map[string]any{"type": internal.TypeCreateRoom, "name": "   ", "maxSize": 4})

	errs := sinkA.byType(t, internal.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, internal.ErrInvalidRoomName.Error(), errs[0]["message"])
	assert.Empty(t, sinkA.byType(t, internal.TypeRoomJoined))
	assert.Empty(t, sinkB.byType(t, internal.TypeRoomListUpdate))

	// 加入不存在的房間
	c.send(t, idA, map[string]any{"type": internal.TypeJoinRoom, "roomId": "no-such-room"})
	errs = sinkA.byType(t, internal.TypeError)
	require.Len(t, errs, 2)
	assert.Equal(t, internal.ErrRoomNotFound.Error(), errs[1]["message"])
}

// TestDispatcher_LeaveRoom 測試離開房間
func TestDispatcher_LeaveRoom(t *testing.T) {
	t.Run("remaining members get USER_LEFT", func(t *testing.T) {
		c := newCoordinator()
		idA, _ := c.connect(t, "創建者")
		idB, sinkB := c.connect(t, "成員")

		c.send(t, idA, map[string]any{"type": internal.TypeCreateRoom, "name": "Test", "maxSize": 4})
		roomID := c.mustRoomOf(t, idA)
		c.send(t, idB, map[string]any{"type": internal.TypeJoinRoom, "roomId": roomID})

		c.send(t, idA, map[string]any{"type": internal.TypeLeaveRoom})

		left := sinkB.byType(t, internal.TypeUserLeft)
		require.Len(t, left, 1)
		assert.Equal(t, idA, left[0]["userId"])
		assert.Equal(t, "創建者", left[0]["nickname"])
	})

	t.Run("sole member leaving destroys room for all observers", func(t *testing.T) {
		c := newCoordinator()
		idA, _ := c.connect(t, "創建者")
		idB, sinkB := c.connect(t, "旁觀者")

		c.send(t, idA, map[string]any{"type": internal.TypeCreateRoom, "name": "Test", "maxSize": 4})
		c.send(t, idA, map[string]any{"type": internal.TypeLeaveRoom})

		c.send(t, idB, map[string]any{"type": internal.TypeGetRooms})
		list := sinkB.byType(t, internal.TypeRoomList)
		require.Len(t, list, 1)
		assert.Empty(t, list[0]["rooms"], "銷毀的房間不得出現在後續列表中")
	})

	t.Run("leave while not in a room is a no-op", func(t *testing.T) {
		c := newCoordinator()
		idA, sinkA := c.connect(t, "小明")

		before := sinkA.frameCount()
		c.send(t, idA, map[string]any{"type": internal.TypeLeaveRoom})
		assert.Equal(t, before, sinkA.frameCount())
	})
}

// TestDispatcher_RoomMessage 測試房間訊息
func TestDispatcher_RoomMessage(t *testing.T) {
	c := newCoordinator()

	idA, sinkA := c.connect(t, "創建者")
	idB, sinkB := c.connect(t, "成員")
	idC, sinkC := c.connect(t, "局外人")

	c.send(t, idA, map[string]any{"type": internal.TypeCreateRoom, "name": "Test", "maxSize": 4})
	roomID := c.mustRoomOf(t, idA)
	c.send(t, idB, map[string]any{"type": internal.TypeJoinRoom, "roomId": roomID})

	c.send(t, idA, map[string]any{"type": internal.TypeSendRoomMessage, "text": "大家好"})

	// 回送給包含發送者在內的所有成員，附帶發送者資料快照
	for _, sink := range []*fakeSink{sinkA, sinkB} {
		received := sink.byType(t, internal.TypeRoomMessageReceived)
		require.Len(t, received, 1)
		assert.Equal(t, idA, received[0]["senderId"])
		assert.Equal(t, "大家好", received[0]["text"])
		sender := received[0]["sender"].(map[string]any)
		assert.Equal(t, "創建者", sender["nickname"])
		assert.NotZero(t, received[0]["timestamp"])
	}
	assert.Empty(t, sinkC.byType(t, internal.TypeRoomMessageReceived), "非成員不得收到房間訊息")

	// 不在房間中發房間訊息是無操作
	before := sinkA.frameCount() + sinkB.frameCount() + sinkC.frameCount()
	c.send(t, idC, map[string]any{"type": internal.TypeSendRoomMessage, "text": "有人嗎"})
	assert.Equal(t, before, sinkA.frameCount()+sinkB.frameCount()+sinkC.frameCount())
}

// TestDispatcher_Disconnect 測試連接斷開清理
func TestDispatcher_Disconnect(t *testing.T) {
	t.Run("disconnect breaks pair and broadcasts count", func(t *testing.T) {
		c := newCoordinator()
		idA, sinkA := c.connect(t, "小明")
		idB, sinkB := c.connect(t, "小華")
		c.send(t, idA, map[string]any{"type": internal.TypeStartMatching})
		c.send(t, idB, map[string]any{"type": internal.TypeStartMatching})

		c.dispatcher.HandleDisconnect(idA)

		assert.Len(t, sinkB.byType(t, internal.TypePartnerDisconnected), 1)
		assert.True(t, sinkA.isClosed())

		counts := sinkB.byType(t, internal.TypeOnlineCount)
		assert.EqualValues(t, 1, counts[len(counts)-1]["count"])
	})

	t.Run("disconnect leaves room", func(t *testing.T) {
		c := newCoordinator()
		idA, _ := c.connect(t, "創建者")
		idB, sinkB := c.connect(t, "成員")
		c.send(t, idA, map[string]any{"type": internal.TypeCreateRoom, "name": "Test", "maxSize": 4})
		roomID := c.mustRoomOf(t, idA)
		c.send(t, idB, map[string]any{"type": internal.TypeJoinRoom, "roomId": roomID})

		c.dispatcher.HandleDisconnect(idA)

		left := sinkB.byType(t, internal.TypeUserLeft)
		require.Len(t, left, 1)
		assert.Equal(t, "創建者", left[0]["nickname"], "斷開路徑上仍需帶上暱稱")
	})

	t.Run("disconnect twice produces no duplicate notifications", func(t *testing.T) {
		c := newCoordinator()
		idA, _ := c.connect(t, "小明")
		idB, sinkB := c.connect(t, "小華")
		c.send(t, idA, map[string]any{"type": internal.TypeStartMatching})
		c.send(t, idB, map[string]any{"type": internal.TypeStartMatching})

		c.dispatcher.HandleDisconnect(idA)
		before := sinkB.frameCount()

		c.dispatcher.HandleDisconnect(idA)
		assert.Equal(t, before, sinkB.frameCount())
	})

	t.Run("disconnect never-registered connection", func(t *testing.T) {
		c := newCoordinator()
		_, sinkA := c.connect(t, "小明")

		before := sinkA.frameCount()
		c.dispatcher.HandleDisconnect("ghost")
		assert.Equal(t, before, sinkA.frameCount())
	})
}

// TestDispatcher_MalformedInput 測試畸形輸入
//
// 無法解析的訊框與未知類型都只記錄、靜默忽略，不影響任何連接。
func TestDispatcher_MalformedInput(t *testing.T) {
	c := newCoordinator()

	idA, sinkA := c.connect(t, "小明")
	_, sinkB := c.connect(t, "小華")
	before := sinkA.frameCount() + sinkB.frameCount()

	c.dispatcher.HandleMessage(idA, []byte("not json at all"))
	c.dispatcher.HandleMessage(idA, []byte(`{"type":"NO_SUCH_TYPE"}`))
	c.dispatcher.HandleMessage(idA, []byte(`{}`))
	c.dispatcher.HandleMessage("ghost", []byte(`{"type":"START_MATCHING"}`))

	assert.Equal(t, before, sinkA.frameCount()+sinkB.frameCount())
}

// TestDispatcher_MatchmakingRoomExclusivity 測試配對與房間成員身份互斥
func TestDispatcher_MatchmakingRoomExclusivity(t *testing.T) {
	t.Run("room member cannot queue", func(t *testing.T) {
		c := newCoordinator()
		idA, sinkA := c.connect(t, "小明")
		c.send(t, idA, map[string]any{"type": internal.TypeCreateRoom, "name": "Test", "maxSize": 4})

		c.send(t, idA, map[string]any{"type": internal.TypeStartMatching})
		assert.Equal(t, 0, c.match.Waiting())
		assert.Empty(t, sinkA.byType(t, internal.TypeMatchFound))
	})

	t.Run("creating a room dequeues the waiter", func(t *testing.T) {
		c := newCoordinator()
		idA, _ := c.connect(t, "小明")
		c.send(t, idA, map[string]any{"type": internal.TypeStartMatching})
		require.Equal(t, 1, c.match.Waiting())

		c.send(t, idA, map[string]any{"type": internal.TypeCreateRoom, "name": "Test", "maxSize": 4})
		assert.Equal(t, 0, c.match.Waiting())
	})

	t.Run("joining a room breaks an active pair", func(t *testing.T) {
		c := newCoordinator()
		idA, _ := c.connect(t, "小明")
		idB, sinkB := c.connect(t, "小華")
		idC, _ := c.connect(t, "房主")
		c.send(t, idA, map[string]any{"type": internal.TypeStartMatching})
		c.send(t, idB, map[string]any{"type": internal.TypeStartMatching})
		c.send(t, idC, map[string]any{"type": internal.TypeCreateRoom, "name": "Test", "maxSize": 4})
		roomID := c.mustRoomOf(t, idC)

		c.send(t, idA, map[string]any{"type": internal.TypeJoinRoom, "roomId": roomID})

		assert.Len(t, sinkB.byType(t, internal.TypePartnerDisconnected), 1, "前配對對象應收到通知")
		_, paired := c.match.Partner(idB)
		assert.False(t, paired)
	})

	t.Run("failed join does not disturb matchmaking state", func(t *testing.T) {
		c := newCoordinator()
		idA, _ := c.connect(t, "小明")
		idB, sinkB := c.connect(t, "小華")
		c.send(t, idA, map[string]any{"type": internal.TypeStartMatching})
		c.send(t, idB, map[string]any{"type": internal.TypeStartMatching})

		c.send(t, idA, map[string]any{"type": internal.TypeJoinRoom, "roomId": "no-such-room"})

		_, paired := c.match.Partner(idA)
		assert.True(t, paired, "加入失敗不應解除現有配對")
		assert.Empty(t, sinkB.byType(t, internal.TypePartnerDisconnected))
	})
}

// mustRoomOf 查詢連接所在房間，測試斷言版本
func (c *coordinator) mustRoomOf(t *testing.T, id string) string {
	t.Helper()
	roomID, ok := c.rooms.RoomOf(id)
	require.True(t, ok)
	return roomID
}
