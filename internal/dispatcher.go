package internal

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher 入站協議訊息的路由器
//
// 所有入站訊息與斷開清理都在單一互斥鎖下依序處理：任何註冊表的
// 變更之間不會交錯，配對演算法的「取出兩人、建立雙向配對、分別
// 通知」因此是單一原子步驟。各註冊表只被自己的元件變更，跨元件
// 的互斥不變量（配對狀態與房間成員身份互斥）由這裡的路由順序維護，
// 而不是由資料結構本身維護。
//
// 錯誤分級：
//   - 驗證錯誤（名稱非法、房間滿、房間不存在）→ ERROR 訊框回發起者
//   - 無法解析的訊框、未知類型 → 僅記錄，靜默忽略
//   - 過期引用（無配對發私聊、不在房間卻離開）→ 無操作
//   - 連接斷開 → 等同「離開一切」，清理無條件且冪等
type Dispatcher struct {
	mu       sync.Mutex
	registry *Registry
	match    *Matchmaker
	rooms    *RoomService
	bcast    *Broadcaster
	logger   *slog.Logger
}

// NewDispatcher 創建路由器
func NewDispatcher(registry *Registry, match *Matchmaker, rooms *RoomService, bcast *Broadcaster, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		match:    match,
		rooms:    rooms,
		bcast:    bcast,
		logger:   logger,
	}
}

// HandleMessage 處理一個入站訊框
func (d *Dispatcher) HandleMessage(connID string, raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.logger.Warn("無法解析的訊框", "conn_id", connID, "error", err)
		return
	}

	switch msg.Type {
	case TypeRegister:
		d.handleRegister(connID, msg)
	case TypeStartMatching:
		d.handleStartMatching(connID)
	case TypeStopMatching:
		d.match.StopMatching(connID)
	case TypeSendMessage:
		d.handleSendMessage(connID, msg.Text)
	case TypeDisconnectChat:
		d.breakupAndNotify(connID)
	case TypeGetRooms:
		d.bcast.SendTo(connID, roomListMsg{Type: TypeRoomList, Rooms: d.rooms.List()})
	case TypeCreateRoom:
		d.handleCreateRoom(connID, msg.Name, msg.MaxSize)
	case TypeJoinRoom:
		d.handleJoinRoom(connID, msg.RoomID)
	case TypeLeaveRoom:
		d.leaveRoomAndNotify(connID)
	case TypeSendRoomMessage:
		d.handleSendRoomMessage(connID, msg.Text)
	default:
		d.logger.Debug("未知的訊息類型", "conn_id", connID, "type", msg.Type)
	}
}

// HandleDisconnect 處理傳輸層連接關閉
//
// 等同 DISCONNECT_CHAT + LEAVE_ROOM + 離開等待隊列，隨後廣播在線
// 人數。冪等：重複斷開或斷開從未登記的連接不產生任何通知。
func (d *Dispatcher) HandleDisconnect(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if partner, ok := d.match.Disconnect(connID); ok {
		d.bcast.SendTo(partner, partnerDisconnectedMsg{Type: TypePartnerDisconnected})
	}

	d.leaveRoomAndNotify(connID)

	sink, removed := d.registry.Remove(connID)
	if !removed {
		return
	}
	sink.Close()

	d.logger.Info("連接已關閉", "conn_id", connID)
	d.bcast.SendToAll(onlineCountMsg{Type: TypeOnlineCount, Count: d.registry.Count()})
}

// handleRegister 登記個人資料並回覆連接 id
func (d *Dispatcher) handleRegister(connID string, msg ClientMessage) {
	d.registry.Register(connID, Profile{Nickname: msg.Nickname, Avatar: msg.Avatar})
	d.bcast.SendTo(connID, registeredMsg{Type: TypeRegistered, ID: connID})
	d.bcast.SendToAll(onlineCountMsg{Type: TypeOnlineCount, Count: d.registry.Count()})
}

// handleStartMatching 排隊配對
//
// 房間成員不得排隊（互斥不變量），靜默忽略。
func (d *Dispatcher) handleStartMatching(connID string) {
	if _, inRoom := d.rooms.RoomOf(connID); inRoom {
		return
	}

	for _, pair := range d.match.StartMatching(connID) {
		d.notifyMatch(pair)
	}
}

// notifyMatch 向新配對的雙方互發對方的個人資料
func (d *Dispatcher) notifyMatch(pair Pair) {
	profileA, _ := d.registry.Resolve(pair.A)
	profileB, _ := d.registry.Resolve(pair.B)

	d.bcast.SendTo(pair.A, matchFoundMsg{
		Type:    TypeMatchFound,
		Partner: UserView{ID: pair.B, Nickname: profileB.Nickname, Avatar: profileB.Avatar},
	})
	d.bcast.SendTo(pair.B, matchFoundMsg{
		Type:    TypeMatchFound,
		Partner: UserView{ID: pair.A, Nickname: profileA.Nickname, Avatar: profileA.Avatar},
	})
}

// handleSendMessage 私聊訊息只投遞給配對對象，不回送給發送者
//
// 無配對時是無操作：UI 不該允許這個輸入，但核心不得因此出錯。
func (d *Dispatcher) handleSendMessage(connID, text string) {
	partner, ok := d.match.Partner(connID)
	if !ok {
		return
	}

	d.bcast.SendTo(partner, messageReceivedMsg{
		Type:      TypeMessageReceived,
		SenderID:  connID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// breakupAndNotify 解除配對並通知對方，冪等
func (d *Dispatcher) breakupAndNotify(connID string) {
	if partner, ok := d.match.Breakup(connID); ok {
		d.bcast.SendTo(partner, partnerDisconnectedMsg{Type: TypePartnerDisconnected})
	}
}

// leaveMatchmaking 成為房間成員時復原配對狀態
//
// 房間成員不得同時處於等待或已配對狀態；客戶端行為正確時這裡
// 都是無操作，但不變量由服務器保證而不是寄望於 UI。
func (d *Dispatcher) leaveMatchmaking(connID string) {
	d.match.StopMatching(connID)
	d.breakupAndNotify(connID)
}

// handleCreateRoom 創建房間並自動加入
func (d *Dispatcher) handleCreateRoom(connID, name string, maxSize int) {
	room, err := d.rooms.Create(connID, name, maxSize)
	if err != nil {
		d.bcast.SendTo(connID, errorMsg{Type: TypeError, Message: err.Error()})
		return
	}
	d.leaveMatchmaking(connID)

	profile, _ := d.registry.Resolve(connID)
	d.bcast.SendTo(connID, roomJoinedMsg{
		Type: TypeRoomJoined,
		Room: RoomView{ID: room.ID, Name: room.Name, Creator: room.CreatorID, MaxSize: room.MaxSize},
		Members: []MemberView{{
			ID:        connID,
			Nickname:  profile.Nickname,
			Avatar:    profile.Avatar,
			IsCreator: true,
		}},
	})

	d.bcast.SendToAll(roomListMsg{Type: TypeRoomListUpdate, Rooms: d.rooms.List()})
}

// handleJoinRoom 加入房間
func (d *Dispatcher) handleJoinRoom(connID, roomID string) {
	room, err := d.rooms.Join(connID, roomID)
	if err != nil {
		d.bcast.SendTo(connID, errorMsg{Type: TypeError, Message: err.Error()})
		return
	}
	d.leaveMatchmaking(connID)

	// 完整成員列表回給加入者
	d.bcast.SendTo(connID, roomJoinedMsg{
		Type:    TypeRoomJoined,
		Room:    RoomView{ID: room.ID, Name: room.Name, Creator: room.CreatorID, MaxSize: room.MaxSize},
		Members: d.memberViews(roomID, room.CreatorID),
	})

	// 其他成員只收到新成員通知
	profile, _ := d.registry.Resolve(connID)
	d.bcast.SendToRoom(roomID, userJoinedMsg{
		Type: TypeUserJoined,
		User: MemberView{ID: connID, Nickname: profile.Nickname, Avatar: profile.Avatar},
	}, connID)

	d.bcast.SendToAll(roomListMsg{Type: TypeRoomListUpdate, Rooms: d.rooms.List()})
}

// memberViews 構建房間成員的對外視圖
func (d *Dispatcher) memberViews(roomID, creatorID string) []MemberView {
	memberIDs := d.rooms.Members(roomID)
	views := make([]MemberView, 0, len(memberIDs))
	for _, id := range memberIDs {
		profile, _ := d.registry.Resolve(id)
		views = append(views, MemberView{
			ID:        id,
			Nickname:  profile.Nickname,
			Avatar:    profile.Avatar,
			IsCreator: id == creatorID,
		})
	}
	return views
}

// leaveRoomAndNotify 離開房間並通知剩餘成員
//
// 不在房間中時是無操作。房間清空即銷毀，除房間列表更新外不再有
// 其他通知。
func (d *Dispatcher) leaveRoomAndNotify(connID string) {
	// 先取個人資料：斷開路徑上資料隨後就會被移除
	nickname := "Unknown"
	if profile, ok := d.registry.Resolve(connID); ok {
		nickname = profile.Nickname
	}

	result := d.rooms.Leave(connID)
	if !result.Left {
		return
	}

	if len(result.Remaining) > 0 {
		d.bcast.SendToRoom(result.RoomID, userLeftMsg{
			Type:     TypeUserLeft,
			UserID:   connID,
			Nickname: nickname,
		}, "")
	}

	d.bcast.SendToAll(roomListMsg{Type: TypeRoomListUpdate, Rooms: d.rooms.List()})
}

// handleSendRoomMessage 房間訊息回送給包含發送者在內的所有成員
//
// 訊息附帶發送者當下的個人資料快照，成員之後離開不影響已收到的歷史。
func (d *Dispatcher) handleSendRoomMessage(connID, text string) {
	roomID, ok := d.rooms.RoomOf(connID)
	if !ok {
		return
	}

	profile, _ := d.registry.Resolve(connID)
	d.bcast.SendToRoom(roomID, roomMessageMsg{
		Type:      TypeRoomMessageReceived,
		SenderID:  connID,
		Sender:    UserView{ID: connID, Nickname: profile.Nickname, Avatar: profile.Avatar},
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}, "")
}
