package internal

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// 房間參數邊界
const (
	maxRoomNameLen  = 15
	minRoomSize     = 2
	maxRoomSize     = 20
	defaultRoomSize = 10
)

// 驗證錯誤：只回報給發起連接，不改變任何共享狀態
var (
	ErrInvalidRoomName = errors.New("房間名稱必須在 1-15 字符之間")
	ErrRoomNotFound    = errors.New("房間不存在")
	ErrRoomFull        = errors.New("房間已滿")
	ErrAlreadyInRoom   = errors.New("已在房間中")
)

// Room 公開聊天房間
//
// 生命週期只有兩個狀態：Active（≥1 成員）→ Destroyed（成員清空即移除）。
// 房間不會被任何其他操作顯式關閉，也不會空置存活。
type Room struct {
	ID        string
	Name      string
	CreatorID string
	MaxSize   int
	CreatedAt int64    // Unix 毫秒
	members   []string // 加入順序
}

// RoomInfo 房間列表中的單個條目
type RoomInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CurrentSize int    `json:"currentSize"`
	MaxSize     int    `json:"maxSize"`
	CreatedAt   int64  `json:"createdAt"`
}

// LeaveResult 離開房間的結果
type LeaveResult struct {
	Left      bool     // false 表示連接本來就不在任何房間
	RoomID    string
	Remaining []string // 離開後的剩餘成員
	Destroyed bool     // 最後一名成員離開，房間已銷毀
}

// RoomService 房間註冊表
//
// 持有所有房間與 connectionID → roomID 索引。
//
// 不變量：
//   - 一個連接同時至多屬於一個房間
//   - 任何時刻 len(members) <= MaxSize
//   - 成員清空的房間立即從註冊表移除
type RoomService struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	order    []string          // roomID 的註冊順序，供列表使用
	userRoom map[string]string // connectionID -> roomID
	logger   *slog.Logger
}

// NewRoomService 創建房間註冊表
func NewRoomService(logger *slog.Logger) *RoomService {
	return &RoomService{
		rooms:    make(map[string]*Room),
		userRoom: make(map[string]string),
		logger:   logger,
	}
}

// Create 創建房間並讓創建者自動加入
//
// 名稱先修剪空白再驗證長度（1-15 字符）。maxSize 收斂到 [2, 20]：
// 缺省（0）取 10，其餘越界值夾到邊界，一律不拒絕。
// 前置條件（由 Dispatcher 保證）：創建者不在任何房間中。
func (s *RoomService) Create(creatorID, rawName string, maxSize int) (*Room, error) {
	name := strings.TrimSpace(rawName)
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameLen {
		return nil, ErrInvalidRoomName
	}

	if maxSize == 0 {
		maxSize = defaultRoomSize
	}
	maxSize = min(max(maxSize, minRoomSize), maxRoomSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.userRoom[creatorID]; ok {
		return nil, ErrAlreadyInRoom
	}

	room := &Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatorID: creatorID,
		MaxSize:   maxSize,
		CreatedAt: time.Now().UnixMilli(),
		members:   []string{creatorID},
	}

	s.rooms[room.ID] = room
	s.order = append(s.order, room.ID)
	s.userRoom[creatorID] = room.ID

	s.logger.Info("房間已創建",
		"room_id", room.ID,
		"name", room.Name,
		"max_size", room.MaxSize,
		"creator_id", creatorID)
	return room, nil
}

// Join 加入房間
//
// 房間不存在或已滿時返回錯誤且不改變成員集合。
// 前置條件（由 Dispatcher 保證）：加入者不在任何房間中。
func (s *RoomService) Join(id, roomID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if len(room.members) >= room.MaxSize {
		return nil, ErrRoomFull
	}
	if _, ok := s.userRoom[id]; ok {
		return nil, ErrAlreadyInRoom
	}

	room.members = append(room.members, id)
	s.userRoom[id] = roomID

	s.logger.Info("成員加入房間",
		"room_id", roomID,
		"conn_id", id,
		"current_size", len(room.members))
	return room, nil
}

// Leave 離開當前房間
//
// 不在房間中時是無操作。最後一名成員離開即銷毀房間。
// 顯式離開與連接斷開共用此路徑。
func (s *RoomService) Leave(id string) LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, ok := s.userRoom[id]
	if !ok {
		return LeaveResult{}
	}
	delete(s.userRoom, id)

	room, ok := s.rooms[roomID]
	if !ok {
		// 索引懸空屬於缺陷，但清理仍需完成
		s.logger.Warn("用戶房間索引指向不存在的房間", "room_id", roomID, "conn_id", id)
		return LeaveResult{}
	}

	if idx := slices.Index(room.members, id); idx >= 0 {
		room.members = slices.Delete(room.members, idx, idx+1)
	}

	result := LeaveResult{
		Left:      true,
		RoomID:    roomID,
		Remaining: slices.Clone(room.members),
	}

	if len(room.members) == 0 {
		delete(s.rooms, roomID)
		if idx := slices.Index(s.order, roomID); idx >= 0 {
			s.order = slices.Delete(s.order, idx, idx+1)
		}
		result.Destroyed = true
		s.logger.Info("房間已銷毀", "room_id", roomID)
	} else {
		s.logger.Info("成員離開房間",
			"room_id", roomID,
			"conn_id", id,
			"current_size", len(room.members))
	}
	return result
}

// RoomOf 查詢連接當前所在的房間
func (s *RoomService) RoomOf(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.userRoom[id]
	return roomID, ok
}

// Members 獲取房間成員快照（加入順序）
func (s *RoomService) Members(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(room.members)
}

// List 獲取房間列表快照，順序為房間的註冊順序
func (s *RoomService) List() []RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]RoomInfo, 0, len(s.order))
	for _, roomID := range s.order {
		room := s.rooms[roomID]
		list = append(list, RoomInfo{
			ID:          room.ID,
			Name:        room.Name,
			CurrentSize: len(room.members),
			MaxSize:     room.MaxSize,
			CreatedAt:   room.CreatedAt,
		})
	}
	return list
}

// Count 獲取房間數
func (s *RoomService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// MemberCount 獲取所有房間的成員總數
func (s *RoomService) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.userRoom)
}
