package internal

import (
	"encoding/json"
	"log/slog"
)

// Broadcaster 訊息投遞
//
// 純投遞層，不含業務邏輯：單播、全體廣播、房間廣播（可排除發送者）。
// 連接可能在查找與發送之間關閉，投遞失敗一律靜默丟棄（僅記錄），
// 一個慢連接或死連接不得影響其他連接。
type Broadcaster struct {
	registry *Registry
	rooms    *RoomService
	logger   *slog.Logger
}

// NewBroadcaster 創建投遞器
func NewBroadcaster(registry *Registry, rooms *RoomService, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		rooms:    rooms,
		logger:   logger,
	}
}

// SendTo 投遞訊息給單個連接；連接不在線時靜默丟棄
func (b *Broadcaster) SendTo(id string, msg any) {
	sink, ok := b.registry.Lookup(id)
	if !ok {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("編碼訊息失敗", "error", err)
		return
	}

	if !sink.Send(data) {
		b.logger.Warn("投遞失敗，連接緩衝已滿或已關閉", "conn_id", id)
	}
}

// SendToAll 投遞訊息給所有在線連接
func (b *Broadcaster) SendToAll(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("編碼訊息失敗", "error", err)
		return
	}

	for _, sink := range b.registry.Sinks() {
		sink.Send(data)
	}
}

// SendToRoom 投遞訊息給房間的所有成員
//
// excludeID 非空時跳過該成員（例如 USER_JOINED 不發給加入者本人）。
func (b *Broadcaster) SendToRoom(roomID string, msg any, excludeID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("編碼訊息失敗", "error", err)
		return
	}

	for _, memberID := range b.rooms.Members(roomID) {
		if memberID == excludeID {
			continue
		}
		sink, ok := b.registry.Lookup(memberID)
		if !ok {
			continue
		}
		if !sink.Send(data) {
			b.logger.Warn("房間廣播投遞失敗",
				"room_id", roomID,
				"conn_id", memberID)
		}
	}
}
