package internal

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Profile 連接的臨時個人資料。註冊時設定一次，之後不可變；
// 連接關閉即丟棄，沒有任何持久化。
type Profile struct {
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// Sink 單個連接的出站通道，由傳輸層實作。
type Sink interface {
	// Send 非阻塞投遞一個已編碼的訊框；緩衝滿或連接已關閉時返回 false。
	Send(data []byte) bool
	// Close 關閉出站通道，必須冪等。
	Close()
}

// Registry 連接註冊表
//
// 持有每個在線連接的身份與個人資料，是其他元件解析
// id → 出站通道 / 個人資料的唯一來源。
//
// 不變量：
//   - 兩個在線連接不會共享同一個 id
//   - 個人資料一經註冊即不可變
type Registry struct {
	mu       sync.RWMutex
	sinks    map[string]Sink
	profiles map[string]Profile
	logger   *slog.Logger
}

// NewRegistry 創建連接註冊表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sinks:    make(map[string]Sink),
		profiles: make(map[string]Profile),
		logger:   logger,
	}
}

// Add 登記一個新連接並分配唯一 id
func (r *Registry) Add(sink Sink) string {
	id := uuid.NewString()

	r.mu.Lock()
	r.sinks[id] = sink
	r.mu.Unlock()

	r.logger.Info("連接已建立", "conn_id", id)
	return id
}

// Register 設定連接的個人資料（一次性）
//
// 連接不存在或已註冊過時返回 false，資料不會被覆寫。
func (r *Registry) Register(id string, profile Profile) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sinks[id]; !ok {
		return false
	}
	if _, ok := r.profiles[id]; ok {
		return false
	}

	r.profiles[id] = profile
	r.logger.Info("用戶已註冊",
		"conn_id", id,
		"nickname", profile.Nickname)
	return true
}

// Remove 移除連接，冪等
//
// 返回被移除的出站通道供調用者關閉；連接不存在時返回 (nil, false)。
func (r *Registry) Remove(id string) (Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sink, ok := r.sinks[id]
	if !ok {
		return nil, false
	}

	delete(r.sinks, id)
	delete(r.profiles, id)
	return sink, true
}

// Resolve 查詢連接的個人資料
func (r *Registry) Resolve(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[id]
	return profile, ok
}

// Lookup 查詢連接的出站通道
func (r *Registry) Lookup(id string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sinks[id]
	return sink, ok
}

// Sinks 獲取所有在線連接出站通道的快照
func (r *Registry) Sinks() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]Sink, 0, len(r.sinks))
	for _, sink := range r.sinks {
		sinks = append(sinks, sink)
	}
	return sinks
}

// Count 獲取在線連接數
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
