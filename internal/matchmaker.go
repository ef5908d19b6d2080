package internal

import (
	"log/slog"
	"slices"
	"sync"
)

// Pair 一次成功配對的雙方
type Pair struct {
	A string
	B string
}

// Matchmaker 隨機配對狀態機
//
// 每個連接在三個互斥狀態之間流轉：閒置 → 等待 → 已配對 → 閒置。
//
// 不變量：
//   - 等待隊列中一個 id 至多出現一次
//   - 配對關係對稱：pairs[A] == B 則 pairs[B] == A
//   - 一個 id 同時至多存在於一個配對中
//   - 已配對的 id 不在等待隊列中
type Matchmaker struct {
	mu     sync.RWMutex
	queue  []string          // 等待隊列，插入順序即到達順序
	pairs  map[string]string // id -> partnerID，雙向
	logger *slog.Logger
}

// NewMatchmaker 創建配對器
func NewMatchmaker(logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		pairs:  make(map[string]string),
		logger: logger,
	}
}

// StartMatching 將連接加入等待隊列並立即嘗試配對
//
// 已在等待或已配對時是無操作。返回本次調用形成的所有配對，
// 由調用者負責通知雙方；在 Dispatcher 的序列化保證下，
// 入隊與配對是單一原子步驟。
func (m *Matchmaker) StartMatching(id string) []Pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, paired := m.pairs[id]; paired {
		return nil
	}
	if slices.Contains(m.queue, id) {
		return nil
	}

	m.queue = append(m.queue, id)
	m.logger.Debug("加入等待隊列", "conn_id", id, "queue_len", len(m.queue))

	// FIFO 配對：隊列每滿兩人就取出隊首兩人建立雙向配對
	var matched []Pair
	for len(m.queue) >= 2 {
		a, b := m.queue[0], m.queue[1]
		m.queue = m.queue[2:]

		m.pairs[a] = b
		m.pairs[b] = a
		matched = append(matched, Pair{A: a, B: b})

		m.logger.Info("配對成功", "conn_a", a, "conn_b", b)
	}
	return matched
}

// StopMatching 將連接移出等待隊列
//
// 不在隊列中（已配對或從未排隊）時是無操作。
func (m *Matchmaker) StopMatching(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.Index(m.queue, id)
	if idx < 0 {
		return false
	}
	m.queue = slices.Delete(m.queue, idx, idx+1)

	m.logger.Debug("離開等待隊列", "conn_id", id)
	return true
}

// Partner 查詢連接當前的配對對象
func (m *Matchmaker) Partner(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	partner, ok := m.pairs[id]
	return partner, ok
}

// Breakup 解除連接的配對，冪等
//
// 雙向映射同時移除；返回前配對對象供調用者通知。
// 未配對時返回 ("", false) 且不做任何事。
func (m *Matchmaker) Breakup(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakupLocked(id)
}

func (m *Matchmaker) breakupLocked(id string) (string, bool) {
	partner, ok := m.pairs[id]
	if !ok {
		return "", false
	}

	delete(m.pairs, id)
	delete(m.pairs, partner)

	m.logger.Info("配對解除", "conn_id", id, "partner_id", partner)
	return partner, true
}

// Disconnect 連接斷開時的清理：解除配對並移出等待隊列
//
// 兩個狀態本應互斥，但斷開清理對兩者都做，無論連接處於哪個狀態
// 都能復原到閒置。返回前配對對象（若有）供調用者通知。
func (m *Matchmaker) Disconnect(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	partner, hadPartner := m.breakupLocked(id)

	if idx := slices.Index(m.queue, id); idx >= 0 {
		m.queue = slices.Delete(m.queue, idx, idx+1)
	}
	return partner, hadPartner
}

// Waiting 獲取等待隊列長度
func (m *Matchmaker) Waiting() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue)
}

// Paired 獲取當前配對數
func (m *Matchmaker) Paired() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pairs) / 2
}
