// Package neonchat 提供一個匿名即時聊天的連接協調服務器。
//
// 實現了陌生人之間的兩種臨時對話形式：
//
// 隨機配對
//
// 排隊中的連接按先來後到兩兩配對：
//   - FIFO 等待隊列（先排隊者先配對）
//   - 對稱的配對關係（A↔B，一人同時至多一個配對）
//   - 私聊訊息只投遞給對方，服務器不回送給發送者
//   - 任一方斷開即解除配對並通知對方
//
// 公開房間
//
// 具名、容量受限的群聊房間：
//   - 房間創建與自動加入
//   - 容量限制（2-20 人），超限的請求靜默收斂而非拒絕
//   - 房間訊息回送給包含發送者在內的所有成員
//   - 最後一名成員離開時房間立即銷毀
//
// 所有狀態只存在於進程記憶體中，重啟後不保留；匿名臨時對話不需要
// 任何持久化，這是刻意的設計取捨。
//
// 協議
//
// 客戶端透過單一 WebSocket 連接收發 JSON 訊框，每個訊框帶 type
// 判別欄位。入站訊息由 Dispatcher 在單一互斥鎖下依序處理，因此
// 配對演算法的「取出兩人、建立雙向配對、分別通知」是一個原子步驟，
// 任何第三方都觀察不到只有單向配對存在的中間狀態。
//
// 架構設計
//
// 系統採用分層架構設計：
//   - Dispatcher 層：路由入站協議訊息，維護跨元件不變量
//   - Registry / Matchmaker / RoomService 層：各自持有單一職責的狀態
//   - Broadcaster 層：單播、全體廣播與房間廣播
//   - WebSocket 層：連接升級、心跳與讀寫泵
//
// 啟動服務器：
//
//	go run ./cmd/server -port 3001 -static ./dist
package neonchat
