package internal

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// 心跳配置：54 秒 Ping、60 秒讀取超時，留 6 秒余量
	pingInterval = 54 * time.Second
	pongTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second

	sendBufferSize = 256
)

// Hub WebSocket 傳輸層
//
// 負責連接升級、讀寫泵與心跳；收到的每個文本訊框交給 Dispatcher，
// 連接關閉（含心跳超時）走與協議層相同的清理路徑。
type Hub struct {
	dispatcher *Dispatcher
	registry   *Registry
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHub 創建傳輸層
func NewHub(dispatcher *Dispatcher, registry *Registry, logger *slog.Logger) *Hub {
	return &Hub{
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Client 單個 WebSocket 連接
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	closeOnce sync.Once
}

// Send 非阻塞投遞；緩衝滿時丟棄並返回 false，慢連接不拖累廣播
func (c *Client) Send(data []byte) bool {
	defer func() {
		// Close 與併發 Send 之間的競態：向已關閉 channel 發送視為投遞失敗
		_ = recover()
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close 關閉出站通道，冪等
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ServeWS 處理 WebSocket 升級請求
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		hub:  h,
	}
	client.id = h.registry.Add(client)

	go client.writePump()
	go client.readPump()
}

// Stop 關閉所有在線連接
func (h *Hub) Stop() {
	for _, sink := range h.registry.Sinks() {
		sink.Close()
	}
	h.logger.Info("WebSocket 傳輸層已停止")
}

// readPump 讀取客戶端訊框
//
// 60 秒內沒有任何訊息（含 Pong）即視為死連接。退出時觸發完整的
// 斷開清理：解除配對、離開房間、移出隊列、廣播在線人數。
func (c *Client) readPump() {
	defer func() {
		c.hub.dispatcher.HandleDisconnect(c.id)
		c.conn.Close()
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongTimeout)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤", "error", err, "conn_id", c.id)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.hub.dispatcher.HandleMessage(c.id, message)
		}
	}
}

// writePump 寫入訊框到客戶端並定期發送 Ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 出站通道已關閉，優雅關閉連接
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中已累積的訊框
			n := len(c.send)
			for i := 0; i < n; i++ {
				message, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
