package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ライブストリームのメッセージ形式 {type, ts, data}
type envelope struct {
	Type string    `json:"type"`
	Ts   time.Time `json:"ts"`
	Data any       `json:"data,omitempty"`
}

const (
	defaultSendBuf      = 32
	defaultBroadcastBuf = 128

	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// Hub は /api/stream に接続しているクライアントへフィルターのサンプルを配る
// 送信が追いつかないクライアントは切断する
type Hub struct {
	logger *slog.Logger

	queue chan []byte
	join  chan *streamClient
	leave chan *streamClient

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	sendBuf int
}

// HubConfig はハブのキューサイズ。0 の場合は既定値を使う
type HubConfig struct {
	SendBuf      int
	BroadcastBuf int
}

// NewHub はハブを作成する。Run(ctx) で動作を開始する
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaultSendBuf
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = defaultBroadcastBuf
	}
	return &Hub{
		logger:  logger,
		queue:   make(chan []byte, cfg.BroadcastBuf),
		join:    make(chan *streamClient, 16),
		leave:   make(chan *streamClient, 16),
		clients: make(map[*streamClient]struct{}),
		sendBuf: cfg.SendBuf,
	}
}

// Run は ctx がキャンセルされるまで配信を続け、終了時に全クライアントを切断する
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.join:
			h.add(c)
		case c := <-h.leave:
			h.drop(c, "closed")
		case msg := <-h.queue:
			h.deliver(msg)
		}
	}
}

// ClientCount は接続中のクライアント数を返す
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish は data を {type, ts, data} 形式にして配信キューに積む
// 誰も接続していなければ何もしない。キューが一杯なら捨てて false を返す
func (h *Hub) Publish(msgType string, at time.Time, data any) bool {
	if h.ClientCount() == 0 {
		return true
	}
	msg, err := json.Marshal(envelope{Type: msgType, Ts: at.UTC(), Data: data})
	if err != nil {
		h.logger.Warn("stream marshal failed", "type", msgType, "error", err)
		return false
	}
	select {
	case h.queue <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("stream client connected", "remote_addr", c.remoteAddr, "clients", n)
}

func (h *Hub) deliver(msg []byte) {
	// ロック中に map を変更しないよう、遅いクライアントは後でまとめて外す
	var slow []*streamClient

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.drop(c, "slow_client")
	}
}

// drop はクライアントを外して send を閉じる。map から消した側だけが閉じる
func (h *Hub) drop(c *streamClient, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}

	c.close()
	h.logger.Info("stream client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// streamClient はストリームの接続1本
type streamClient struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
}

// close はソケットを閉じ、send を閉じて writePump を終わらせる
func (c *streamClient) close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	close(c.send)
}

// writePump は send キューの内容をソケットに書き込む
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("ping", err)
				return
			}
		}
	}
}

// readPump は受信内容を読み捨てて切断を検知する
func (c *streamClient) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read", err)
			c.hub.leave <- c
			return
		}
	}
}

func (c *streamClient) logExit(op string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	c.hub.logger.Debug("stream pump exiting", "op", op, "remote_addr", c.remoteAddr, "error", err)
}

// Origin ヘッダーがある場合は同一オリジンからの接続だけを受け付ける（gorilla の既定の確認）
var upgrader = websocket.Upgrader{}

// ServeWS は接続をアップグレードしてハブに登録する
// ポンプはリクエストのコンテキストに紐付けない。ハンドラが返るとキャンセルされるため
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := &streamClient{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		remoteAddr: r.RemoteAddr,
	}
	h.join <- client

	go client.writePump()
	go client.readPump()
}
