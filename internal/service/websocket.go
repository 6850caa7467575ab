package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mafia_web/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Client 代表一個 WebSocket 客戶端連接
type Client struct {
	Conn     *websocket.Conn // WebSocket 連接
	RoomID   string          // 訂閱的房間
	PlayerID string          // 連接代表的玩家
	SendChan chan []byte     // 已編碼的消息，由 writePump 異步寫出

	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, roomID, playerID string) *Client {
	return &Client{
		Conn:     conn,
		RoomID:   roomID,
		PlayerID: playerID,
		SendChan: make(chan []byte, sendBufferSize),
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.SendChan) })
}

// ClientCommand 客戶端透過 WebSocket 送來的指令
type ClientCommand struct {
	Type    string `json:"type"` // chat | vote | ready
	Content string `json:"content"`
	Target  string `json:"target,omitempty"`
	Ready   *bool  `json:"ready,omitempty"`
}

// CommandHandler 處理客戶端指令，由 RoomService 實作
type CommandHandler interface {
	HandleCommand(ctx context.Context, roomID, playerID string, cmd ClientCommand) error
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// WebSocketService 管理所有的 WebSocket 連接，並作為 Broadcaster 依房間推送消息
type WebSocketService struct {
	clients    map[string]map[*Client]bool // roomID -> client -> bool
	clientsMux sync.RWMutex
	commands   CommandHandler
}

func NewWebSocketService() *WebSocketService {
	return &WebSocketService{
		clients: make(map[string]map[*Client]bool),
	}
}

// SetCommandHandler 設定處理客戶端上行指令的對象
func (s *WebSocketService) SetCommandHandler(h CommandHandler) {
	s.commands = h
}

// HandleConnection 處理一個已升級的連接，直到連接關閉才返回
func (s *WebSocketService) HandleConnection(ctx context.Context, client *Client) {
	s.addClient(client)

	// 確保連接關閉時清理資源
	defer func() {
		s.removeClient(client)
		client.Conn.Close()
	}()

	go s.writePump(client)
	s.readPump(ctx, client)
}

// readPump 持續監聽客戶端的指令並交給 CommandHandler
func (s *WebSocketService) readPump(ctx context.Context, client *Client) {
	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("room_id", client.RoomID).Msg("websocket unexpected close")
			}
			return
		}

		var cmd ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendError(client, "Malformed command")
			continue
		}
		if s.commands == nil {
			continue
		}
		if err := s.commands.HandleCommand(ctx, client.RoomID, client.PlayerID, cmd); err != nil {
			s.sendError(client, err.Error())
		}
	}
}

// writePump 將 SendChan 中的消息寫到連接，並定期發送心跳
func (s *WebSocketService) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish 向房間內的所有客戶端廣播消息，不會阻塞
func (s *WebSocketService) Publish(roomID string, msg models.GameMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}

	// 持有讀鎖送出，避免與 removeClient 關閉通道競爭
	var slow []*Client
	s.clientsMux.RLock()
	for client := range s.clients[roomID] {
		select {
		case client.SendChan <- data:
		default:
			slow = append(slow, client)
		}
	}
	s.clientsMux.RUnlock()

	// 客戶端消息隊列已滿，斷開連接
	for _, client := range slow {
		s.removeClient(client)
	}
	dropped := len(slow)
	if dropped > 0 {
		return fmt.Errorf("dropped %d slow client(s) in room %s", dropped, roomID)
	}
	return nil
}

func (s *WebSocketService) sendError(client *Client, reason string) {
	data, err := json.Marshal(errorFrame{Type: "error", Error: reason})
	if err != nil {
		return
	}
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	if !s.clients[client.RoomID][client] {
		return
	}
	select {
	case client.SendChan <- data:
	default:
	}
}

func (s *WebSocketService) addClient(client *Client) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	if s.clients[client.RoomID] == nil {
		s.clients[client.RoomID] = make(map[*Client]bool)
	}
	s.clients[client.RoomID][client] = true
}

func (s *WebSocketService) removeClient(client *Client) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	if clients, ok := s.clients[client.RoomID]; ok {
		if clients[client] {
			delete(clients, client)
			client.closeSend()
		}
		// 如果房間空了，刪除房間
		if len(clients) == 0 {
			delete(s.clients, client.RoomID)
		}
	}
}

// CloseRoom 斷開房間內所有連接
func (s *WebSocketService) CloseRoom(roomID string) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	for client := range s.clients[roomID] {
		client.closeSend()
	}
	delete(s.clients, roomID)
}

// GetRoomClients 獲取指定房間的在線客戶端數量
func (s *WebSocketService) GetRoomClients(roomID string) int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()

	return len(s.clients[roomID])
}

var _ Broadcaster = (*WebSocketService)(nil)
var _ RoomCloser = (*WebSocketService)(nil)
