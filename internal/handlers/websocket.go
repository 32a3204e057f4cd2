package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"provably-fair-backend/internal/services"
)

const (
	writeWait      = 10 * time.Second
	liveTick       = 100 * time.Millisecond
	clientSendSize = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler pushes balance changes and the live crash counter to
// connected players. It is the engine's Broadcaster.
type WebSocketHandler struct {
	gameEngine *services.GameEngine
	hub        *WebSocketHub
	log        *zap.Logger
}

var _ services.Broadcaster = (*WebSocketHandler)(nil)

type WebSocketHub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	log        *zap.Logger
}

type Client struct {
	UserID int64
	Conn   *websocket.Conn
	send   chan *Message

	mu     sync.Mutex
	cancel context.CancelFunc
	feeds  sync.WaitGroup
}

type Message struct {
	Type    string `json:"type"`
	UserID  int64  `json:"user_id,omitempty"`
	RoundID int64  `json:"round_id,omitempty"`
	Data    any    `json:"data"`
}

func NewWebSocketHandler(gameEngine *services.GameEngine, log *zap.Logger) *WebSocketHandler {
	hub := &WebSocketHub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 100),
		log:        log.Named("ws"),
	}

	go hub.run()

	return &WebSocketHandler{
		gameEngine: gameEngine,
		hub:        hub,
		log:        log.Named("ws"),
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetInt64("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade to websocket", zap.Error(err))
		return
	}

	client := &Client{
		UserID: userID,
		Conn:   conn,
		send:   make(chan *Message, clientSendSize),
	}

	h.hub.register <- client
	go client.writePump()

	defer func() {
		client.stopFeed()
		h.hub.unregister <- client
		conn.Close()
	}()

	h.sendBalance(c.Request.Context(), client)

	for {
		var msg Message
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", zap.Int64("user_id", userID), zap.Error(err))
			}
			break
		}

		h.handleMessage(client, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case "PING":
		client.enqueue(&Message{
			Type: "PONG",
			Data: gin.H{"timestamp": time.Now().Unix()},
		})
	case "SUBSCRIBE_GAME":
		roundID := msg.RoundID
		if roundID == 0 {
			roundID = roundIDFrom(msg.Data)
		}
		if roundID > 0 {
			h.subscribeToGame(client, roundID)
		}
	case "UNSUBSCRIBE_GAME":
		client.stopFeed()
	}
}

func roundIDFrom(data any) int64 {
	switch v := data.(type) {
	case float64:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	}
	return 0
}

func (h *WebSocketHandler) sendBalance(ctx context.Context, client *Client) {
	wallet, err := h.gameEngine.Ledger.Wallet(ctx, client.UserID)
	if err != nil {
		h.log.Debug("no wallet for websocket client", zap.Int64("user_id", client.UserID), zap.Error(err))
		return
	}

	client.enqueue(&Message{
		Type: "BALANCE_UPDATE",
		Data: wallet.Summary(),
	})
}

// subscribeToGame publishes the live multiplier of the client's running
// round through the broadcaster until it is cashed out or busts. The bust
// itself arrives as GAME_CRASH.
func (h *WebSocketHandler) subscribeToGame(client *Client, roundID int64) {
	client.stopFeed()

	ctx, cancel := context.WithCancel(context.Background())
	client.mu.Lock()
	client.cancel = cancel
	client.mu.Unlock()

	client.feeds.Add(1)
	go func() {
		defer client.feeds.Done()
		ticker := time.NewTicker(liveTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				running, err := h.gameEngine.Crash.PublishLive(ctx, client.UserID, roundID)
				if err != nil {
					if ctx.Err() == nil {
						h.log.Warn("live feed lookup failed", zap.Int64("round_id", roundID), zap.Error(err))
					}
					return
				}
				if !running {
					return
				}
			}
		}
	}()
}

func (c *Client) stopFeed() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.feeds.Wait()
}

// enqueue drops the message when the client is not keeping up.
func (c *Client) enqueue(msg *Message) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	for msg := range c.send {
		c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (hub *WebSocketHub) run() {
	for {
		select {
		case client := <-hub.register:
			conns, ok := hub.clients[client.UserID]
			if !ok {
				conns = make(map[*Client]struct{})
				hub.clients[client.UserID] = conns
			}
			conns[client] = struct{}{}
			hub.log.Debug("client registered", zap.Int64("user_id", client.UserID))

		case client := <-hub.unregister:
			if conns, ok := hub.clients[client.UserID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
				}
				if len(conns) == 0 {
					delete(hub.clients, client.UserID)
				}
				hub.log.Debug("client unregistered", zap.Int64("user_id", client.UserID))
			}

		case message := <-hub.broadcast:
			hub.broadcastMessage(message)
		}
	}
}

func (hub *WebSocketHub) broadcastMessage(message *Message) {
	if message.UserID != 0 {
		for client := range hub.clients[message.UserID] {
			client.enqueue(message)
		}
		return
	}
	for _, conns := range hub.clients {
		for client := range conns {
			client.enqueue(message)
		}
	}
}

func (h *WebSocketHandler) BroadcastGameUpdate(userID, roundID int64, multiplier decimal.Decimal) {
	h.hub.broadcast <- &Message{
		Type:    "GAME_UPDATE",
		UserID:  userID,
		RoundID: roundID,
		Data: gin.H{
			"round_id":   roundID,
			"multiplier": multiplier,
			"timestamp":  time.Now().UnixMilli(),
		},
	}
}

func (h *WebSocketHandler) BroadcastGameCrash(userID, roundID int64, crashPoint decimal.Decimal) {
	h.hub.broadcast <- &Message{
		Type:    "GAME_CRASH",
		UserID:  userID,
		RoundID: roundID,
		Data: gin.H{
			"round_id":    roundID,
			"crash_point": crashPoint,
			"timestamp":   time.Now().UnixMilli(),
		},
	}
}

func (h *WebSocketHandler) BroadcastBalance(userID int64, balance decimal.Decimal) {
	h.hub.broadcast <- &Message{
		Type:   "BALANCE_UPDATE",
		UserID: userID,
		Data: gin.H{
			"balance": balance,
		},
	}
}
