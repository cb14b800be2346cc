package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fleet-api/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

var ErrRoomForbidden = errors.New("notify: room not allowed")

// Identity 已通过 JWT 校验的连接方
type Identity struct {
	UID  uint
	Role string
}

// CanJoin admin 房间仅管理员；owner-{id} 仅本人或管理员
func (id Identity) CanJoin(room string) bool {
	if id.Role == domain.RoleAdmin {
		return room == AdminChannel || strings.HasPrefix(room, "owner-")
	}
	return room == OwnerChannel(id.UID)
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	id    Identity
	rooms map[string]struct{}
}

// Hub 本进程内的 websocket 房间
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHub(l *zap.Logger) *Hub {
	if l == nil {
		l = zap.NewNop()
	}
	return &Hub{
		rooms: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: l,
	}
}

// Publish 投递到房间内所有连接；慢连接的缓冲满了直接丢弃
func (h *Hub) Publish(_ context.Context, channel string, ev domain.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[channel] {
		select {
		case c.send <- b:
		default:
			h.log.Warn("ws client buffer full, dropping event", zap.Uint("uid", c.id.UID), zap.String("room", channel))
		}
	}
	return nil
}

// RoomSize 当前房间连接数
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[*client]struct{})
		h.rooms[room] = set
	}
	set[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *client, room string) {
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()
	close(c.send)
}

// Serve 升级连接并加入初始房间；room 为空时默认进自己的 owner 房间（管理员进 admin）
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id Identity, room string) error {
	if room == "" {
		room = OwnerChannel(id.UID)
		if id.Role == domain.RoleAdmin {
			room = AdminChannel
		}
	}
	if !id.CanJoin(room) {
		return ErrRoomForbidden
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), id: id, rooms: map[string]struct{}{}}
	h.join(c, room)
	go c.writePump()
	go c.readPump()
	return nil
}

type control struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

type ack struct {
	Type  string `json:"type"`
	Room  string `json:"room"`
	Error string `json:"error,omitempty"`
}

func (c *client) reply(a ack) {
	b, _ := json.Marshal(a)
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	select {
	case c.send <- b:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		var msg control
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("ws read", zap.Error(err))
			}
			return
		}
		switch msg.Action {
		case "join":
			if !c.id.CanJoin(msg.Room) {
				c.reply(ack{Type: "error", Room: msg.Room, Error: "forbidden"})
				continue
			}
			c.hub.join(c, msg.Room)
			c.reply(ack{Type: "joined", Room: msg.Room})
		case "leave":
			c.hub.leave(c, msg.Room)
			c.reply(ack{Type: "left", Room: msg.Room})
		default:
			c.reply(ack{Type: "error", Error: "unknown action"})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
