package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Dias221467/when2meet/internal/models"
	jwtutil "github.com/Dias221467/when2meet/pkg/jwt"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// FriendLister resolves whom to tell about a user's presence.
type FriendLister interface {
	ListFriends(ctx context.Context, userID primitive.ObjectID) ([]models.PublicUser, error)
}

// PresenceEvent announces that a friend came online or went offline.
type PresenceEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Status string `json:"status"` // "online" or "offline"
}

type client struct {
	userID primitive.ObjectID
	conn   *websocket.Conn
	send   chan interface{}
}

// Hub keeps the websocket connections of online users and pushes events to them.
type Hub struct {
	mu        sync.Mutex
	clients   map[primitive.ObjectID]map[*client]bool
	friends   FriendLister
	jwtSecret string
	upgrader  websocket.Upgrader
}

func NewHub(friends FriendLister, jwtSecret string, checkOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		clients:   make(map[primitive.ObjectID]map[*client]bool),
		friends:   friends,
		jwtSecret: jwtSecret,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// Publish queues event for every connection of userID. Slow connections
// drop events rather than block the caller.
func (h *Hub) Publish(userID primitive.ObjectID, event interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- event:
		default:
			logrus.WithField("userID", userID.Hex()).Warn("Dropping realtime event for slow client")
		}
	}
}

// Online reports whether the user has at least one open connection.
func (h *Hub) Online(userID primitive.ObjectID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID]) > 0
}

// ServeWS authenticates with the token query parameter and upgrades the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}
	claims, err := jwtutil.ValidateToken(token, h.jwtSecret)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket auth failed")
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}
	userID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan interface{}, sendBuffer)}
	first := h.register(c)
	logrus.WithField("userID", userID.Hex()).Info("WebSocket connected")
	if first {
		h.announce(userID, "online")
	}

	go h.writeLoop(c)
	h.readLoop(c)

	if last := h.unregister(c); last {
		h.announce(userID, "offline")
	}
	logrus.WithField("userID", userID.Hex()).Info("WebSocket disconnected")
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]bool)
		h.clients[c.userID] = set
	}
	set[c] = true
	return len(set) == 1
}

func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if set[c] {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.userID)
		return true
	}
	return false
}

func (h *Hub) announce(userID primitive.ObjectID, status string) {
	if h.friends == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	friends, err := h.friends.ListFriends(ctx, userID)
	if err != nil {
		logrus.WithError(err).Warn("Failed to load friends for presence")
		return
	}
	event := PresenceEvent{Type: "status", UserID: userID.Hex(), Status: status}
	for _, f := range friends {
		h.Publish(f.ID, event)
	}
}

// readLoop only keeps the connection alive; clients do not send commands.
func (h *Hub) readLoop(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
