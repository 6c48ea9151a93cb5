package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"quizarena/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	eventQuestion     = "question"
	eventReveal       = "reveal"
	eventLeaderboard  = "leaderboard"
	eventRoomEnd      = "room_end"
	eventPlayerJoined = "player_joined"
	eventStateSync    = "state_sync"
	eventPong         = "pong"
	eventError        = "error"
)

// mirrorTTL caps how long the redis mirror of a room outlives its last push.
const mirrorTTL = 2 * time.Hour

// StateProvider supplies current room state for the resync path, so a client
// connecting after a publish can pull instead of waiting for the next push.
type StateProvider interface {
	CurrentRound(code string) (*models.QuestionPush, error)
	Leaderboard(code string) (models.LeaderboardPush, error)
}

// Hub fans room events out to every connected subscriber. Delivery is
// best-effort: a client whose send buffer is full is dropped rather than
// allowed to block the publisher. Within one room, events are handed to each
// client's send queue in publish order.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex

	state StateProvider
	redis *redis.Client
}

type Client struct {
	hub      *Hub
	id       string
	socket   *websocket.Conn
	send     chan []byte
	roomCode string
	playerID string
	nickname string
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewHub creates the fanout. rdb may be nil; the redis mirror is then
// disabled and every publish stays purely in-process.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		redis:      rdb,
	}
}

// BindState wires the resync source. Set once during startup, before any
// client connects.
func (h *Hub) BindState(state StateProvider) {
	h.state = state
}

func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("Client %s joined channel of room %s (player %s)", client.id, client.roomCode, client.playerID)
			h.sendStateSync(client)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			log.Printf("Client %s left channel of room %s", client.id, client.roomCode)
		}
	}
}

func (h *Hub) PublishQuestion(roomCode string, push models.QuestionPush) {
	h.broadcastToRoom(roomCode, eventQuestion, push)
	h.mirror(roomCode, "question", push)
}

func (h *Hub) PublishReveal(roomCode string, push models.RevealPush) {
	h.broadcastToRoom(roomCode, eventReveal, push)
}

func (h *Hub) PublishLeaderboard(roomCode string, push models.LeaderboardPush) {
	h.broadcastToRoom(roomCode, eventLeaderboard, push)
	h.mirror(roomCode, "leaderboard", push)
}

func (h *Hub) PublishPlayerJoined(roomCode string, player models.Player) {
	h.broadcastToRoom(roomCode, eventPlayerJoined, player)
}

func (h *Hub) PublishRoomEnd(roomCode string, final models.LeaderboardPush) {
	h.broadcastToRoom(roomCode, eventRoomEnd, final)
	h.mirror(roomCode, "leaderboard", final)
}

// CloseRoom disconnects every subscriber of the room and deletes its mirror
// keys. Used on eviction.
func (h *Hub) CloseRoom(roomCode string) {
	h.mutex.Lock()
	for client := range h.clients {
		if client.roomCode == roomCode {
			delete(h.clients, client)
			close(client.send)
		}
	}
	h.mutex.Unlock()

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := h.redis.Del(ctx, mirrorKey(roomCode, "question"), mirrorKey(roomCode, "leaderboard")).Err(); err != nil {
			log.Printf("Failed to drop mirror keys for room %s: %v", roomCode, err)
		}
	}
}

func (h *Hub) broadcastToRoom(roomCode, messageType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: messageType, Payload: payload})
	if err != nil {
		log.Printf("Error marshaling %s message: %v", messageType, err)
		return
	}

	h.mutex.Lock()
	for client := range h.clients {
		if client.roomCode != roomCode {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow subscriber; drop it so the publisher never blocks.
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.mutex.Unlock()
}

// mirror keeps the latest push per room in redis, best-effort, so a restarted
// or sharded frontend can still answer resync reads. Failures are logged and
// never affect round progression.
func (h *Hub) mirror(roomCode, kind string, payload interface{}) {
	if h.redis == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal %s mirror for room %s: %v", kind, roomCode, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.redis.Set(ctx, mirrorKey(roomCode, kind), data, mirrorTTL).Err(); err != nil {
		log.Printf("Failed to mirror %s for room %s: %v", kind, roomCode, err)
	}
}

// MirroredQuestion reads the last mirrored question push for a room. Returns
// nil when the mirror is disabled or has no entry.
func (h *Hub) MirroredQuestion(roomCode string) *models.QuestionPush {
	if h.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := h.redis.Get(ctx, mirrorKey(roomCode, "question")).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Redis error reading question mirror for room %s: %v", roomCode, err)
		}
		return nil
	}
	var push models.QuestionPush
	if err := json.Unmarshal([]byte(data), &push); err != nil {
		log.Printf("Failed to unmarshal question mirror for room %s: %v", roomCode, err)
		return nil
	}
	return &push
}

func mirrorKey(roomCode, kind string) string {
	return "room:" + roomCode + ":" + kind
}

// sendStateSync pushes the room's current question and leaderboard to one
// client. Falls back to the redis mirror when the room is not known locally.
func (h *Hub) sendStateSync(client *Client) {
	payload := map[string]interface{}{
		"current_question": nil,
		"leaderboard":      nil,
	}

	if h.state != nil {
		if push, err := h.state.CurrentRound(client.roomCode); err == nil {
			payload["current_question"] = push
			if lb, err := h.state.Leaderboard(client.roomCode); err == nil {
				payload["leaderboard"] = lb
			}
		} else if mirrored := h.MirroredQuestion(client.roomCode); mirrored != nil {
			payload["current_question"] = mirrored
		}
	}

	data, err := json.Marshal(Message{Type: eventStateSync, Payload: payload})
	if err != nil {
		log.Printf("Error marshaling state sync: %v", err)
		return
	}

	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.mutex.Unlock()
}

// RegisterClient attaches an upgraded connection to a room channel and starts
// its pumps.
func (h *Hub) RegisterClient(conn *websocket.Conn, roomCode, playerID, nickname string) *Client {
	client := &Client{
		hub:      h,
		id:       uuid.NewString(),
		socket:   conn,
		send:     make(chan []byte, 256),
		roomCode: roomCode,
		playerID: playerID,
		nickname: nickname,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling client message: %v", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for message := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		data, _ := json.Marshal(Message{Type: eventPong, Payload: "pong"})
		c.trySend(data)

	case "request_state":
		c.hub.sendStateSync(c)

	default:
		log.Printf("Unknown message type %q from player %s in room %s", msg.Type, c.playerID, c.roomCode)
		data, _ := json.Marshal(Message{Type: eventError, Payload: "unsupported message type"})
		c.trySend(data)
	}
}

// trySend queues data unless the client has already been dropped; the
// membership check under the hub lock keeps it from racing a channel close.
func (c *Client) trySend(data []byte) {
	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
