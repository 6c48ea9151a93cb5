package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quizarena/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubState serves a fixed resync snapshot.
type stubState struct {
	push  *models.QuestionPush
	board models.LeaderboardPush
	err   error
}

func (s *stubState) CurrentRound(code string) (*models.QuestionPush, error) {
	return s.push, s.err
}

func (s *stubState) Leaderboard(code string) (models.LeaderboardPush, error) {
	return s.board, s.err
}

type rawMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// dialHub spins up a ws endpoint that registers every connection with the hub
// and returns a connected client socket.
func dialHub(t *testing.T, hub *Hub, roomCode, playerID string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.RegisterClient(conn, roomCode, playerID, "tester")
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg rawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func runHub(t *testing.T, hub *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
}

func TestHubStateSyncAndBroadcastOrder(t *testing.T) {
	hub := NewHub(nil)
	hub.BindState(&stubState{
		push:  &models.QuestionPush{QuestionID: 7, Stem: "open question", CurrentIndex: 2, TotalCount: 5},
		board: models.LeaderboardPush{ServerTimeEpochMs: 123},
	})
	runHub(t, hub)

	conn := dialHub(t, hub, "ROOM01", "player-1")

	// The first frame after connecting is the resync snapshot.
	sync := readMessage(t, conn)
	require.Equal(t, eventStateSync, sync.Type)
	var snapshot struct {
		CurrentQuestion *models.QuestionPush    `json:"current_question"`
		Leaderboard     *models.LeaderboardPush `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(sync.Payload, &snapshot))
	require.NotNil(t, snapshot.CurrentQuestion)
	assert.Equal(t, uint(7), snapshot.CurrentQuestion.QuestionID)
	require.NotNil(t, snapshot.Leaderboard)
	assert.Equal(t, int64(123), snapshot.Leaderboard.ServerTimeEpochMs)

	// Published events arrive in publish order.
	hub.PublishQuestion("ROOM01", models.QuestionPush{QuestionID: 8})
	hub.PublishReveal("ROOM01", models.RevealPush{QuestionID: 8, CorrectAnswer: "right"})
	hub.PublishLeaderboard("ROOM01", models.LeaderboardPush{ServerTimeEpochMs: 456})

	assert.Equal(t, eventQuestion, readMessage(t, conn).Type)
	assert.Equal(t, eventReveal, readMessage(t, conn).Type)
	assert.Equal(t, eventLeaderboard, readMessage(t, conn).Type)
}

func TestHubRoomIsolation(t *testing.T) {
	hub := NewHub(nil)
	hub.BindState(&stubState{err: models.ErrRoomNotFound})
	runHub(t, hub)

	connA := dialHub(t, hub, "ROOMAA", "player-a")
	connB := dialHub(t, hub, "ROOMBB", "player-b")
	readMessage(t, connA) // state_sync
	readMessage(t, connB)

	hub.PublishQuestion("ROOMAA", models.QuestionPush{QuestionID: 1})

	msg := readMessage(t, connA)
	assert.Equal(t, eventQuestion, msg.Type)

	// The other room's subscriber sees nothing.
	require.NoError(t, connB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := connB.ReadMessage()
	assert.Error(t, err, "expected a read timeout")
}

func TestHubPingPongAndRequestState(t *testing.T) {
	hub := NewHub(nil)
	hub.BindState(&stubState{})
	runHub(t, hub)

	conn := dialHub(t, hub, "ROOM01", "player-1")
	readMessage(t, conn) // initial state_sync

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, eventPong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: "request_state"}))
	assert.Equal(t, eventStateSync, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: "bogus"}))
	assert.Equal(t, eventError, readMessage(t, conn).Type)
}

func TestHubRedisMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hub := NewHub(rdb)

	push := models.QuestionPush{QuestionID: 42, Stem: "mirrored", OpenedAtEpochMs: 1000, ClosedAtEpochMs: 16000}
	hub.PublishQuestion("ROOM01", push)

	got := hub.MirroredQuestion("ROOM01")
	require.NotNil(t, got)
	assert.Equal(t, push, *got)

	// Leaderboard pushes land under their own key.
	hub.PublishLeaderboard("ROOM01", models.LeaderboardPush{ServerTimeEpochMs: 99})
	assert.True(t, mr.Exists("room:ROOM01:leaderboard"))

	// Nothing for rooms that never published.
	assert.Nil(t, hub.MirroredQuestion("ROOM99"))

	// Eviction drops the mirror.
	hub.CloseRoom("ROOM01")
	assert.False(t, mr.Exists("room:ROOM01:question"))
	assert.False(t, mr.Exists("room:ROOM01:leaderboard"))
	assert.Nil(t, hub.MirroredQuestion("ROOM01"))
}

func TestHubStateSyncFallsBackToMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hub := NewHub(rdb)
	hub.BindState(&stubState{err: models.ErrRoomNotFound})
	runHub(t, hub)

	hub.PublishQuestion("ROOM01", models.QuestionPush{QuestionID: 13})

	conn := dialHub(t, hub, "ROOM01", "player-1")
	sync := readMessage(t, conn)
	require.Equal(t, eventStateSync, sync.Type)

	var snapshot struct {
		CurrentQuestion *models.QuestionPush `json:"current_question"`
	}
	require.NoError(t, json.Unmarshal(sync.Payload, &snapshot))
	require.NotNil(t, snapshot.CurrentQuestion)
	assert.Equal(t, uint(13), snapshot.CurrentQuestion.QuestionID)
}
