package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"quizarena/handlers"
	"quizarena/models"
	"quizarena/routes"
	"quizarena/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router *gin.Engine
	clock  *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	questions := make([]models.Question, 2)
	for i := range questions {
		questions[i] = models.Question{
			ID:            uint(i + 1),
			Stem:          fmt.Sprintf("Question %d", i+1),
			CorrectAnswer: "right",
			TimeLimitSec:  15,
			BasePoints:    1000,
		}
		questions[i].SetOptions([]string{"right", "wrong"})
	}

	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	hub := services.NewHub(nil)
	registry := services.NewRoomRegistry(services.RegistryConfig{
		Clock:            clock,
		Publisher:        hub,
		Bank:             services.NewMemoryQuestionBank(questions),
		HostTokenSecret:  "test-secret",
		QuestionsPerRoom: 2,
		MinPlayers:       1,
		AllowLateJoin:    true,
	})
	hub.BindState(registry)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	router := gin.New()
	routes.SetupRoutes(router, handlers.NewRoomHandler(registry), hub, registry)
	return &testEnv{router: router, clock: clock}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *testEnv) createRoom(t *testing.T) (code, token string) {
	t.Helper()
	w := e.request(t, http.MethodPost, "/api/rooms", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	return body["roomCode"].(string), body["hostToken"].(string)
}

func (e *testEnv) joinRoom(t *testing.T, code, nickname string) string {
	t.Helper()
	w := e.request(t, http.MethodPost, "/api/rooms/"+code+"/join", gin.H{"nickname": nickname}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	return decode(t, w)["playerId"].(string)
}

func TestCreateAndJoinRoom(t *testing.T) {
	env := newTestEnv(t)

	code, token := env.createRoom(t)
	assert.Len(t, code, 6)
	assert.NotEmpty(t, token)

	playerID := env.joinRoom(t, code, "alice")
	assert.NotEmpty(t, playerID)

	// Missing nickname is a binding failure.
	w := env.request(t, http.MethodPost, "/api/rooms/"+code+"/join", gin.H{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown room.
	w = env.request(t, http.MethodPost, "/api/rooms/ZZZZZZ/join", gin.H{"nickname": "bob"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartRequiresHostToken(t *testing.T) {
	env := newTestEnv(t)
	code, token := env.createRoom(t)
	env.joinRoom(t, code, "alice")

	w := env.request(t, http.MethodPost, "/api/rooms/"+code+"/start", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodPost, "/api/rooms/"+code+"/start", nil, map[string]string{"X-Host-Token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodPost, "/api/rooms/"+code+"/start", nil, map[string]string{"X-Host-Token": token})
	assert.Equal(t, http.StatusOK, w.Code)

	// A second start conflicts.
	w = env.request(t, http.MethodPost, "/api/rooms/"+code+"/start", nil, map[string]string{"X-Host-Token": token})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGameRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	code, token := env.createRoom(t)
	playerID := env.joinRoom(t, code, "alice")
	host := map[string]string{"X-Host-Token": token}

	w := env.request(t, http.MethodPost, "/api/rooms/"+code+"/start", nil, host)
	require.Equal(t, http.StatusOK, w.Code)
	var push models.QuestionPush
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &push))
	assert.Equal(t, 1, push.CurrentIndex)
	assert.Equal(t, 2, push.TotalCount)
	assert.Len(t, push.Options, 2)

	// Resync sees the open round.
	w = env.request(t, http.MethodGet, "/api/rooms/"+code+"/current", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var current models.QuestionPush
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
	assert.Equal(t, push.QuestionID, current.QuestionID)

	env.clock.Advance(2 * time.Second)
	answer := gin.H{"playerId": playerID, "questionId": push.QuestionID, "choice": "right"}
	w = env.request(t, http.MethodPost, "/api/rooms/"+code+"/answer", answer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)
	assert.Equal(t, true, result["correct"])
	assert.Equal(t, float64(867), result["points"])
	assert.Equal(t, float64(867), result["totalScore"])

	// Second submission for the same round conflicts.
	w = env.request(t, http.MethodPost, "/api/rooms/"+code+"/answer", answer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Advancing while the round is open conflicts.
	w = env.request(t, http.MethodPost, "/api/rooms/"+code+"/next", nil, host)
	assert.Equal(t, http.StatusConflict, w.Code)

	// After the deadline the round is gone and next opens round two.
	env.clock.Advance(14 * time.Second)
	w = env.request(t, http.MethodGet, "/api/rooms/"+code+"/current", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.request(t, http.MethodPost, "/api/rooms/"+code+"/next", nil, host)
	require.Equal(t, http.StatusOK, w.Code)
	var push2 models.QuestionPush
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &push2))
	assert.Equal(t, 2, push2.CurrentIndex)
	assert.NotEqual(t, push.QuestionID, push2.QuestionID)

	// Answering round one's question now is a wrong-round conflict.
	w = env.request(t, http.MethodPost, "/api/rooms/"+code+"/answer", answer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Exhausting the sequence finishes the room and returns the final board.
	env.clock.Advance(16 * time.Second)
	w = env.request(t, http.MethodPost, "/api/rooms/"+code+"/next", nil, host)
	require.Equal(t, http.StatusOK, w.Code)
	final := decode(t, w)
	assert.Equal(t, true, final["finished"])
	assert.Contains(t, final, "leaderboard")

	w = env.request(t, http.MethodGet, "/api/rooms/"+code+"/leaderboard", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var board models.LeaderboardPush
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &board))
	require.Len(t, board.Entries, 1)
	assert.Equal(t, 867, board.Entries[0].TotalScore)
}

func TestWebSocketSubscribeRejectsStrangers(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.createRoom(t)
	env.joinRoom(t, code, "alice")

	w := env.request(t, http.MethodGet, "/ws/"+code+"/stranger", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodGet, "/ws/ZZZZZZ/host", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}
