package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"quizarena/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Room codes avoid ambiguous characters (no I, O, 0, 1).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

type RegistryConfig struct {
	Clock     Clock
	Publisher Publisher
	Bank      QuestionBank

	// HostTokenSecret signs the per-room host capability tokens.
	HostTokenSecret string

	QuestionsPerRoom int
	MinPlayers       int
	AllowLateJoin    bool

	// EvictAfter is the grace window: finished rooms and rooms with zero
	// players are removed once idle for this long.
	EvictAfter    time.Duration
	SweepInterval time.Duration
}

// RoomRegistry creates rooms, allocates room codes and host tokens, holds the
// set of live rooms and evicts finished or abandoned ones. Its map lock is
// independent of every room's internal lock.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*RoomSession

	cfg RegistryConfig
}

func NewRoomRegistry(cfg RegistryConfig) *RoomRegistry {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.QuestionsPerRoom <= 0 {
		cfg.QuestionsPerRoom = 20
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &RoomRegistry{
		rooms: make(map[string]*RoomSession),
		cfg:   cfg,
	}
}

type hostClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// CreateRoom allocates a fresh room in Waiting state and returns its code
// together with the host capability token. No side effects on other rooms.
func (r *RoomRegistry) CreateRoom() (roomCode, hostToken string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 10; attempt++ {
		code, err := generateRoomCode(roomCodeLength)
		if err != nil {
			return "", "", fmt.Errorf("generate room code: %w", err)
		}
		if _, taken := r.rooms[code]; taken {
			continue
		}

		token, err := r.mintHostToken(code)
		if err != nil {
			return "", "", fmt.Errorf("mint host token: %w", err)
		}

		r.rooms[code] = NewRoomSession(code, r.cfg.Clock, r.cfg.Publisher, SessionPolicy{
			AllowLateJoin: r.cfg.AllowLateJoin,
			MinPlayers:    r.cfg.MinPlayers,
		})
		log.Printf("Created room %s (%d live rooms)", code, len(r.rooms))
		return code, token, nil
	}
	return "", "", fmt.Errorf("room code space exhausted after repeated collisions")
}

func (r *RoomRegistry) JoinRoom(code, nickname string) (*models.Player, error) {
	session, err := r.lookup(code)
	if err != nil {
		return nil, err
	}
	return session.Join(nickname)
}

// StartRoom binds a freshly drawn question sequence and opens the first round.
func (r *RoomRegistry) StartRoom(code, hostToken string) (*models.QuestionPush, error) {
	session, err := r.authorize(code, hostToken)
	if err != nil {
		return nil, err
	}
	questions, err := r.cfg.Bank.Draw(r.cfg.QuestionsPerRoom)
	if err != nil {
		return nil, fmt.Errorf("draw questions: %w", err)
	}
	return session.Start(questions)
}

func (r *RoomRegistry) NextQuestion(code, hostToken string) (push *models.QuestionPush, finished bool, err error) {
	session, err := r.authorize(code, hostToken)
	if err != nil {
		return nil, false, err
	}
	return session.Next()
}

// CurrentRound is the reconnect/resync path: nil means no round is open.
func (r *RoomRegistry) CurrentRound(code string) (*models.QuestionPush, error) {
	session, err := r.lookup(code)
	if err != nil {
		return nil, err
	}
	return session.CurrentPush(), nil
}

func (r *RoomRegistry) SubmitAnswer(code, playerID string, questionID uint, choice string) (*models.Submission, int, error) {
	session, err := r.lookup(code)
	if err != nil {
		return nil, 0, err
	}
	sub, err := session.Submit(playerID, questionID, choice)
	if err != nil {
		return nil, 0, err
	}
	return sub, session.Total(playerID), nil
}

func (r *RoomRegistry) Leaderboard(code string) (models.LeaderboardPush, error) {
	session, err := r.lookup(code)
	if err != nil {
		return models.LeaderboardPush{}, err
	}
	return session.Leaderboard(), nil
}

// CanSubscribe reports whether a client id may attach to a room's push
// channel: any joined player, or the host (which subscribes as "host").
func (r *RoomRegistry) CanSubscribe(code, clientID string) error {
	session, err := r.lookup(code)
	if err != nil {
		return err
	}
	if clientID == "host" || session.HasPlayer(clientID) {
		return nil
	}
	return models.ErrPlayerNotFound
}

func (r *RoomRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Run sweeps for evictable rooms until ctx is done.
func (r *RoomRegistry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep removes finished rooms and player-less rooms whose grace window has
// elapsed, releasing their timers and channel subscriptions.
func (r *RoomRegistry) Sweep() int {
	now := r.cfg.Clock.Now()

	r.mu.Lock()
	var evicted []*RoomSession
	for code, session := range r.rooms {
		status := session.Status()
		idle := now.Sub(session.LastActivity())
		if (status == models.StatusFinished || session.PlayerCount() == 0) && idle >= r.cfg.EvictAfter {
			delete(r.rooms, code)
			evicted = append(evicted, session)
		}
	}
	r.mu.Unlock()

	for _, session := range evicted {
		session.Close()
		if r.cfg.Publisher != nil {
			r.cfg.Publisher.CloseRoom(session.Code())
		}
		log.Printf("Evicted room %s", session.Code())
	}
	return len(evicted)
}

func (r *RoomRegistry) lookup(code string) (*RoomSession, error) {
	code = NormalizeRoomCode(code)
	r.mu.RLock()
	session, ok := r.rooms[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %s: %w", code, models.ErrRoomNotFound)
	}
	return session, nil
}

// authorize resolves the room and verifies the host capability token against
// it. The token is a capability, not a user identity.
func (r *RoomRegistry) authorize(code, hostToken string) (*RoomSession, error) {
	session, err := r.lookup(code)
	if err != nil {
		return nil, err
	}
	var claims hostClaims
	token, err := jwt.ParseWithClaims(hostToken, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(r.cfg.HostTokenSecret), nil
	})
	if err != nil || !token.Valid || claims.Room != session.Code() {
		return nil, models.ErrUnauthorized
	}
	return session, nil
}

func (r *RoomRegistry) mintHostToken(code string) (string, error) {
	claims := hostClaims{
		Room: code,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(r.cfg.Clock.Now()),
			ID:       uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.cfg.HostTokenSecret))
}

func generateRoomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}

// NormalizeRoomCode makes code matching case-insensitive; codes are minted
// upper case.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
