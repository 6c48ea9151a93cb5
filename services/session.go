package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"quizarena/models"

	"github.com/google/uuid"
)

// Publisher delivers room events to every subscriber of the room's channel.
// Implementations must not block: a slow or disconnected subscriber cannot be
// allowed to delay round progression.
type Publisher interface {
	PublishQuestion(roomCode string, push models.QuestionPush)
	PublishReveal(roomCode string, push models.RevealPush)
	PublishLeaderboard(roomCode string, push models.LeaderboardPush)
	PublishPlayerJoined(roomCode string, player models.Player)
	PublishRoomEnd(roomCode string, final models.LeaderboardPush)
	// CloseRoom disconnects all subscribers and releases any per-room
	// transport state. Called when the room is evicted.
	CloseRoom(roomCode string)
}

// SessionPolicy carries the per-room knobs fixed at room creation.
type SessionPolicy struct {
	AllowLateJoin bool
	MinPlayers    int
	MaxNickname   int
}

// RoomSession owns all mutable state for one room: players, round
// progression, deadline enforcement, scoring and leaderboard aggregation.
// Every external operation serializes on mu; rooms never share a lock.
type RoomSession struct {
	mu sync.Mutex

	code         string
	status       models.RoomStatus
	createdAt    time.Time
	lastActivity time.Time

	players   map[string]*models.Player
	questions []models.Question
	current   *models.Round
	ledger    *scoreLedger

	timer *time.Timer

	clock  Clock
	pub    Publisher
	policy SessionPolicy
}

func NewRoomSession(code string, clock Clock, pub Publisher, policy SessionPolicy) *RoomSession {
	if policy.MinPlayers < 1 {
		policy.MinPlayers = 1
	}
	if policy.MaxNickname <= 0 {
		policy.MaxNickname = 32
	}
	now := clock.Now()
	return &RoomSession{
		code:         code,
		status:       models.StatusWaiting,
		createdAt:    now,
		lastActivity: now,
		players:      make(map[string]*models.Player),
		ledger:       newScoreLedger(),
		clock:        clock,
		pub:          pub,
		policy:       policy,
	}
}

func (s *RoomSession) Code() string { return s.code }

// Join adds a player to the room. Nickname collisions are allowed; players
// are distinguished by id.
func (s *RoomSession) Join(nickname string) (*models.Player, error) {
	if nickname == "" || len(nickname) > s.policy.MaxNickname {
		return nil, fmt.Errorf("nickname must be 1-%d characters: %w", s.policy.MaxNickname, models.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	switch s.status {
	case models.StatusWaiting:
	case models.StatusInProgress:
		if !s.policy.AllowLateJoin {
			return nil, fmt.Errorf("room already in progress: %w", models.ErrInvalidState)
		}
	default:
		return nil, fmt.Errorf("room is finished: %w", models.ErrInvalidState)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate player id: %w", err)
	}
	player := &models.Player{
		ID:       id.String(),
		Nickname: nickname,
		JoinedAt: s.clock.Now(),
	}
	s.players[player.ID] = player

	s.pub.PublishPlayerJoined(s.code, *player)
	return player, nil
}

// Start binds the question sequence and opens round 0. Binding happens here,
// not at room creation, so content changes cannot leak into a running room.
func (s *RoomSession) Start(questions []models.Question) (*models.QuestionPush, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	if s.status != models.StatusWaiting {
		return nil, fmt.Errorf("room already started: %w", models.ErrInvalidState)
	}
	if len(s.players) < s.policy.MinPlayers {
		return nil, fmt.Errorf("need at least %d joined player(s): %w", s.policy.MinPlayers, models.ErrInvalidState)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no questions bound: %w", models.ErrInvalidState)
	}

	s.questions = questions
	s.status = models.StatusInProgress

	push := s.openRoundLocked(0)
	s.pub.PublishLeaderboard(s.code, s.ledger.Leaderboard(s.players, s.clock.Now()))
	return push, nil
}

// Next advances past a closed round. While the current round is still open it
// fails with InvalidState, so a double-click can never double-advance: the
// first call opens the following round, the second finds it open. When the
// sequence is exhausted the room transitions to Finished and finished=true is
// returned instead of a push.
func (s *RoomSession) Next() (push *models.QuestionPush, finished bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	if s.status != models.StatusInProgress || s.current == nil {
		return nil, false, fmt.Errorf("room is not in progress: %w", models.ErrInvalidState)
	}

	s.ensureDeadlineLocked()

	if !s.current.Closed {
		return nil, false, fmt.Errorf("round %d is still open: %w", s.current.Index, models.ErrInvalidState)
	}

	nextIndex := s.current.Index + 1
	if nextIndex >= len(s.questions) {
		s.status = models.StatusFinished
		s.stopTimerLocked()
		s.pub.PublishRoomEnd(s.code, s.ledger.Leaderboard(s.players, s.clock.Now()))
		return nil, true, nil
	}

	return s.openRoundLocked(nextIndex), false, nil
}

// Submit validates a player's answer against the open round and records it.
// The server clock governs the deadline; a submission at or after the close
// time is rejected even if the close timer has not fired yet.
func (s *RoomSession) Submit(playerID string, questionID uint, choice string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	player, ok := s.players[playerID]
	if !ok {
		return nil, models.ErrPlayerNotFound
	}
	if choice == "" {
		return nil, fmt.Errorf("empty choice: %w", models.ErrInvalidInput)
	}
	if s.status != models.StatusInProgress || s.current == nil {
		return nil, fmt.Errorf("no round in progress: %w", models.ErrInvalidState)
	}

	s.ensureDeadlineLocked()

	if questionID != s.current.Question.ID {
		return nil, models.ErrWrongRound
	}
	now := s.clock.Now()
	if s.current.Closed || !now.Before(s.current.ClosedAt) {
		return nil, models.ErrRoundClosed
	}
	if s.ledger.Has(playerID, s.current.Index) {
		return nil, models.ErrAlreadyAnswered
	}

	correct := choice == s.current.Question.CorrectAnswer
	latency := now.Sub(s.current.OpenedAt)
	sub := &models.Submission{
		PlayerID:   player.ID,
		RoundIndex: s.current.Index,
		QuestionID: questionID,
		Choice:     choice,
		ReceivedAt: now,
		Correct:    correct,
		Points:     computeScore(correct, s.current.Question.BasePoints, s.current.Question.TimeLimitSec, latency),
	}
	if err := s.ledger.Record(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// CurrentPush returns the open round's payload, or nil if no round is open.
// Late joiners and reconnecting clients pull this instead of waiting for the
// next push.
func (s *RoomSession) CurrentPush() *models.QuestionPush {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDeadlineLocked()

	if s.status != models.StatusInProgress || s.current == nil || s.current.Closed {
		return nil
	}
	push := s.pushForRoundLocked(s.current)
	return &push
}

func (s *RoomSession) Leaderboard() models.LeaderboardPush {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Leaderboard(s.players, s.clock.Now())
}

// Total is the player's cumulative score across all rounds.
func (s *RoomSession) Total(playerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Total(playerID)
}

func (s *RoomSession) Status() models.RoomStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *RoomSession) HasPlayer(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.players[playerID]
	return ok
}

func (s *RoomSession) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

func (s *RoomSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Close stops the round timer. Called when the room is evicted.
func (s *RoomSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

// openRoundLocked opens round i and schedules its close. Caller holds mu.
func (s *RoomSession) openRoundLocked(i int) *models.QuestionPush {
	q := s.questions[i]
	opened := s.clock.Now()
	s.current = &models.Round{
		Index:    i,
		Question: q,
		OpenedAt: opened,
		ClosedAt: opened.Add(time.Duration(q.TimeLimitSec) * time.Second),
	}

	s.stopTimerLocked()
	index := i
	s.timer = time.AfterFunc(s.current.ClosedAt.Sub(opened), func() {
		s.deadlineClose(index)
	})

	push := s.pushForRoundLocked(s.current)
	s.pub.PublishQuestion(s.code, push)
	log.Printf("Room %s: opened round %d (question %d, closes at %s)", s.code, i, q.ID, s.current.ClosedAt.Format(time.RFC3339))
	return &push
}

// deadlineClose is the scheduled, self-driving close transition: it does not
// depend on any client request arriving.
func (s *RoomSession) deadlineClose(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeRoundLocked(index)
}

// ensureDeadlineLocked treats a past-deadline round as closed even before the
// timer callback has run, so request order cannot race the deadline.
func (s *RoomSession) ensureDeadlineLocked() {
	if s.current != nil && !s.current.Closed && !s.clock.Now().Before(s.current.ClosedAt) {
		s.closeRoundLocked(s.current.Index)
	}
}

// closeRoundLocked closes round index, finalizes its scoring view and
// broadcasts the reveal and leaderboard. Idempotent: the race between the
// deadline timer and a lazy close resolves to a single close, whichever actor
// arrives second observes the round already closed.
func (s *RoomSession) closeRoundLocked(index int) {
	if s.current == nil || s.current.Index != index || s.current.Closed {
		return
	}
	s.current.Closed = true
	s.stopTimerLocked()

	s.pub.PublishReveal(s.code, models.RevealPush{
		QuestionID:    s.current.Question.ID,
		CorrectAnswer: s.current.Question.CorrectAnswer,
		Results:       s.ledger.RoundResults(index, s.players),
	})
	s.pub.PublishLeaderboard(s.code, s.ledger.Leaderboard(s.players, s.clock.Now()))
	log.Printf("Room %s: closed round %d", s.code, index)
}

func (s *RoomSession) pushForRoundLocked(r *models.Round) models.QuestionPush {
	return models.QuestionPush{
		QuestionID:      r.Question.ID,
		Stem:            r.Question.Stem,
		Options:         r.Question.Options(),
		OpenedAtEpochMs: r.OpenedAt.UnixMilli(),
		ClosedAtEpochMs: r.ClosedAt.UnixMilli(),
		CurrentIndex:    r.Index + 1,
		TotalCount:      len(s.questions),
	}
}

func (s *RoomSession) touchLocked() {
	s.lastActivity = s.clock.Now()
}

func (s *RoomSession) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
