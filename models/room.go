package models

import "time"

type RoomStatus string

const (
	StatusWaiting    RoomStatus = "waiting"
	StatusInProgress RoomStatus = "in_progress"
	StatusFinished   RoomStatus = "finished"
)

// Player is a member of exactly one room for its lifetime. IDs are UUIDv7,
// so ascending id order equals join order.
type Player struct {
	ID       string    `json:"player_id"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joined_at"`
}

// Round is one timed question instance within a room. A room has at most one
// open round at a time; rounds are never reopened.
type Round struct {
	Index    int
	Question Question
	OpenedAt time.Time
	ClosedAt time.Time
	Closed   bool
}

// Submission is a player's single accepted answer attempt for a round.
type Submission struct {
	PlayerID   string
	RoundIndex int
	QuestionID uint
	Choice     string
	ReceivedAt time.Time
	Correct    bool
	Points     int
}
