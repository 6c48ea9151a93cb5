package models

import "errors"

var (
	// ErrRoomNotFound is returned when a room code does not match a live room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrPlayerNotFound is returned when a player id is unknown within its room.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrQuestionNotFound indicates the question bank has no questions to draw.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrUnauthorized is returned when a host token does not authorize the room.
	ErrUnauthorized = errors.New("invalid host token")
	// ErrInvalidState is returned for operations not legal in the room's current state.
	ErrInvalidState = errors.New("operation not allowed in current room state")
	// ErrInvalidInput indicates a malformed nickname or answer choice.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyAnswered is returned when a player already has an accepted
	// submission for the current round.
	ErrAlreadyAnswered = errors.New("answer already submitted")
	// ErrRoundClosed is returned when a submission arrives at or after the
	// round's close time.
	ErrRoundClosed = errors.New("round is closed")
	// ErrWrongRound is returned when a submission targets a question that is
	// not the currently open round.
	ErrWrongRound = errors.New("submission does not match the open round")
)
