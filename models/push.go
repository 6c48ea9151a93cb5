package models

// QuestionPush is the payload broadcast when a round opens, and returned by
// the current-round resync query. Timestamps are server epoch milliseconds;
// clients must treat closedAtEpochMs as authoritative for disabling input.
type QuestionPush struct {
	QuestionID      uint     `json:"questionId"`
	Stem            string   `json:"stem"`
	Options         []string `json:"options"`
	OpenedAtEpochMs int64    `json:"openedAtEpochMs"`
	ClosedAtEpochMs int64    `json:"closedAtEpochMs"`
	CurrentIndex    int      `json:"currentIndex"` // 1-based, e.g. 3/20
	TotalCount      int      `json:"totalCount"`
}

type LeaderboardEntry struct {
	PlayerID   string `json:"playerId"`
	Nickname   string `json:"nickname"`
	TotalScore int    `json:"totalScore"`
}

// LeaderboardPush carries entries pre-sorted by total score descending,
// ties broken by ascending player id.
type LeaderboardPush struct {
	Entries           []LeaderboardEntry `json:"entries"`
	ServerTimeEpochMs int64              `json:"serverTimeEpochMs"`
}

// RevealEntry is one player's outcome for a closed round.
type RevealEntry struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Choice   string `json:"choice"`
	Correct  bool   `json:"correct"`
	Points   int    `json:"points"`
}

// RevealPush is broadcast when a round closes: the correct answer plus every
// accepted submission's outcome.
type RevealPush struct {
	QuestionID    uint          `json:"questionId"`
	CorrectAnswer string        `json:"correctAnswer"`
	Results       []RevealEntry `json:"results"`
}
