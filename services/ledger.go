package services

import (
	"math"
	"sort"
	"time"

	"quizarena/models"
)

// scoreLedger records at most one accepted submission per (player, round) and
// derives cumulative totals. It is owned by a RoomSession and relies on the
// session's lock for synchronization.
type scoreLedger struct {
	submissions map[int]map[string]*models.Submission // round index -> player id
	totals      map[string]int
}

func newScoreLedger() *scoreLedger {
	return &scoreLedger{
		submissions: make(map[int]map[string]*models.Submission),
		totals:      make(map[string]int),
	}
}

// Record accepts a submission unless the player already has one for the
// round. Later duplicates are rejected, never overwritten.
func (l *scoreLedger) Record(sub *models.Submission) error {
	byPlayer, ok := l.submissions[sub.RoundIndex]
	if !ok {
		byPlayer = make(map[string]*models.Submission)
		l.submissions[sub.RoundIndex] = byPlayer
	}
	if _, exists := byPlayer[sub.PlayerID]; exists {
		return models.ErrAlreadyAnswered
	}
	byPlayer[sub.PlayerID] = sub
	l.totals[sub.PlayerID] += sub.Points
	return nil
}

func (l *scoreLedger) Has(playerID string, round int) bool {
	_, ok := l.submissions[round][playerID]
	return ok
}

func (l *scoreLedger) Total(playerID string) int {
	return l.totals[playerID]
}

// RoundResults returns every accepted submission for a round, sorted by
// player id so output never depends on map iteration order.
func (l *scoreLedger) RoundResults(round int, players map[string]*models.Player) []models.RevealEntry {
	results := make([]models.RevealEntry, 0, len(l.submissions[round]))
	for playerID, sub := range l.submissions[round] {
		nickname := ""
		if p, ok := players[playerID]; ok {
			nickname = p.Nickname
		}
		results = append(results, models.RevealEntry{
			PlayerID: playerID,
			Nickname: nickname,
			Choice:   sub.Choice,
			Correct:  sub.Correct,
			Points:   sub.Points,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].PlayerID < results[j].PlayerID
	})
	return results
}

// Leaderboard builds the ordered ranking of all players: total score
// descending, ties broken by ascending player id for a total order.
func (l *scoreLedger) Leaderboard(players map[string]*models.Player, now time.Time) models.LeaderboardPush {
	entries := make([]models.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, models.LeaderboardEntry{
			PlayerID:   p.ID,
			Nickname:   p.Nickname,
			TotalScore: l.totals[p.ID],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
	return models.LeaderboardPush{
		Entries:           entries,
		ServerTimeEpochMs: now.UnixMilli(),
	}
}

// computeScore awards basePoints scaled by the remaining fraction of the
// answer window, floored at 0.3; wrong answers score zero. Deterministic
// given correctness and latency, and monotonic: a faster correct answer never
// scores less than a slower one.
func computeScore(correct bool, basePoints, timeLimitSec int, latency time.Duration) int {
	if !correct {
		return 0
	}
	if timeLimitSec < 1 {
		timeLimitSec = 1
	}
	limitMs := float64(timeLimitSec) * 1000.0
	factor := 1.0 - float64(latency.Milliseconds())/limitMs
	if factor < 0.3 {
		factor = 0.3
	}
	return int(math.Round(float64(basePoints) * factor))
}
