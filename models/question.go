package models

import (
	"encoding/json"
	"time"
)

type Question struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Stem          string    `json:"stem" gorm:"not null;size:1000"`
	OptionsJSON   string    `json:"-" gorm:"column:options_json;not null;size:2000"` // e.g. ["A","B","C","D"]
	CorrectAnswer string    `json:"-" gorm:"not null"`
	Category      string    `json:"category" gorm:"size:100"`
	TimeLimitSec  int       `json:"time_limit_sec" gorm:"not null;default:15"`
	BasePoints    int       `json:"base_points" gorm:"not null;default:1000"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Options decodes the stored option list. A malformed column yields an empty
// slice; questions are validated when seeded.
func (q *Question) Options() []string {
	var opts []string
	if err := json.Unmarshal([]byte(q.OptionsJSON), &opts); err != nil {
		return []string{}
	}
	return opts
}

func (q *Question) SetOptions(opts []string) {
	data, err := json.Marshal(opts)
	if err != nil {
		return
	}
	q.OptionsJSON = string(data)
}
