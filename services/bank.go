package services

import (
	"fmt"
	"log"
	"math/rand"

	"quizarena/models"

	"gorm.io/gorm"
)

// QuestionBank is a read-only provider of question content. It is safe to
// share across all rooms without synchronization once constructed.
type QuestionBank interface {
	// Draw returns a shuffled sequence of at most n questions.
	Draw(n int) ([]models.Question, error)
}

// GormQuestionBank serves questions from a postgres table. The table is
// migrated and seeded with the default set on startup if empty.
type GormQuestionBank struct {
	db *gorm.DB
}

func NewGormQuestionBank(db *gorm.DB) (*GormQuestionBank, error) {
	if err := db.AutoMigrate(&models.Question{}); err != nil {
		return nil, fmt.Errorf("migrate questions: %w", err)
	}

	var count int64
	if err := db.Model(&models.Question{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}
	if count == 0 {
		seed := SeedQuestions()
		if err := db.Create(&seed).Error; err != nil {
			return nil, fmt.Errorf("seed questions: %w", err)
		}
		log.Printf("Question bank was empty, seeded %d default questions", len(seed))
	}

	return &GormQuestionBank{db: db}, nil
}

func (b *GormQuestionBank) Draw(n int) ([]models.Question, error) {
	var questions []models.Question
	if err := b.db.Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return drawFrom(questions, n)
}

// MemoryQuestionBank holds a fixed question set in memory. Used when no
// database is configured, and by tests.
type MemoryQuestionBank struct {
	questions []models.Question
}

func NewMemoryQuestionBank(questions []models.Question) *MemoryQuestionBank {
	if len(questions) == 0 {
		questions = SeedQuestions()
	}
	// Questions persisted through gorm get ids from the database; the
	// in-memory set needs them assigned so round matching works.
	for i := range questions {
		if questions[i].ID == 0 {
			questions[i].ID = uint(i + 1)
		}
	}
	return &MemoryQuestionBank{questions: questions}
}

func (b *MemoryQuestionBank) Draw(n int) ([]models.Question, error) {
	return drawFrom(b.questions, n)
}

func drawFrom(questions []models.Question, n int) ([]models.Question, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("question bank is empty: %w", models.ErrQuestionNotFound)
	}

	drawn := make([]models.Question, len(questions))
	copy(drawn, questions)
	rand.Shuffle(len(drawn), func(i, j int) {
		drawn[i], drawn[j] = drawn[j], drawn[i]
	})

	if n > 0 && len(drawn) > n {
		drawn = drawn[:n]
	}
	return drawn, nil
}

// SeedQuestions is the built-in question set, used to initialize an empty
// bank so a fresh deployment is playable immediately.
func SeedQuestions() []models.Question {
	type seed struct {
		stem     string
		options  []string
		answer   string
		category string
	}

	seeds := []seed{
		{"Which planet is known as the Red Planet?", []string{"Earth", "Mars", "Jupiter", "Venus"}, "Mars", "Science"},
		{"What is the largest ocean on Earth?", []string{"Atlantic", "Indian", "Arctic", "Pacific"}, "Pacific", "Geography"},
		{"How many sides does a hexagon have?", []string{"5", "6", "7", "8"}, "6", "Math"},
		{"Which language has goroutines as a core feature?", []string{"Java", "Python", "Go", "Ruby"}, "Go", "Programming"},
		{"What year did the first moon landing happen?", []string{"1965", "1969", "1972", "1958"}, "1969", "History"},
		{"Which gas do plants absorb from the atmosphere?", []string{"Oxygen", "Nitrogen", "Carbon dioxide", "Helium"}, "Carbon dioxide", "Science"},
		{"What is the capital of Australia?", []string{"Sydney", "Melbourne", "Canberra", "Perth"}, "Canberra", "Geography"},
		{"How many bits are in a byte?", []string{"4", "8", "16", "32"}, "8", "Programming"},
	}

	questions := make([]models.Question, 0, len(seeds))
	for _, s := range seeds {
		q := models.Question{
			Stem:          s.stem,
			CorrectAnswer: s.answer,
			Category:      s.category,
			TimeLimitSec:  15,
			BasePoints:    1000,
		}
		q.SetOptions(s.options)
		questions = append(questions, q)
	}
	return questions
}
