package config

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port        string
	BindAddress string

	// Postgres backs the question bank. Leave DBHost empty to run with the
	// built-in in-memory bank instead.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis mirrors the latest question/leaderboard push per room. Leave
	// RedisHost empty to disable the mirror.
	RedisHost string
	RedisPort string

	HostTokenSecret string

	QuestionsPerRoom int
	MinPlayers       int
	AllowLateJoin    bool
	EvictAfter       time.Duration
	SweepInterval    time.Duration
}

// Load reads configuration from QUIZ_-prefixed environment variables with
// sensible defaults for local development.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("QUIZ")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("BIND_ADDRESS", "")
	v.SetDefault("DB_HOST", "")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "quizarena")
	v.SetDefault("DB_PASSWORD", "quizarena")
	v.SetDefault("DB_NAME", "quizarena")
	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("HOST_TOKEN_SECRET", "change-me-in-production")
	v.SetDefault("QUESTIONS_PER_ROOM", 20)
	v.SetDefault("MIN_PLAYERS", 1)
	v.SetDefault("ALLOW_LATE_JOIN", true)
	v.SetDefault("EVICT_AFTER", "30m")
	v.SetDefault("SWEEP_INTERVAL", "1m")

	return &Config{
		Port:             v.GetString("PORT"),
		BindAddress:      v.GetString("BIND_ADDRESS"),
		DBHost:           v.GetString("DB_HOST"),
		DBPort:           v.GetString("DB_PORT"),
		DBUser:           v.GetString("DB_USER"),
		DBPassword:       v.GetString("DB_PASSWORD"),
		DBName:           v.GetString("DB_NAME"),
		RedisHost:        v.GetString("REDIS_HOST"),
		RedisPort:        v.GetString("REDIS_PORT"),
		HostTokenSecret:  v.GetString("HOST_TOKEN_SECRET"),
		QuestionsPerRoom: v.GetInt("QUESTIONS_PER_ROOM"),
		MinPlayers:       v.GetInt("MIN_PLAYERS"),
		AllowLateJoin:    v.GetBool("ALLOW_LATE_JOIN"),
		EvictAfter:       v.GetDuration("EVICT_AFTER"),
		SweepInterval:    v.GetDuration("SWEEP_INTERVAL"),
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
	})
}
