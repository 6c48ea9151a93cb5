package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"quizarena/config"
	"quizarena/handlers"
	"quizarena/middleware"
	"quizarena/routes"
	"quizarena/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	// Question bank: postgres when configured, otherwise the built-in set.
	var bank services.QuestionBank
	if cfg.DBHost != "" {
		db, err := config.InitDB(cfg)
		if err != nil {
			log.Fatal("Failed to connect to database: ", err)
		}
		bank, err = services.NewGormQuestionBank(db)
		if err != nil {
			log.Fatal("Failed to initialize question bank: ", err)
		}
	} else {
		log.Printf("No database configured, using in-memory question bank")
		bank = services.NewMemoryQuestionBank(nil)
	}

	// Redis mirror is optional; without it resync is served purely in-process.
	var rdb *redis.Client
	if cfg.RedisHost != "" {
		rdb = config.InitRedis(cfg)
	} else {
		log.Printf("No redis configured, room state mirror disabled")
	}
	hub := services.NewHub(rdb)

	registry := services.NewRoomRegistry(services.RegistryConfig{
		Clock:            services.SystemClock(),
		Publisher:        hub,
		Bank:             bank,
		HostTokenSecret:  cfg.HostTokenSecret,
		QuestionsPerRoom: cfg.QuestionsPerRoom,
		MinPlayers:       cfg.MinPlayers,
		AllowLateJoin:    cfg.AllowLateJoin,
		EvictAfter:       cfg.EvictAfter,
		SweepInterval:    cfg.SweepInterval,
	})
	hub.BindState(registry)

	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, handlers.NewRoomHandler(registry), hub, registry)

	srv := &http.Server{
		Addr:    cfg.BindAddress + ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return registry.Run(ctx)
	})
	g.Go(func() error {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Server exited with error: ", err)
	}
	log.Printf("Server shut down")
}
