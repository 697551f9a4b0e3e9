package main // Entry point package

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/meeting-sync/internal/config"
	"github.com/iliyamo/meeting-sync/internal/database"
	"github.com/iliyamo/meeting-sync/internal/handler"
	"github.com/iliyamo/meeting-sync/internal/middleware"
	"github.com/iliyamo/meeting-sync/internal/pubsub"
	"github.com/iliyamo/meeting-sync/internal/queue"
	"github.com/iliyamo/meeting-sync/internal/repository"
	"github.com/iliyamo/meeting-sync/internal/router"
	"github.com/iliyamo/meeting-sync/internal/service"
)

func main() {
	cfg := config.Load() // Load environment config
	setupLogger(cfg)

	db, err := database.Open(cfg.Database())
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("database unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := pubsub.NewHub(cfg.HubBuffer)
	pub, rdb, closer := transport(ctx, cfg, hub)
	fanout := pubsub.NewFanout(pub, cfg.PublishTimeout)

	roomRepo := repository.NewMeetingRoomRepo(db)
	participantRepo := repository.NewParticipantRepo(db)
	calendarRepo := repository.NewCalendarRepo(db)
	txm := repository.NewTxManager(db)

	rooms := service.NewMeetingRoomService(txm, roomRepo, participantRepo, calendarRepo,
		service.NewCodeGenerator(roomRepo, nil), fanout, service.Options{
			Location:   cfg.Location,
			CodeLength: cfg.CodeLength,
			BcryptCost: cfg.BcryptCost,
		})
	attendance := service.NewAttendanceTracker(txm, roomRepo, participantRepo, fanout, cfg.Location, nil)

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger())

	router.RegisterRoutes(e, handler.Health(db))
	router.RegisterMeetingRooms(e,
		handler.NewMeetingRoomHandler(rooms, attendance, cfg.Location),
		handler.NewSubscribeHandler(hub, rooms),
		cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	)

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Str("env", cfg.Env).Str("pubsub", cfg.PubSubDriver).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("module", "main").Msg("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Str("module", "main").Msg("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("http shutdown")
	}
	fanout.Close() // drains queued notifications into the transport
	cancel()
	if closer != nil {
		_ = closer.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	_ = db.Close()
}

// setupLogger configures the global zerolog logger: human readable output
// in dev, JSON otherwise.
func setupLogger(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// transport selects the publisher behind the fan-out.  For redis and amqp
// a background relay feeds messages from every node back into the local
// hub, which is where WebSocket subscribers listen.  The returned client is
// shared with the rate limiter and may be nil.
func transport(ctx context.Context, cfg config.Config, hub *pubsub.Hub) (pubsub.Publisher, *redis.Client, io.Closer) {
	rdb := config.NewRedisClient()

	switch cfg.PubSubDriver {
	case config.DriverRedis:
		if rdb == nil {
			log.Warn().Str("module", "main").Msg("redis unavailable, falling back to in-process hub")
			return hub, nil, nil
		}
		bridge := pubsub.NewRedisBridge(rdb, hub)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Error().Err(err).Str("module", "pubsub.redis").Msg("bridge stopped")
			}
		}()
		return pubsub.NewRedisPublisher(rdb), rdb, nil

	case config.DriverAMQP:
		p := queue.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		go func() {
			if err := queue.StartNotificationConsumer(ctx, cfg.AMQPURL, cfg.AMQPExchange, hub); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("module", "queue.consumer").Msg("consumer stopped")
			}
		}()
		return p, rdb, p
	}
	return hub, rdb, nil
}
