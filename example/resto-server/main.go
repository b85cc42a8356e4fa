// resto-server wires the real-time core together: postgres-backed store,
// redis subscribe limiter, one hub, and the notify API over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	notifyapi "github.com/warunk-dev/resto-core/delivery/notify-api"
	"github.com/warunk-dev/resto-core/lib/hub"
	redislimiter "github.com/warunk-dev/resto-core/repository/limiter/redis"
	"github.com/warunk-dev/resto-core/repository/notification/postgres"
	"github.com/warunk-dev/resto-core/usecase/feed"
	"github.com/warunk-dev/resto-core/usecase/publisher"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "c", "config.yaml", "config path")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatal().Msgf("failed to read config %v: %v", cfgPath, err)
	}

	db, err := sqlx.Connect("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Msgf("failed to connect postgres db: %v", err)
	}
	if _, err := db.Exec(postgres.Schema); err != nil {
		log.Fatal().Msgf("failed to ensure schema: %v", err)
	}

	h := hub.New()
	repo := postgres.New(db)

	api := notifyapi.New(h, publisher.New(repo, h), feed.New(repo, cfg.FeedPageSize)).
		WithKeepalive(time.Duration(cfg.KeepaliveSeconds) * time.Second)

	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		api = api.WithLimiter(redislimiter.New(rdb), cfg.SubscribeBurst)
	}

	router := httprouter.New()
	api.Register(router)

	srv := &http.Server{
		Addr:    cfg.HTTPAddress,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Msgf("listening on %v", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msgf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Msgf("server stopped: %v", err)
	}
}
