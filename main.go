package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zlnvch/webnotes/api"
	"github.com/zlnvch/webnotes/cache/redis"
	"github.com/zlnvch/webnotes/config"
	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/mq/sqsmq"
	"github.com/zlnvch/webnotes/store/dynamo"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("run app: %v", err)
	}
}

func run() error {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Parse()
	if err != nil {
		return fmt.Errorf("parse cfg: %v", err)
	}

	if err := slogx.InitGlobal(os.Stdout, cfg.App.LogLevel, cfg.App.Pretty); err != nil {
		return fmt.Errorf("init logger: %v", err)
	}

	notesStore, err := dynamo.NewDynamoNotesStore(shutdownCtx, cfg.App.DevMode, cfg.Dynamo.Endpoint, cfg.Dynamo.Table)
	if err != nil {
		return fmt.Errorf("create dynamodb store: %v", err)
	}

	purgeQueue, err := sqsmq.NewSQSMessageQueue(shutdownCtx, cfg.App.DevMode, cfg.SQS.Endpoint, cfg.SQS.PurgeQueue)
	if err != nil {
		return fmt.Errorf("create sqs queue: %v", err)
	}

	notesCache, err := redis.NewRedisNotesCache(shutdownCtx, cfg.App.DevMode, cfg.Redis.Endpoint)
	if err != nil {
		return fmt.Errorf("create redis cache: %v", err)
	}
	defer notesCache.Close()

	jwtSecret, err := cfg.Auth.Secret()
	if err != nil {
		return err
	}

	notesAPI, err := api.NewNotesAPI(notesStore, purgeQueue, notesCache, cfg.Auth.OAuthConfigs(), jwtSecret, shutdownCtx)
	if err != nil {
		return fmt.Errorf("create notes api: %v", err)
	}

	mux := http.NewServeMux()
	notesAPI.RegisterRoutes(mux, cfg.HTTP.AllowedOrigin)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(shutdownCtx)

	eg.Go(func() error {
		slogx.Info(ctx, "starting server", slog.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		slogx.Info(context.Background(), "server shutting down")

		shutdownTimeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownTimeoutCtx)
	})

	eg.Go(func() error { return notesAPI.RunWorkers(ctx) })

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("wait app stop: %v", err)
	}

	return nil
}
