package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"accessd.org/internal/auth"
	"accessd.org/internal/config"
	"accessd.org/internal/httpapi"
	"accessd.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	} else {
		log.Fatal("missing DSN: set ACCESSD_PG_DSN")
	}

	// Key material must exist before the first request is served; every
	// token signed afterwards depends on it.
	keys := auth.NewKeyManager()
	if err := keys.Generate(cfg.KeySize); err != nil {
		log.Fatalf("generate signing keys: %v", err)
	}

	codecOpts := []auth.CodecOption{}
	if cfg.Audience != "" {
		codecOpts = append(codecOpts, auth.WithAudience(cfg.Audience))
	}
	codec := auth.NewTokenCodec(keys, cfg.Issuer, codecOpts...)

	sessions := auth.NewPGSessionStore(db)
	users := auth.NewPGUserStore(db)
	svc := auth.NewService(users, sessions, codec,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithMailer(auth.LogMailer{}),
	)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, keys)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeper := auth.NewSweeper(sessions, cfg.SweepEvery)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(sweepCtx)
	}()

	log.Printf("Starting %s %s on %s", "accessd-api", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	// The sweeper finishes its in-flight iteration before exiting.
	stopSweeper()
	wg.Wait()

	_ = db.Close()
	log.Println("Stopped")
}
