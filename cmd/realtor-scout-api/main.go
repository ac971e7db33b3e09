package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"realtor-scout/internal/config"
	"realtor-scout/internal/control"
	"realtor-scout/internal/fieldcache"
	"realtor-scout/internal/jobengine"
	"realtor-scout/internal/migrate"
	"realtor-scout/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	cache := fieldcache.New(st, time.Duration(cfg.FieldMap.TTLSeconds)*time.Second, logger)
	rootCtx := context.Background()
	cache.Preload(rootCtx)

	runner := jobengine.NewRunner(cfg, st, cache, logger)
	go runner.Start(rootCtx)

	srv := control.NewServer(cfg, st, runner, cache, logger)

	port := cfg.Server.Port
	if port <= 0 {
		port = 8080
	}
	addr := cfg.Server.Host + ":" + strconv.Itoa(port)
	if err := srv.Listen(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
