package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/lentera-edu/lms-api/pkg/config"
	"github.com/lentera-edu/lms-api/pkg/database"
	"github.com/lentera-edu/lms-api/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "goose command: up, down, status, version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal("connect to postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal("set migration dialect", zap.Error(err))
	}

	dir := cfg.Database.MigrationsDir
	switch *command {
	case "up":
		err = goose.Up(db.DB, dir)
	case "down":
		err = goose.Down(db.DB, dir)
	case "status":
		err = goose.Status(db.DB, dir)
	case "version":
		err = goose.Version(db.DB, dir)
	default:
		log.Fatal("unknown migration command", zap.String("command", *command))
	}
	if err != nil {
		log.Fatal("migration failed", zap.String("command", *command), zap.Error(err))
	}

	log.Info("migration complete", zap.String("command", *command), zap.String("dir", dir))
}
