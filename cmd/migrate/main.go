package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"fleet-api/internal/app"
	"fleet-api/internal/core/config"
	"fleet-api/internal/core/logger"
	"fleet-api/migrations"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|redo|reset")
	flag.Parse()

	cfg := config.Load(os.Getenv("CONFIG_PATH"))
	log, cleanup := logger.FromConfig(cfg.Log)
	defer cleanup()

	// 迁移脚本只写了 postgres 方言；sqlite / mysql 开发环境用 db.automigrate
	if cfg.DB.Driver != "postgres" {
		log.Fatal("goose migrations target postgres only", zap.String("driver", cfg.DB.Driver))
	}

	db, err := app.OpenDB(cfg, log)
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("sql db", zap.Error(err))
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(zap.NewStdLog(log))
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal("set goose dialect", zap.Error(err))
	}

	log.Info("migrate ready", zap.String("cmd", *cmd))
	if err := goose.RunContext(context.Background(), *cmd, sqlDB, ".", flag.Args()...); err != nil {
		fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
}
