package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	migrations "github.com/noah-isme/edu-manage-api/db/migrations"
	"github.com/noah-isme/edu-manage-api/pkg/config"
	"github.com/noah-isme/edu-manage-api/pkg/database"
	"github.com/noah-isme/edu-manage-api/pkg/logger"
)

const usage = `usage: migrate [flags] <command> [args]

commands:
  up              apply all pending migrations
  down            roll back the latest migration
  status          print applied and pending migrations
  reset           roll back every migration
  version         print the current schema version
  create <name>   write a new SQL migration into -dir
`

func main() {
	var dir string
	flag.StringVar(&dir, "dir", "db/migrations", "Directory for new migrations (create only)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage); flag.PrintDefaults() }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command := args[0]

	if command == "create" {
		if len(args) < 2 {
			log.Fatal("create requires a migration name")
		}
		if err := database.CreateMigration(dir, args[1]); err != nil {
			log.Fatalf("create migration: %v", err)
		}
		return
	}

	switch command {
	case "up", "down", "status", "reset", "version":
	default:
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck
	sugar := logr.Sugar()

	db, err := database.NewPostgres(context.Background(), cfg.Database, logr)
	if err != nil {
		sugar.Fatalw("connect postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	migrator, err := database.NewMigrator(db.DB, migrations.FS, ".")
	if err != nil {
		sugar.Fatalw("init migrator", "error", err)
	}
	if err := migrator.Run(command, args[1:]...); err != nil {
		sugar.Fatalw("migration failed", "command", command, "error", err)
	}
	sugar.Infow("migration finished", "command", command)
}
