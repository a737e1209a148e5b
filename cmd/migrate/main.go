// Database migration CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/quantfall/perpintel/internal/config"
	"github.com/quantfall/perpintel/internal/db"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "database connection URL (overrides config)")
	flag.Parse()

	url := *dbURL
	if url == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		url = cfg.Database.DatabaseURL()
	}
	if url == "" {
		fmt.Fprintln(os.Stderr, "No database configured: set -db, DATABASE_URL, or database.host in the config file")
		os.Exit(1)
	}

	config.InitLogger("info", "console")

	ctx := context.Background()
	database, err := db.New(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.NewMigrator(database.Pool()).Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}
