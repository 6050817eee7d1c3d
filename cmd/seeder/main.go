//cmd/seeder/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/outreach-dispatch/internal/config"
	"github.com/unclebandit/outreach-dispatch/internal/db"
	"github.com/unclebandit/outreach-dispatch/internal/logging"
)

func main() {
	migrationsDir := flag.String("migrations", "migrations", "directory of *.sql migrations applied in name order")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	conn, err := db.Open(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	files, err := filepath.Glob(filepath.Join(*migrationsDir, "*.sql"))
	if err != nil {
		logrus.WithError(err).Fatal("failed to list migrations")
	}
	sort.Strings(files)
	// seed files named on the command line run after the migrations
	files = append(files, flag.Args()...)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			logrus.WithError(err).Fatalf("failed to read %s", file)
		}

		if _, err := conn.Exec(string(content)); err != nil {
			logrus.WithError(err).Fatalf("failed to execute %s", file)
		}
		fmt.Printf("Applied: %s\n", file)
	}

	fmt.Println("Database seeding completed successfully!")
}
