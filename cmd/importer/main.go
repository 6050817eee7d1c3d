// cmd/importer imports a CSV file of contacts and prints the report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/outreach-dispatch/internal/app"
	"github.com/unclebandit/outreach-dispatch/internal/config"
	"github.com/unclebandit/outreach-dispatch/internal/logging"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

func main() {
	var (
		file           = flag.String("file", "", "CSV file with a header row")
		strategy       = flag.String("strategy", "skip", "duplicate strategy: skip or upsert")
		validateEmails = flag.Bool("validate-emails", false, "reject rows with malformed email addresses")
		campaignID     = flag.Int("campaign", 0, "enqueue imported contacts into this active campaign")
		preview        = flag.Bool("preview", false, "report duplicates without writing")
	)
	flag.Parse()
	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: importer -file contacts.csv [-strategy upsert] [-campaign 12]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	opts := service.ImportOptions{
		Strategy:       model.ImportStrategy(*strategy),
		ValidateEmails: *validateEmails,
		CampaignID:     *campaignID,
	}
	if err := run(context.Background(), cfg, *file, opts, *preview); err != nil {
		logrus.WithError(err).Fatal("import failed")
	}
}

func run(ctx context.Context, cfg *config.Config, path string, opts service.ImportOptions, preview bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := service.ReadCSV(f)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var out any
	if preview {
		out, err = a.Imports.PreviewImport(ctx, rows, opts)
	} else {
		out, err = a.Imports.ImportBatch(ctx, rows, opts)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
