// Command import loads subscribers from a CSV file into the mailing list and
// optionally creates a mail for each of them in a job.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"go.uber.org/zap"

	"Mailroom/internal/config"
	"Mailroom/internal/csvparser"
	"Mailroom/internal/db"
	"Mailroom/internal/delivery"
	"Mailroom/internal/email"
	"Mailroom/internal/subscriber"
)

func main() {
	file := flag.String("file", "", "CSV file with an email column")
	groups := flag.String("groups", "", "comma separated groups every row is added to")
	jobID := flag.Int64("job", 0, "job to create mails in")
	maxRows := flag.Int("max-rows", csvparser.DefaultMaxRows, "maximum rows to read")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	rows, err := csvparser.ParseFile(*file, *maxRows)
	if err != nil {
		logger.Fatal("failed to read csv", zap.String("file", *file), zap.Error(err))
	}

	subscribers := subscriber.New(store, cfg.BaseURL, logger)
	res, err := subscribers.Import(ctx, rows, splitList(*groups))
	if err != nil {
		logger.Fatal("import failed", zap.Error(err))
	}
	for _, addr := range res.Skipped {
		logger.Warn("skipped invalid address", zap.String("email", addr))
	}

	if *jobID == 0 {
		return
	}

	// Only mails are created here, nothing is sent.
	deliveries := delivery.New(store, &email.MemoryBackend{}, delivery.WithLogger(logger))
	if _, err := deliveries.GetJob(ctx, *jobID); err != nil {
		logger.Fatal("failed to load job", zap.Int64("job_id", *jobID), zap.Error(err))
	}
	created, err := deliveries.CreateMails(ctx, *jobID, res.Refs)
	if err != nil {
		logger.Fatal("failed to create mails", zap.Int64("job_id", *jobID), zap.Error(err))
	}
	logger.Info("mails created", zap.Int64("job_id", *jobID), zap.Int("count", created))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
