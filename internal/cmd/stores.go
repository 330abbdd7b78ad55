package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/runger/tidum/internal/config"
	"github.com/runger/tidum/internal/suggestions/db"
	"github.com/runger/tidum/internal/suggestions/feedback"
	"github.com/runger/tidum/internal/suggestions/metrics"
	"github.com/runger/tidum/internal/suggestions/settings"
)

// stores is the CLI's direct handle on the policy database. Commands write
// through the same stores as tidumd, so validation and logging match.
type stores struct {
	cfg      *config.Config
	db       *db.DB
	settings *settings.Store
	feedback *feedback.Recorder
	metrics  *metrics.Aggregator
}

func openStores(ctx context.Context) (*stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPathFlag != "" {
		cfg.Storage.DBPath = dbPathFlag
	}

	// Store logs go nowhere; the CLI reports errors itself.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := db.Open(ctx, db.Options{
		Logger:      logger,
		Path:        cfg.DatabasePath(),
		BusyTimeout: time.Duration(cfg.Storage.BusyTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sugg := cfg.Suggestions
	sqlDB := d.DB()
	return &stores{
		cfg:      cfg,
		db:       d,
		settings: settings.NewStore(sqlDB, sugg.SettingsConfig(), logger),
		feedback: feedback.NewRecorder(sqlDB, sugg.FeedbackConfig(), logger),
		// Every CLI call reads fresh numbers.
		metrics: metrics.NewAggregator(sqlDB, sugg.MetricsConfig(), nil, &metrics.Counters{}, logger),
	}, nil
}

func (s *stores) Close() error {
	return s.db.Close()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printField(key string, value any) {
	fmt.Printf("  %s %v\n", styleKey.Render(fmt.Sprintf("%-22s", key)), value)
}

func formatRate(r *float64) string {
	if r == nil {
		return styleDim.Render("n/a")
	}
	return fmt.Sprintf("%.1f%%", *r*100)
}
