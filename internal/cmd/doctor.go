package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/tidum/internal/config"
	"github.com/runger/tidum/internal/suggestions/db"
	"github.com/runger/tidum/internal/suggestions/metrics"
	"github.com/runger/tidum/internal/suggestions/policy"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and storage health",
	Long: `Run diagnostic checks on a tidum installation.

This command checks:
- Configuration validity
- Database access and schema
- The global default preset
- The metrics cache backend

Examples:
  tidum doctor`,
	GroupID: groupSetup,
	Args:    cobra.NoArgs,
	RunE:    runDoctor,
}

type checkResult struct {
	name    string
	status  string // "ok", "warn", "error"
	message string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println(styleHeader.Render("tidum Doctor"))
	fmt.Println(strings.Repeat("-", 40))
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	results := runChecks(ctx)

	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		var statusIcon string
		switch r.status {
		case "ok":
			statusIcon = styleOK.Render("[OK]")
		case "warn":
			statusIcon = styleWarn.Render("[WARN]")
			hasWarnings = true
		case "error":
			statusIcon = styleError.Render("[ERROR]")
			hasErrors = true
		}

		fmt.Printf("  %s %s\n", statusIcon, r.name)
		if r.message != "" {
			fmt.Printf("       %s\n", styleDim.Render(r.message))
		}
	}

	fmt.Println()

	if hasErrors {
		fmt.Println(styleError.Render("Some checks failed. Please fix the errors above."))
		return fmt.Errorf("doctor found errors")
	}
	if hasWarnings {
		fmt.Println(styleWarn.Render("All critical checks passed, but there are warnings."))
	} else {
		fmt.Println(styleOK.Render("All checks passed!"))
	}
	return nil
}

func runChecks(ctx context.Context) []checkResult {
	cfg, err := config.Load()
	if err != nil {
		return []checkResult{{name: "Configuration", status: "error", message: err.Error()}}
	}
	if dbPathFlag != "" {
		cfg.Storage.DBPath = dbPathFlag
	}

	results := []checkResult{{name: "Configuration", status: "ok", message: config.DefaultPaths().ConfigFile()}}
	results = append(results, checkDatabase(ctx, cfg)...)
	results = append(results, checkMetricsBackend(ctx, cfg))
	return results
}

func checkDatabase(ctx context.Context, cfg *config.Config) []checkResult {
	path := cfg.DatabasePath()
	d, err := db.Open(ctx, db.Options{Path: path})
	if err != nil {
		return []checkResult{{name: "Database", status: "error", message: err.Error()}}
	}
	defer d.Close()

	results := []checkResult{{name: "Database", status: "ok", message: path}}

	if err := d.Validate(ctx); err != nil {
		results = append(results, checkResult{name: "Schema", status: "error", message: err.Error()})
	} else {
		version, err := d.Version(ctx)
		switch {
		case err != nil:
			results = append(results, checkResult{name: "Schema", status: "error", message: err.Error()})
		case version < db.SchemaVersion:
			results = append(results, checkResult{name: "Schema", status: "warn",
				message: fmt.Sprintf("outdated (current: %d, latest: %d)", version, db.SchemaVersion)})
		default:
			results = append(results, checkResult{name: "Schema", status: "ok", message: fmt.Sprintf("version %d", version)})
		}
	}

	var n int
	err = d.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM team_default_preset WHERE role = ?`, policy.DefaultRole).Scan(&n)
	switch {
	case err != nil:
		results = append(results, checkResult{name: "Default preset", status: "error", message: err.Error()})
	case n == 0:
		results = append(results, checkResult{name: "Default preset", status: "warn",
			message: "no \"default\" team preset; users of unknown roles get the built-in preset"})
	default:
		results = append(results, checkResult{name: "Default preset", status: "ok"})
	}
	return results
}

func checkMetricsBackend(ctx context.Context, cfg *config.Config) checkResult {
	sugg := cfg.Suggestions
	if sugg.MetricsBackend != "redis" {
		return checkResult{name: "Metrics cache", status: "ok", message: "in-process memory cache"}
	}
	rc, err := metrics.NewRedisCache(ctx, sugg.RedisAddr, sugg.RedisPrefix)
	if err != nil {
		return checkResult{name: "Metrics cache", status: "error", message: err.Error()}
	}
	rc.Close()
	return checkResult{name: "Metrics cache", status: "ok", message: "redis " + sugg.RedisAddr}
}
