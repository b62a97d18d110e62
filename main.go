package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Drahflow/crawler/internal/config"
	"github.com/Drahflow/crawler/internal/crawler"
	"github.com/Drahflow/crawler/internal/logging"
	"github.com/Drahflow/crawler/internal/report"
)

type cliFlags struct {
	DomainsFile   string
	Seeds         []string
	OutputDir     string
	Report        string
	ActiveDomains int
	Fetches       uint64
	Cooldown      time.Duration
	LogLevel      string
	LogJSON       bool
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "crawler [config]",
		Short: "Polite line-deduplicating web crawler",
		Long: `Crawls many domains at once over plain HTTP, one request per domain at a
time. Every response line is kept only the first time it is seen across the
whole run; each domain's output goes to its own file in the output directory.

The optional config file is YAML (.yaml/.yml) or the keyword format
(expectedLines, cooldownMilliseconds, fetchesPerDomain, activeDomains,
ignore, fetch). Flags override the file.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			cfg, warnings, err := buildConfig(path, flags, cmd.Flags().Changed)
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogJSON)
			if err != nil {
				return err
			}
			defer logger.Sync()
			for _, w := range warnings {
				logger.Warn("config warning", map[string]interface{}{"file": path, "warning": w})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.DomainsFile, "domains", "", "file with one seed URL per line")
	f.StringArrayVar(&flags.Seeds, "seed", nil, "seed URL (repeatable)")
	f.StringVar(&flags.OutputDir, "output", "", "output directory")
	f.StringVar(&flags.Report, "report", "", "per-domain report file (.db/.sqlite or .xlsx)")
	f.IntVar(&flags.ActiveDomains, "active", 0, "max domains downloading at once")
	f.Uint64Var(&flags.Fetches, "fetches", 0, "max fetches per domain")
	f.DurationVar(&flags.Cooldown, "cooldown", 0, "pause between requests to one domain")
	f.StringVar(&flags.LogLevel, "log-level", "INFO", "log level (TRACE/INFO/WARN/ERROR)")
	f.BoolVar(&flags.LogJSON, "log-json", false, "output logs as JSON")

	return cmd
}

// buildConfig loads path (or the defaults when empty) and applies the flags
// the user actually set.
func buildConfig(path string, flags *cliFlags, changed func(string) bool) (*config.Config, []string, error) {
	cfg := config.DefaultConfig()
	var warnings []string
	if path != "" {
		var err error
		cfg, warnings, err = config.Load(path)
		if err != nil {
			return nil, nil, err
		}
	}

	if flags.DomainsFile != "" {
		domains, err := loadDomains(flags.DomainsFile)
		if err != nil {
			return nil, nil, err
		}
		cfg.Fetch = append(cfg.Fetch, domains...)
	}
	cfg.Fetch = append(cfg.Fetch, flags.Seeds...)

	if changed("output") {
		cfg.OutputDir = flags.OutputDir
	}
	if changed("report") {
		cfg.Report = flags.Report
	}
	if changed("active") {
		cfg.ActiveDomains = flags.ActiveDomains
	}
	if changed("fetches") {
		cfg.FetchesPerDomain = flags.Fetches
	}
	if changed("cooldown") {
		cfg.Cooldown = flags.Cooldown
	}
	if changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if changed("log-json") {
		cfg.LogJSON = flags.LogJSON
	}
	return cfg, warnings, nil
}

func loadDomains(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open domains file: %w", err)
	}
	defer f.Close()

	var domains []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		domain := strings.TrimSpace(scanner.Text())
		if domain != "" && !strings.HasPrefix(domain, "#") {
			domains = append(domains, domain)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan domains: %w", err)
	}
	return domains, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	rec, err := report.Open(cfg.Report)
	if err != nil {
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			logger.Error("failed to close report", map[string]interface{}{"error": err.Error()})
		}
	}()

	c, err := crawler.New(cfg, logger, crawler.WithRecorder(rec))
	if err != nil {
		return err
	}

	runErr := c.Run(ctx)
	sum := c.Summary()
	fields := map[string]interface{}{
		"run":            sum.RunID,
		"seeds":          sum.Seeds,
		"invalid_seeds":  sum.InvalidSeeds,
		"retired":        sum.Retired,
		"resolve_failed": sum.ResolveFailed,
		"unstarted":      sum.Unstarted,
		"fetches":        sum.Fetches,
		"bytes":          sum.Bytes,
		"new_bytes":      sum.NewBytes,
		"fill":           sum.Fill,
	}
	if sum.Halted {
		fields["halt_reason"] = sum.HaltReason
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
		logger.Error("crawler error", fields)
		return runErr
	}
	logger.Info("crawler completed successfully", fields)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
