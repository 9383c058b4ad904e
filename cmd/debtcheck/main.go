// Command debtcheck reads enforcement-procedure numbers from a spreadsheet,
// queries the FSSP debt API for each one concurrently, and writes the
// results back to a spreadsheet. Interrupted runs resume from the last
// progress snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/svplaksin/fssp-api/internal/config"
	"github.com/svplaksin/fssp-api/internal/export"
	"github.com/svplaksin/fssp-api/pkg/cache"
	"github.com/svplaksin/fssp-api/pkg/checkpoint"
	"github.com/svplaksin/fssp-api/pkg/client"
	"github.com/svplaksin/fssp-api/pkg/fssp"
	"github.com/svplaksin/fssp-api/pkg/logging"
	"github.com/svplaksin/fssp-api/pkg/ratelimit"
	"github.com/svplaksin/fssp-api/pkg/runner"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		inputPath  = flag.String("input", "", "input .xlsx with procedure numbers in the first column")
		outputPath = flag.String("output", "", "output .xlsx path (default: <input>-results.xlsx)")
		configFile = flag.String("config", "", "optional YAML config file")
		noResume   = flag.Bool("no-resume", false, "ignore an existing progress snapshot")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	if *inputPath == "" {
		logger.Error().Msg("Missing required -input flag")
		flag.Usage()
		return 1
	}
	if *outputPath == "" {
		*outputPath = strings.TrimSuffix(*inputPath, ".xlsx") + "-results.xlsx"
	}

	ctx := context.Background()

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		MaxConcurrent:     cfg.WorkerCount,
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             1,
	}, logging.NewLogger("ratelimit"))
	if err != nil {
		logger.Error().Err(err).Msg("Invalid rate limit configuration")
		return 1
	}

	retryCfg := client.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.MaxAttempts

	lookupClient, err := client.New(client.Config{
		Token:   cfg.APIToken,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.RequestTimeout,
		Retry:   retryCfg,
		Limiter: limiter,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create lookup client")
		return 1
	}

	if err := lookupClient.VerifyToken(ctx); err != nil {
		logger.Error().Err(err).Msg("Token verification failed")
		return 1
	}

	var outcomes *cache.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).
				Msg("Redis unreachable, outcome cache disabled")
		} else {
			outcomes = cache.NewStore(redisClient, cfg.CacheTTL)
			defer redisClient.Close()
		}
	}

	rows, err := export.LoadNumbers(*inputPath)
	if err != nil {
		logger.Error().Err(err).Str("path", *inputPath).Msg("Failed to read input file")
		return 1
	}

	numbers := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if cfg.DedupeIdentifiers {
			if _, dup := seen[row.Number]; dup {
				continue
			}
			seen[row.Number] = struct{}{}
		}
		numbers = append(numbers, row.Number)
	}
	logger.Info().
		Int("rows", len(rows)).
		Int("numbers", len(numbers)).
		Msg("Input loaded")

	results := fssp.NewResultSet()
	if !*noResume && cfg.CheckpointPath != "" {
		snap, err := checkpoint.Load(cfg.CheckpointPath)
		switch {
		case errors.Is(err, checkpoint.ErrNoSnapshot):
			// Fresh run.
		case err != nil:
			logger.Error().Err(err).Str("path", cfg.CheckpointPath).
				Msg("Progress snapshot is unreadable, refusing to overwrite it (use -no-resume to discard)")
			return 1
		default:
			restored, err := snap.ResultSet()
			if err != nil {
				logger.Error().Err(err).Msg("Progress snapshot holds invalid outcomes")
				return 1
			}
			results = restored
			logger.Info().
				Int("restored", results.Len()).
				Time("saved_at", snap.SavedAt).
				Msg("Resuming from progress snapshot")
		}
	}

	if cfg.SkipKnown {
		seedKnownAmounts(rows, results)
	}

	pending := filterPending(ctx, numbers, results, outcomes, cfg.SkipKnown, logger)
	logger.Info().
		Int("pending", len(pending)).
		Int("already_resolved", len(numbers)-len(pending)).
		Msg("Scheduling lookups")

	tracker := checkpoint.NewTracker(checkpoint.Config{
		Path:     cfg.CheckpointPath,
		EveryN:   cfg.CheckpointEvery,
		Interval: cfg.CheckpointInterval,
	}, pending, results)

	r := runner.New(lookupClient, tracker, runner.Config{
		Workers:    cfg.WorkerCount,
		DrainGrace: cfg.DrainGrace,
	})
	installSignalHandler(r.Controller(), logger)

	finalResults, runErr := r.Run(ctx, pending)

	if outcomes != nil {
		storeOutcomes(ctx, outcomes, finalResults, logger)
	}

	if err := export.WriteResults(*outputPath, rows, finalResults); err != nil {
		logger.Error().Err(err).Str("path", *outputPath).Msg("Failed to write output file")
		return 1
	}
	logger.Info().Str("path", *outputPath).Msg("Results written")

	if runErr != nil {
		switch {
		case errors.Is(runErr, client.ErrAccessDenied):
			logger.Error().Msg("Run aborted: the API rejected the configured token")
		case errors.Is(runErr, client.ErrInsufficientBalance):
			logger.Error().Msg("Run aborted: the API account has no remaining balance")
		default:
			logger.Error().Err(runErr).Msg("Run aborted")
		}
		return 1
	}

	if !finalResults.Partial() && cfg.CheckpointPath != "" {
		// A complete run leaves nothing to resume.
		if err := os.Remove(cfg.CheckpointPath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("Could not remove finished snapshot")
		}
	}

	return 0
}

// seedKnownAmounts records rows that arrived with a debt amount already
// filled in, so they are not looked up again.
func seedKnownAmounts(rows []export.Row, results *fssp.ResultSet) {
	for _, row := range rows {
		if row.KnownAmount == nil {
			continue
		}
		if _, done := results.Get(row.Number); done {
			continue
		}
		_ = results.Record(fssp.Outcome{
			Number: row.Number,
			Status: fssp.StatusFound,
			Amount: *row.KnownAmount,
		})
	}
}

// filterPending drops numbers that already have an outcome, either restored
// from a snapshot or found in the shared cache.
func filterPending(ctx context.Context, numbers []string, results *fssp.ResultSet, outcomes *cache.Store, skipKnown bool, logger zerolog.Logger) []string {
	pending := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if _, done := results.Get(n); done {
			continue
		}
		if skipKnown && outcomes != nil {
			out, err := outcomes.Get(ctx, n)
			if err == nil {
				if err := results.Record(out); err == nil {
					continue
				}
			} else if !errors.Is(err, cache.ErrCacheMiss) {
				logger.Warn().Err(err).Str("number", n).Msg("Cache lookup failed")
			}
		}
		pending = append(pending, n)
	}
	return pending
}

// storeOutcomes shares resolved outcomes with future runs. Failed outcomes
// are skipped by the store itself.
func storeOutcomes(ctx context.Context, outcomes *cache.Store, results *fssp.ResultSet, logger zerolog.Logger) {
	for _, out := range results.Outcomes() {
		if err := outcomes.Put(ctx, out); err != nil {
			logger.Warn().Err(err).Str("number", out.Number).Msg("Cache write failed")
			return
		}
	}
}

// installSignalHandler wires interrupts to the run controller: the first
// signal requests an orderly drain, the second abandons in-flight lookups.
func installSignalHandler(ctrl *runner.Controller, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Warn().Msg("Interrupt received, draining (press again to stop immediately)")
		ctrl.RequestCancel()

		<-sigCh
		logger.Warn().Msg("Second interrupt, stopping immediately")
		ctrl.Escalate()
	}()
}
