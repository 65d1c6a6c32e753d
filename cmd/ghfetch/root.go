package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/ghfetch/pkg/client"
	"github.com/Sternrassler/ghfetch/pkg/logging"
	"github.com/Sternrassler/ghfetch/pkg/metrics"
	"github.com/Sternrassler/ghfetch/pkg/pagination"
	"github.com/Sternrassler/ghfetch/pkg/ratelimit"
)

// Configuration keys. Flags and environment variables resolve to these.
const (
	keyToken      = "token"
	keyAPIURL     = "api_url"
	keyRedisURL   = "redis_url"
	keyLogLevel   = "log_level"
	keyLogPretty  = "log_pretty"
	keyOwner      = "owner"
	keyRepo       = "repo"
	keyPerPage    = "per_page"
	keyMaxPages   = "max_pages"
	keyMaxRetries = "max_retries"
	keyTimeout    = "timeout"
	keyRPS        = "rps"
	keyVerbose    = "verbose"
	keyMetrics    = "metrics"
)

// maxPerPage is the largest page size the issues endpoint accepts.
const maxPerPage = 100

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ghfetch",
		Short: "Count open GitHub issues across paginated results",
		Long: `ghfetch walks the open issues of a GitHub repository page by page,
following Link rel="next" headers. Transient failures are retried with
exponential backoff and rate limit responses are waited out.

Environment:
  GITHUB_TOKEN         sent as "Authorization: Bearer <token>"
  GHFETCH_API_URL      API root (default https://api.github.com)
  GHFETCH_REDIS_URL    record quota headers in Redis (redis://host:6379/0)
  GHFETCH_LOG_LEVEL    debug, info, warn, error (default warn)
  GHFETCH_LOG_PRETTY   human-readable logs instead of JSON`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup(logging.Config{
				Level:  logging.LogLevel(v.GetString(keyLogLevel)),
				Pretty: v.GetBool(keyLogPretty),
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), v, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.String(keyOwner, "psf", "repository owner")
	flags.String(keyRepo, "requests", "repository name")
	flags.Int("per-page", 50, "issues per page (1-100)")
	flags.Int("max-pages", 3, "maximum number of pages to fetch")
	flags.Int("max-retries", client.DefaultRetryConfig().MaxRetries, "retries per request after the first attempt")
	flags.Duration(keyTimeout, 10*time.Second, "timeout per HTTP attempt")
	flags.Float64(keyRPS, 0, "client-side request rate limit in requests per second (0 disables)")
	flags.BoolP(keyVerbose, "v", false, "print one line per fetched page to stderr")
	flags.Bool(keyMetrics, false, "dump Prometheus metrics to stderr after the run")

	_ = v.BindPFlag(keyOwner, flags.Lookup(keyOwner))
	_ = v.BindPFlag(keyRepo, flags.Lookup(keyRepo))
	_ = v.BindPFlag(keyPerPage, flags.Lookup("per-page"))
	_ = v.BindPFlag(keyMaxPages, flags.Lookup("max-pages"))
	_ = v.BindPFlag(keyMaxRetries, flags.Lookup("max-retries"))
	_ = v.BindPFlag(keyTimeout, flags.Lookup(keyTimeout))
	_ = v.BindPFlag(keyRPS, flags.Lookup(keyRPS))
	_ = v.BindPFlag(keyVerbose, flags.Lookup(keyVerbose))
	_ = v.BindPFlag(keyMetrics, flags.Lookup(keyMetrics))

	bindEnv(v)
	cmd.AddCommand(newQuotaCmd(v))

	return cmd
}

// bindEnv wires environment variables. GITHUB_TOKEN keeps its conventional
// name; everything else is read from GHFETCH_<KEY>.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("ghfetch")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(keyToken, "GITHUB_TOKEN")

	v.SetDefault(keyAPIURL, pagination.DefaultBaseURL)
	v.SetDefault(keyLogLevel, string(logging.LevelWarn))
	v.SetDefault(keyLogPretty, false)
}

func runFetch(ctx context.Context, v *viper.Viper, out, errOut io.Writer) error {
	logger := logging.NewLogger(logging.ComponentCLI)
	owner, repo := v.GetString(keyOwner), v.GetString(keyRepo)
	perPage, maxPages := v.GetInt(keyPerPage), v.GetInt(keyMaxPages)

	if owner == "" || repo == "" {
		return fmt.Errorf("owner and repo are required")
	}
	if perPage < 1 || perPage > maxPerPage {
		return fmt.Errorf("per-page must be between 1 and %d (got %d)", maxPerPage, perPage)
	}
	if maxPages < 0 {
		return fmt.Errorf("max-pages must be >= 0 (got %d)", maxPages)
	}

	var observer client.QuotaObserver
	tracker, closeRedis, err := openTracker(ctx, v)
	if err != nil {
		logger.Warn().Err(err).Msg("Quota tracking disabled")
	} else if tracker != nil {
		defer closeRedis()
		observer = tracker
	}

	c, err := newClient(v, observer)
	if err != nil {
		return err
	}
	fetcher := pagination.NewFetcher(c, pagination.Config{BaseURL: v.GetString(keyAPIURL)})

	var total int
	if v.GetBool(keyVerbose) {
		total, err = walkVerbose(ctx, fetcher, owner, repo, perPage, maxPages, errOut)
	} else {
		total, err = fetcher.FetchAll(ctx, owner, repo, perPage, maxPages)
	}

	if v.GetBool(keyMetrics) {
		if werr := metrics.WriteText(errOut, "ghfetch_"); werr != nil {
			logger.Warn().Err(werr).Msg("Failed to write metrics")
		}
	}
	if client.IsRetryExhausted(err) {
		return fmt.Errorf("fetch issues of %s/%s: giving up after %d retries: %w", owner, repo, v.GetInt(keyMaxRetries), err)
	}
	if err != nil {
		return fmt.Errorf("fetch issues of %s/%s: %w", owner, repo, err)
	}

	fmt.Fprintf(out, "Fetched issues across pages (up to max_pages=%d): %d\n", maxPages, total)
	return nil
}

// walkVerbose counts issues like FetchAll and reports every page as it arrives.
func walkVerbose(ctx context.Context, fetcher *pagination.Fetcher, owner, repo string, perPage, maxPages int, errOut io.Writer) (int, error) {
	total := 0
	err := fetcher.Walk(ctx, fetcher.IssuesURL(owner, repo), pagination.IssueParams(perPage), maxPages, func(page pagination.Page) error {
		total += len(page.Items)
		next := "none"
		if _, ok := page.Links[pagination.RelNext]; ok {
			next = "yes"
		}
		fmt.Fprintf(errOut, "page %d: %d issues (next: %s)\n", page.Number, len(page.Items), next)
		return nil
	})
	return total, err
}

func newClient(v *viper.Viper, observer client.QuotaObserver) (*client.Client, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/vnd.github+json")
	headers.Set("User-Agent", "ghfetch/"+version)
	if token := v.GetString(keyToken); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	cfg := client.DefaultConfig(headers)
	cfg.Timeout = v.GetDuration(keyTimeout)
	cfg.Retry.MaxRetries = v.GetInt(keyMaxRetries)
	cfg.QuotaObserver = observer
	if rps := v.GetFloat64(keyRPS); rps > 0 {
		cfg.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	c, err := client.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}

// openTracker connects to GHFETCH_REDIS_URL. It returns a nil tracker when no
// URL is configured.
func openTracker(ctx context.Context, v *viper.Viper) (*ratelimit.Tracker, func(), error) {
	redisURL := v.GetString(keyRedisURL)
	if redisURL == "" {
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	tracker := ratelimit.NewTracker(redisClient, logging.NewLogger(logging.ComponentRateLimit))
	return tracker, func() { redisClient.Close() }, nil
}
