package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/ghfetch/pkg/ratelimit"
)

// staleAfter is the age past which a recorded quota most likely belongs to an
// expired window. GitHub windows last one hour.
const staleAfter = time.Hour

func newQuotaCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show the last rate limit quota recorded in Redis",
		Long: `Show the quota headers recorded by the last fetch for the API host.
Requires GHFETCH_REDIS_URL; the values are only as fresh as the last request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			return runQuota(cmd.Context(), v, host, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("host", "", "API host to show (default: host of GHFETCH_API_URL)")

	return cmd
}

func runQuota(ctx context.Context, v *viper.Viper, host string, out io.Writer) error {
	if v.GetString(keyRedisURL) == "" {
		return fmt.Errorf("GHFETCH_REDIS_URL is not set")
	}
	if host == "" {
		apiURL, err := url.Parse(v.GetString(keyAPIURL))
		if err != nil {
			return fmt.Errorf("parse api url: %w", err)
		}
		host = apiURL.Host
	}

	tracker, closeRedis, err := openTracker(ctx, v)
	if err != nil {
		return err
	}
	defer closeRedis()

	state, err := tracker.GetState(ctx, host)
	if errors.Is(err, ratelimit.ErrNoState) {
		return fmt.Errorf("no quota recorded for %s yet: %w", host, err)
	}
	if err != nil {
		return fmt.Errorf("read quota for %s: %w", host, err)
	}

	printState(out, state, time.Now())
	return nil
}

func printState(out io.Writer, state *ratelimit.State, now time.Time) {
	fmt.Fprintf(out, "host:      %s\n", state.Host)
	if state.Limit > 0 {
		fmt.Fprintf(out, "remaining: %d/%d\n", state.Remaining, state.Limit)
	} else {
		fmt.Fprintf(out, "remaining: %d\n", state.Remaining)
	}
	if !state.ResetAt.IsZero() {
		wait := state.ResetAt.Sub(now).Truncate(time.Second)
		if wait < 0 {
			wait = 0
		}
		fmt.Fprintf(out, "resets:    %s (in %s)\n", state.ResetAt.UTC().Format(time.RFC3339), wait)
	}
	if state.IsStale(now, staleAfter) {
		fmt.Fprintf(out, "updated:   %s (stale)\n", state.LastUpdate.UTC().Format(time.RFC3339))
		return
	}
	fmt.Fprintf(out, "updated:   %s\n", state.LastUpdate.UTC().Format(time.RFC3339))
}
