package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-lease/v1/lock"
)

var (
	acquireCmd = &cobra.Command{
		Use:   "acquire [path]",
		Short: "Acquire the lease on a path",
		Long:  "Acquire the lease on a path and print its lock id. A held path prints acquired=false and is not an error.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	releaseCmd = &cobra.Command{
		Use:   "release [path] [lockId]",
		Short: "Release a lease you hold",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runRelease,
	}

	forceReleaseCmd = &cobra.Command{
		Use:   "force-release [path]",
		Short: "Delete the lease on a path regardless of its owner",
		Args:  cobra.ExactArgs(1),
		RunE:  runForceRelease,
	}

	extendCmd = &cobra.Command{
		Use:   "extend [path] [lockId] [duration]",
		Short: "Push the expiry of a live lease forward",
		Args:  cobra.ExactArgs(3),
		RunE:  runExtend,
	}

	infoCmd = &cobra.Command{
		Use:   "info [path]",
		Short: "Print the live lease on a path as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}

	statusCmd = &cobra.Command{
		Use:   "status [path]",
		Short: "Report whether a path is locked",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
)

func init() {
	f := acquireCmd.Flags()
	f.Duration("ttl", lock.DefaultTimeout, "lease duration")
	f.Int("retries", lock.DefaultRetries, "extra attempts while the path is held")
	f.Duration("retry-delay", lock.DefaultRetryDelay, "pause between attempts")
	f.StringSlice("meta", nil, "metadata as key=value, repeatable")
}

func runAcquire(cmd *cobra.Command, args []string) error {
	ttl, _ := cmd.Flags().GetDuration("ttl")
	retries, _ := cmd.Flags().GetInt("retries")
	delay, _ := cmd.Flags().GetDuration("retry-delay")
	pairs, _ := cmd.Flags().GetStringSlice("meta")

	md, err := parseMeta(pairs)
	if err != nil {
		return err
	}
	res, err := locker.AcquireLock(cmd.Context(), args[0],
		lock.WithLeaseTimeout(ttl),
		lock.WithRetries(retries),
		lock.WithRetryDelay(delay),
		lock.WithMetadata(md),
	)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !res.Acquired {
		fmt.Fprintf(cmd.OutOrStdout(), "acquired=false reason=%q\n", res.Err)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "acquired=true lockId=%s expiresAt=%s\n", res.LockID, res.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	var id string
	if len(args) == 2 {
		id = args[1]
	}
	ok, err := locker.ReleaseLock(cmd.Context(), args[0], id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "released=%t\n", ok)
	return nil
}

func runForceRelease(cmd *cobra.Command, args []string) error {
	ok, err := locker.ForceReleaseLock(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "released=%t\n", ok)
	return nil
}

func runExtend(cmd *cobra.Command, args []string) error {
	d, err := time.ParseDuration(args[2])
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	ok, err := locker.ExtendLock(cmd.Context(), args[0], args[1], d)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "extended=%t\n", ok)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	rec, err := locker.GetLockInfo(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runStatus(cmd *cobra.Command, args []string) error {
	locked, err := locker.IsLocked(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "locked=%t\n", locked)
	return nil
}

func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	md := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", p)
		}
		md[k] = v
	}
	return md, nil
}
