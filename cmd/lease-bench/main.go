package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-lease/v1/lock"
	"github.com/mirkobrombin/go-lease/v1/metrics"
	"github.com/mirkobrombin/go-lease/v1/presets"
)

var (
	backend     = flag.String("backend", "memory", "Lock backend (memory, file, redis)")
	concurrency = flag.Int("c", 16, "Number of concurrent contenders")
	rounds      = flag.Int("n", 200, "Number of rounds")
	ttl         = flag.Duration("ttl", 10*time.Second, "Lease duration")
	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis address")
	lockFile    = flag.String("file", filepath.Join(os.TempDir(), "lease-bench.json"), "Lock file for the file backend")
)

func main() {
	flag.Parse()

	reg := metrics.NewRegistry()
	opts := []lock.Option{lock.WithMetrics(reg), lock.WithDefaultRetries(0)}

	var l *lock.Locker
	switch *backend {
	case "memory":
		l = lock.New(lock.NewInMemory(), opts...)
	case "file":
		var err error
		if l, err = presets.NewFile(*lockFile, opts...); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
	case "redis":
		l = presets.NewRedis(presets.RedisOptions{Addr: *redisAddr, Table: "lease-bench"}, opts...)
	default:
		log.Fatalf("unknown backend %q", *backend)
	}

	log.Printf("Starting contention bench: backend=%s rounds=%d contenders=%d", *backend, *rounds, *concurrency)

	ctx := context.Background()
	var wins, losses, violations int64
	start := time.Now()

	for r := 0; r < *rounds; r++ {
		path := fmt.Sprintf("bench/%d", r)
		var winners int64
		ids := make([]string, *concurrency)

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < *concurrency; i++ {
			i := i
			g.Go(func() error {
				res, err := l.AcquireLock(gctx, path, lock.WithLeaseTimeout(*ttl))
				if err != nil {
					return err
				}
				if res.Acquired {
					atomic.AddInt64(&winners, 1)
					ids[i] = res.LockID
				} else {
					atomic.AddInt64(&losses, 1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Fatalf("Round %d failed: %v", r, err)
		}
		if winners != 1 {
			violations++
			log.Printf("Round %d: %d winners", r, winners)
		}
		wins += winners
		for _, id := range ids {
			if id == "" {
				continue
			}
			if _, err := l.ReleaseLock(ctx, path, id); err != nil {
				log.Fatalf("Release failed: %v", err)
			}
		}
	}

	elapsed := time.Since(start)
	attempts := float64(*rounds * *concurrency)
	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f acquisitions/s", attempts/elapsed.Seconds())
	log.Printf("Wins: %d Losses: %d Violations: %d", wins, losses, violations)

	mfs, err := reg.Gather()
	if err != nil {
		log.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				labels := ""
				for _, lp := range m.GetLabel() {
					labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
				}
				log.Printf("%s%s = %.0f", mf.GetName(), labels, c.GetValue())
			}
		}
	}
	if violations > 0 {
		os.Exit(1)
	}
}
