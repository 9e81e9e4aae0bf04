// Command storygate-loadtest drives the gate's hot read paths (Resume and
// CurrentDecision) against Redis and reports latency percentiles. With no
// -redis-addr it runs self-contained on miniredis.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keepsake-labs/storygate"
	"github.com/keepsake-labs/storygate/internal/pending"
	"github.com/keepsake-labs/storygate/provider/memory"
)

func main() {
	var (
		clients     = flag.Int("clients", 100000, "number of client contexts to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (resume + decision)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "sgp", "pending-state key prefix")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	provider := memory.New()
	provider.AddUser("load@example.com", "load-test-password")

	cfg := storygate.DefaultConfig()
	cfg.Pending.RedisPrefix = *prefix
	cfg.Token.HS256Secret = provider.SigningKey()
	cfg.Metrics.EnableLatencyHistograms = true

	gate, err := storygate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithProvider(provider).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gate build failed: %v\n", err)
		os.Exit(1)
	}
	defer gate.Close()

	// Seed pending records for half the client contexts directly through the
	// store so the decision phase sees a mixed workload.
	store := pending.New(client, *prefix)
	fmt.Printf("seeding %d client contexts...\n", *clients)
	startSeed := time.Now()
	for i := 0; i < *clients; i += 2 {
		record := &pending.Record{
			ChallengeID:  fmt.Sprintf("chal-%d", i),
			FactorID:     "factor-load",
			UserID:       "user-load",
			SessionToken: fmt.Sprintf("session-%d", i),
			ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		}
		if err := store.Save(ctx, clientID(i), record, time.Hour); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	sess, err := provider.SignInWithPassword(ctx, "load@example.com", "load-test-password")
	if err != nil {
		fmt.Fprintf(os.Stderr, "token mint failed: %v\n", err)
		os.Exit(1)
	}

	resumeStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := gate.Resume(ctx, clientID(r.Intn(*clients)))
		return err
	})
	decisionStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := gate.CurrentDecision(ctx, clientID(r.Intn(*clients)), sess.SessionToken)
		return err
	})

	fmt.Println("---- results ----")
	printStats("resume", resumeStats)
	printStats("decision", decisionStats)

	snap := gate.MetricsSnapshot()
	fmt.Printf("decisions: admit=%d challenge=%d signin=%d\n",
		snap.Counters[storygate.MetricDecisionAdmit],
		snap.Counters[storygate.MetricDecisionChallenge],
		snap.Counters[storygate.MetricDecisionSignIn],
	)
}

func clientID(i int) string {
	return fmt.Sprintf("client-%d", i)
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
