// Command bench runs a synthetic workload against the hybrid cache and
// exposes optional pprof/Prometheus endpoints. Without -redis it drives
// the near tier alone, which is the interesting hot path; with -redis it
// exercises the full two-tier read/write flow.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heytom-labs/hybridcache/cache"
	"github.com/heytom-labs/hybridcache/far/redisstore"
	"github.com/heytom-labs/hybridcache/metrics/prom"
	"github.com/heytom-labs/hybridcache/near"
)

func main() {
	// ---- Flags ----
	var (
		maxSize  = flag.Int("near_size", 100_000, "near tier capacity (entries)")
		redis    = flag.String("redis", "", "far tier address (empty = bench the near tier alone)")
		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys  = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := prom.New(nil, "heytom", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	// ---- Build the workload target ----
	var (
		get func(k string) bool
		set func(k, v string)
	)
	if *redis == "" {
		n := near.New(near.Options{MaxSize: *maxSize})
		defer func() { _ = n.Close() }()
		get = func(k string) bool { _, ok := n.Get(k); return ok }
		set = func(k, v string) { n.Set(k, []byte(v), time.Time{}, 0) }
	} else {
		c, err := cache.New(cache.Options{
			Far:              redisstore.New(redisstore.Options{Addr: *redis}),
			NearCacheMaxSize: *maxSize,
			Metrics:          metrics,
		})
		if err != nil {
			log.Fatal(err)
		}
		defer func() { _ = c.Close() }()
		get = func(k string) bool { _, ok, _ := c.Get(ctx, k); return ok }
		set = func(k, v string) { _ = c.Set(ctx, k, []byte(v), cache.Expiration{}) }
	}

	// ---- Preload half capacity to get a realistic hit-rate ----
	for i := 0; i < *maxSize/2; i++ {
		k := "k:" + strconv.Itoa(i)
		set(k, "v"+strconv.Itoa(i))
	}

	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, writes, hits, misses, total uint64

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(*seed + int64(id)*9973))
			localZipf := rand.NewZipf(localR, *zipfS, *zipfV, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					if get(keyByZipf()) {
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					set(keyByZipf(), "v"+strconv.Itoa(localR.Int()))
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	fmt.Printf("near_size=%d redis=%q workers=%d keys=%d dur=%v seed=%d\n",
		*maxSize, *redis, workersN, *keys, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)
}
