// Command kvbench drives an in-process simplekv Engine the way
// bencemark/client_bench.go drives a networked flin client: fixed-duration
// concurrent workers, ops/sec and average-latency reporting per operation,
// across a handful of concurrency levels. There is no network hop here --
// kvbench imports the engine as a library -- so the numbers measure the
// storage engine itself, not a transport.
package main

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/cjcara036/simplekv/internal/config"
	"github.com/cjcara036/simplekv/internal/kv"
)

const (
	testDuration = 3 * time.Second
	valueSize    = 256
)

// BenchResult is the same shape as bencemark's BenchResult: one operation's
// summary at one concurrency level.
type BenchResult struct {
	Operation    string
	TotalOps     int64
	Duration     time.Duration
	OpsPerSecond float64
	AvgLatencyUs float64
	Concurrency  int
}

func main() {
	color.NoColor = !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())

	dir, err := os.MkdirTemp("", "kvbench-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvbench: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	banner := color.New(color.FgCyan, color.Bold)
	banner.Println("\n╔════════════════════════════════════════════════════════════════╗")
	banner.Println("║     simplekv Engine Benchmark (in-process, no network hop)       ║")
	banner.Println("╚════════════════════════════════════════════════════════════════╝")
	fmt.Printf("\n📁 Storage directory: %s\n", dir)
	fmt.Printf("⏱  Test duration: %v per operation\n", testDuration)
	fmt.Printf("📦 Value size: %s\n\n", humanize.Bytes(uint64(valueSize)))

	e, err := kv.New(config.Config{
		StorageDirectory: dir,
		BinCount:         64,
		EnableParity:     true,
		ParityGroupCount: 8,
		CacheSize:        256,
	})
	if err != nil {
		color.Red("❌ failed to open engine: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	concurrencyLevels := []int{1, 4, 8, 16}
	for _, concurrency := range concurrencyLevels {
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Printf("🔧 Concurrency: %d goroutines\n", concurrency)
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		printResult(benchmarkSet(e, concurrency))
		printResult(benchmarkGet(e, concurrency))
		printResult(benchmarkWildcard(e, concurrency))
		fmt.Println()
	}

	color.Green("✅ Benchmark completed\n")
}

func benchmarkSet(e *kv.Engine, concurrency int) BenchResult {
	value := make([]byte, valueSize)
	for i := range value {
		value[i] = byte(i % 256)
	}
	payload := string(value)

	var totalOps atomic.Int64
	var totalLatencyUs atomic.Int64
	var wg sync.WaitGroup

	start := time.Now()
	stop := start.Add(testDuration)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			var ops int64
			for time.Now().Before(stop) {
				key := fmt.Sprintf("bench_set_%d_%d", workerID, ops)
				opStart := time.Now()
				e.Set(map[string]string{key: payload}, false)
				totalLatencyUs.Add(time.Since(opStart).Microseconds())
				ops++
			}
			totalOps.Add(ops)
		}(w)
	}
	wg.Wait()
	e.Sync()

	return summarize("SET", totalOps.Load(), totalLatencyUs.Load(), time.Since(start), concurrency)
}

func benchmarkGet(e *kv.Engine, concurrency int) BenchResult {
	const numKeys = 2000
	value := string(make([]byte, valueSize))
	pairs := make(map[string]string, numKeys)
	for i := 0; i < numKeys; i++ {
		pairs[fmt.Sprintf("bench_get_%d", i)] = value
	}
	e.Set(pairs, false)
	e.Sync()

	var totalOps atomic.Int64
	var totalLatencyUs atomic.Int64
	var wg sync.WaitGroup

	start := time.Now()
	stop := start.Add(testDuration)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			var ops int64
			for time.Now().Before(stop) {
				key := fmt.Sprintf("bench_get_%d", ops%int64(numKeys))
				opStart := time.Now()
				e.Get([]string{key})
				totalLatencyUs.Add(time.Since(opStart).Microseconds())
				ops++
			}
			totalOps.Add(ops)
		}(w)
	}
	wg.Wait()

	return summarize("GET", totalOps.Load(), totalLatencyUs.Load(), time.Since(start), concurrency)
}

// benchmarkWildcard measures the n-gram candidate-set resolution path,
// which the teacher's networked benchmark has no equivalent of (flin has no
// wildcard index) -- this is the operation the storage engine adds over its
// teacher.
func benchmarkWildcard(e *kv.Engine, concurrency int) BenchResult {
	const numKeys = 500
	value := string(make([]byte, valueSize))
	pairs := make(map[string]string, numKeys)
	for i := 0; i < numKeys; i++ {
		pairs[fmt.Sprintf("benchwild%04d", i)] = value
	}
	e.Set(pairs, true)
	e.Sync()

	var totalOps atomic.Int64
	var totalLatencyUs atomic.Int64
	var wg sync.WaitGroup

	start := time.Now()
	stop := start.Add(testDuration)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var ops int64
			for time.Now().Before(stop) {
				opStart := time.Now()
				e.Get([]string{"benchwild*"})
				totalLatencyUs.Add(time.Since(opStart).Microseconds())
				ops++
			}
			totalOps.Add(ops)
		}()
	}
	wg.Wait()

	return summarize("WILDCARD", totalOps.Load(), totalLatencyUs.Load(), time.Since(start), concurrency)
}

func summarize(op string, totalOps, totalLatencyUs int64, duration time.Duration, concurrency int) BenchResult {
	var avgLatency float64
	if totalOps > 0 {
		avgLatency = float64(totalLatencyUs) / float64(totalOps)
	}
	return BenchResult{
		Operation:    op,
		TotalOps:     totalOps,
		Duration:     duration,
		OpsPerSecond: float64(totalOps) / duration.Seconds(),
		AvgLatencyUs: avgLatency,
		Concurrency:  concurrency,
	}
}

func printResult(result BenchResult) {
	var icon string
	switch result.Operation {
	case "SET":
		icon = "✍️ "
	case "GET":
		icon = "📖"
	default:
		icon = "🔀"
	}

	fmt.Printf("\n%s %s\n", icon, result.Operation)
	fmt.Println("  ┌─────────────────────────────────────────────────────────┐")
	fmt.Printf("  │ Operations:  %-43s │\n", humanize.Comma(result.TotalOps))
	fmt.Printf("  │ Throughput:  %-43s │\n", humanize.Commaf(result.OpsPerSecond)+" ops/sec")
	fmt.Printf("  │ Avg Latency: %-43s │\n", fmt.Sprintf("%.1f us", result.AvgLatencyUs))
	fmt.Printf("  │ Duration:    %-43s │\n", result.Duration.Round(time.Millisecond).String())
	fmt.Println("  └─────────────────────────────────────────────────────────┘")
}
