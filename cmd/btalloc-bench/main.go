// Command btalloc-bench drives a heap.Heap through a trace of
// allocate/free/realloc operations and reports basic counters, the way
// cmd/numa-integration-test drives the NUMA allocator through a fixed
// scripted workload.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/orizon-lang/btalloc/heap"
	"github.com/orizon-lang/btalloc/provider"
)

func main() {
	var (
		configPath = flag.String("config", "", "JSON tuning file, hot-reloaded while the bench runs")
		tracePath  = flag.String("trace", "", "trace file to replay; a synthetic trace is used if empty")
		numOps     = flag.Int("n", 20000, "number of operations in the synthetic trace")
		maxLive    = flag.Int("max-live", 512, "maximum concurrently live allocations in the synthetic trace")
		maxSize    = flag.Uint64("max-size", 4096, "maximum request size in the synthetic trace")
		seed       = flag.Int64("seed", 1, "synthetic trace RNG seed")
		verbose    = flag.Bool("verbose", false, "run CheckHeap between every operation")
	)
	flag.Parse()

	cw, closeWatcher, err := watchConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("btalloc-bench: %v", err))
	}
	defer closeWatcher()

	cfg := cw.current()
	if *tracePath != "" {
		cfg.TracePath = *tracePath
	}

	if *verbose {
		cfg.Verbose = true
	}

	ops, err := loadTrace(cfg.TracePath, *numOps, *maxLive, uintptr(*maxSize), *seed)
	if err != nil {
		panic(fmt.Sprintf("btalloc-bench: %v", err))
	}

	fmt.Printf("=== btalloc-bench: %d operations ===\n", len(ops))

	p, err := newProvider()
	if err != nil {
		panic(fmt.Sprintf("btalloc-bench: %v", err))
	}

	h, err := heap.Init(p, heap.WithInitialReserve(cfg.InitialReserve))
	if err != nil {
		panic(fmt.Sprintf("btalloc-bench: heap.Init: %v", err))
	}

	start := time.Now()
	stats := replay(h, ops, cfg.Verbose)
	elapsed := time.Since(start)

	fmt.Printf("✓ allocate=%d free=%d realloc=%d failed=%d in %v\n",
		stats.allocates, stats.frees, stats.reallocs, stats.failed, elapsed)

	if reloads := cw.reloadCount(); reloads > 0 {
		fmt.Printf("  (config reloaded %d time(s) from %s)\n", reloads, *configPath)
	}

	if err := h.CheckHeap(false); err != nil {
		panic(fmt.Sprintf("btalloc-bench: final heap state is inconsistent: %v", err))
	}

	fmt.Println("✓ final heap state is consistent")
}

// newProvider builds an mmap-backed provider on linux, falling back to
// the portable slice provider elsewhere.
func newProvider() (provider.Provider, error) {
	p, err := provider.NewMmapProvider()
	if err == nil {
		return p, nil
	}

	return provider.NewSliceProvider(0), nil
}

func loadTrace(path string, n, maxLive int, maxSize uintptr, seed int64) ([]traceOp, error) {
	if path == "" {
		return genSyntheticTrace(seed, n, maxLive, maxSize), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	defer f.Close()

	return parseTrace(f)
}

type replayStats struct {
	allocates int
	frees     int
	reallocs  int
	failed    int
}

// replay executes ops against h, tracking each trace id's live
// pointer, and optionally runs CheckHeap after every operation.
func replay(h *heap.Heap, ops []traceOp, verbose bool) replayStats {
	live := map[int]uintptr{}

	var stats replayStats

	for i, op := range ops {
		switch op.kind {
		case opAllocate:
			ptr := h.Allocate(op.size)
			if ptr == nil {
				stats.failed++
			} else {
				live[op.id] = uintptr(ptr)
			}

			stats.allocates++

		case opFree:
			if addr, ok := live[op.id]; ok {
				h.Free(unsafe.Pointer(addr))
				delete(live, op.id)
			}

			stats.frees++

		case opRealloc:
			addr, ok := live[op.id]
			if !ok {
				stats.failed++

				continue
			}

			newPtr := h.Realloc(unsafe.Pointer(addr), op.size)
			if newPtr == nil {
				delete(live, op.id)
				stats.failed++
			} else {
				live[op.id] = uintptr(newPtr)
			}

			stats.reallocs++
		}

		if verbose {
			if err := h.CheckHeap(false); err != nil {
				panic(fmt.Sprintf("btalloc-bench: invariant violated after op %d: %v", i, err))
			}
		}
	}

	return stats
}
