// Command tlsfbench drives a malloc/free workload against a
// tlsf.Allocator and reports throughput. It exists to exercise the
// allocator under realistic size mixes outside of `go test -bench`, where
// a human wants to pick the arena cap and size range from the command line.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/tlsf-go/tlsf"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		arenaCap   int
		minSize    int
		maxSize    int
		iterations int
		seed       int64
		checkEvery bool
	)

	cmd := &cobra.Command{
		Use:   "tlsfbench",
		Short: "Benchmark a tlsf.Allocator's malloc/free throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, benchConfig{
				arenaCap:   arenaCap,
				minSize:    minSize,
				maxSize:    maxSize,
				iterations: iterations,
				seed:       seed,
				checkEvery: checkEvery,
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&arenaCap, "arena-cap", 64<<20, "maximum arena size in bytes")
	flags.IntVar(&minSize, "min-size", 8, "smallest request size in bytes")
	flags.IntVar(&maxSize, "max-size", 4096, "largest request size in bytes")
	flags.IntVar(&iterations, "iterations", 200000, "number of allocation operations to run")
	flags.Int64Var(&seed, "seed", 1, "PRNG seed, for reproducible workloads")
	flags.BoolVar(&checkEvery, "check", false, "run a full invariant Check() after every operation (slow)")

	return cmd
}

type benchConfig struct {
	arenaCap   int
	minSize    int
	maxSize    int
	iterations int
	seed       int64
	checkEvery bool
}

func runBench(cmd *cobra.Command, cfg benchConfig) error {
	opts := []tlsf.Option{}
	if cfg.checkEvery {
		opts = append(opts, tlsf.WithDebugCheck(true))
	}

	a, err := tlsf.NewAllocator(tlsf.NewByteResizer(cfg.arenaCap), opts...)
	if err != nil {
		return fmt.Errorf("tlsfbench: %w", err)
	}

	rng := rand.New(rand.NewSource(cfg.seed))
	span := cfg.maxSize - cfg.minSize + 1
	var live []unsafe.Pointer

	start := time.Now()
	var mallocs, frees, oomCount int

	for i := 0; i < cfg.iterations; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			size := cfg.minSize + rng.Intn(span)
			p, err := a.Malloc(size)
			if err != nil {
				oomCount++
				continue
			}
			mallocs++
			live = append(live, p)
		} else {
			idx := rng.Intn(len(live))
			a.Free(live[idx])
			frees++
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}

	elapsed := time.Since(start)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "iterations:   %d\n", cfg.iterations)
	fmt.Fprintf(out, "mallocs:      %d\n", mallocs)
	fmt.Fprintf(out, "frees:        %d\n", frees)
	fmt.Fprintf(out, "out-of-mem:   %d\n", oomCount)
	fmt.Fprintf(out, "final arena:  %d bytes\n", a.Size())
	fmt.Fprintf(out, "elapsed:      %s\n", elapsed)
	fmt.Fprintf(out, "ops/sec:      %.0f\n", float64(cfg.iterations)/elapsed.Seconds())
	return nil
}
