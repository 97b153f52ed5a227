package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/vanilla/internal/hub"
	"firestige.xyz/vanilla/internal/pipe"
)

var benchDuration time.Duration

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure rendezvous throughput of a single sender/receiver pipe pair",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().DurationVarP(&benchDuration, "duration", "d", 2*time.Second, "how long to run the benchmark")
}

func runBench(cmd *cobra.Command, args []string) error {
	h, err := hub.New()
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}

	s, r := pipe.New(h)
	count := 0
	deadline := make(chan struct{})

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		for {
			if err := s.Send(ctx, count); err != nil {
				return nil
			}
		}
	})
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		for {
			select {
			case <-deadline:
				s.Close()
				r.Close()
				return nil
			default:
			}
			if _, err := r.Recv(ctx); err != nil {
				return nil
			}
			count++
		}
	})

	go func() {
		time.Sleep(benchDuration)
		close(deadline)
		_ = h.Stop()
	}()

	start := time.Now()
	if err := h.Run(); err != nil {
		return fmt.Errorf("hub run: %w", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("%d rendezvous in %s (%.0f/sec)\n", count, elapsed, float64(count)/elapsed.Seconds())
	return nil
}
