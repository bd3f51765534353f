// Command fpmas runs one of a handful of distributed graph scenarios
// in-process, every rank simulated as its own goroutine over a
// LocalCommunicator world, and prints per-rank node/edge counts. It exists
// to exercise the module end to end, not as a production multi-process
// launcher.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/fpmas-go/fpmas/internal/analysis"
	"github.com/fpmas-go/fpmas/internal/comm"
	"github.com/fpmas-go/fpmas/internal/config"
	"github.com/fpmas-go/fpmas/internal/distgraph"
	"github.com/fpmas-go/fpmas/internal/graph"
	"github.com/fpmas-go/fpmas/internal/graphbuilder"
	"github.com/fpmas-go/fpmas/internal/id"
	"github.com/fpmas-go/fpmas/internal/location"
	"github.com/fpmas-go/fpmas/internal/metrics"
	"github.com/fpmas-go/fpmas/internal/migration"
	"github.com/fpmas-go/fpmas/internal/sync/ghost"
	"github.com/fpmas-go/fpmas/internal/sync/hard"
	"github.com/fpmas-go/fpmas/internal/sync/none"
	"github.com/fpmas-go/fpmas/pkg/retry"
	"github.com/fpmas-go/fpmas/pkg/utils"
)

var logFile string

func main() {
	root := &cobra.Command{Use: "fpmas", Short: "run an fpmas distributed graph scenario"}
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "rotate logs to this file instead of stdout (missing directories are created)")
	root.AddCommand(ringCmd(), completeCmd(), ghostRefreshCmd(), hardSyncCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the structured logger every subcommand reports through.
// With --log-file unset it logs to stdout; with it set, the path is
// validated and the logger rotates that file at 10MB, keeping 3 backups.
func newLogger() *utils.StructuredLogger {
	config := utils.DefaultStructuredLoggerConfig()
	if logFile != "" {
		if err := utils.ValidatePath(logFile, true); err != nil {
			panic(err)
		}
		config.Rotation = &utils.RotationConfig{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 3,
			Compress:   true,
		}
	}
	logger, err := utils.NewStructuredLogger(config)
	if err != nil {
		panic(err)
	}
	return logger.WithComponent("cmd/fpmas")
}

func intCodec() migration.DataCodec[int] {
	return migration.DataCodec[int]{
		Encode: func(v int) ([]byte, error) { return []byte{byte(v)}, nil },
		Decode: func(b []byte) (int, error) {
			if len(b) == 0 {
				return 0, nil
			}
			return int(b[0]), nil
		},
	}
}

// runRanks runs fn on a dedicated goroutine per rank of a fresh
// LocalCommunicator world and waits for all of them to finish.
func runRanks(size int, fn func(rank int, c comm.Communicator) error) error {
	w := comm.NewWorld(size)
	var wg sync.WaitGroup
	errs := make([]error, size)
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = fn(rank, w.Rank(rank))
		}(r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func ringCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "ring",
		Short: "build a ring of size P and report each rank's local view",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			results := make([]string, size)
			err := runRanks(size, func(rank int, c comm.Communicator) error {
				bg := graph.NewBaseGraph[int](rank)
				lm := location.New[int](rank, c)
				g := distgraph.New[int](rank, size, c, bg, lm, none.New[int](), intCodec())
				g.BuildNode(1.0, rank)

				builder := graphbuilder.NewRingGraphBuilder[int](1, 0)
				ctx := context.Background()
				if err := builder.Link(ctx, c, g); err != nil {
					return err
				}

				nc, err := analysis.NodeCount(ctx, c, g)
				if err != nil {
					return err
				}
				ec, err := analysis.EdgeCount(ctx, c, g)
				if err != nil {
					return err
				}
				results[rank] = fmt.Sprintf("rank %d: %d node(s) held (LOCAL and DISTANT), node_count=%d edge_count=%d", rank, bg.NodeCount(), nc, ec)
				return nil
			})
			if err != nil {
				return err
			}
			for _, line := range results {
				logger.Info(line)
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 4, "ring size (one node per rank)")
	return cmd
}

func completeCmd() *cobra.Command {
	var ranks int
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "build a complete graph on 2P nodes and balance weight-3 nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			results := make([]string, ranks)
			err := runRanks(ranks, func(rank int, c comm.Communicator) error {
				bg := graph.NewBaseGraph[int](rank)
				lm := location.New[int](rank, c)
				g := distgraph.New[int](rank, ranks, c, bg, lm, none.New[int](), intCodec())
				mc, err := metrics.NewCollector(&metrics.Config{Enabled: true, Namespace: "fpmas", Subsystem: "rank" + fmt.Sprint(rank)})
				if err != nil {
					return err
				}
				g.SetMetrics(mc)
				a := g.BuildNode(1.0, rank*10)
				g.BuildNode(1.0, rank*10+1)
				a.Weight = 3.0

				builder := graphbuilder.NewCompleteGraphBuilder[int](0)
				ctx := context.Background()
				if err := builder.Link(ctx, c, g); err != nil {
					return err
				}

				coeff, err := analysis.ClusteringCoefficient(ctx, c, g, 0)
				if err != nil {
					return err
				}
				if err := g.Balance(ctx, migration.WeightBalance[int](ranks), distgraph.Repartition); err != nil {
					return err
				}

				ec, err := analysis.EdgeCount(ctx, c, g)
				if err != nil {
					return err
				}
				results[rank] = fmt.Sprintf("rank %d: clustering=%.3f edge_count=%d held_nodes=%d", rank, coeff, ec, bg.NodeCount())
				return nil
			})
			if err != nil {
				return err
			}
			for _, line := range results {
				logger.Info(line)
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&ranks, "ranks", 2, "number of ranks (graph has 2*ranks nodes)")
	return cmd
}

func ghostRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ghost-refresh",
		Short: "demonstrate ghost-mode data refresh across two ranks",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			const size = 2
			err := runRanks(size, func(rank int, c comm.Communicator) error {
				bg := graph.NewBaseGraph[int](rank)
				lm := location.New[int](rank, c)
				gdc := ghost.DataCodec[int]{Encode: intCodec().Encode, Decode: intCodec().Decode}
				mode := ghost.New[int](rank, c, bg, lm, gdc)
				g := distgraph.New[int](rank, size, c, bg, lm, mode, intCodec())
				ctx := context.Background()

				if rank == 0 {
					a := g.BuildNode(1.0, 7)
					if err := g.Synchronize(ctx); err != nil {
						return err
					}
					a.Data = 9
					return g.Synchronize(ctx)
				}

				aId := id.DistributedId{Rank: 0, Seq: 0}
				remote := graph.NewDistantNode[int](aId, 1.0, 0, 0)
				g.InsertDistant(remote)
				before := remote.Data
				if err := g.Synchronize(ctx); err != nil {
					return err
				}
				afterFirst := remote.Data
				if err := g.Synchronize(ctx); err != nil {
					return err
				}
				logger.Info(fmt.Sprintf("rank %d: before=%d after_first_sync=%d after_second_sync=%d", rank, before, afterFirst, remote.Data))
				fmt.Printf("rank %d: before=%d after_first_sync=%d after_second_sync=%d\n", rank, before, afterFirst, remote.Data)
				return nil
			})
			return err
		},
	}
	return cmd
}

func hardSyncCmd() *cobra.Command {
	var size int
	var configPath string
	cmd := &cobra.Command{
		Use:   "hard-sync",
		Short: "demonstrate hard-sync serialized acquire/release across ranks",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			var cfg *config.RuntimeConfig
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
				size = cfg.Size
			} else {
				cfg = config.DefaultConfig(0, size)
			}
			logger.Info(cfg.String())

			results := make([]int, size)
			collectors := make([]*metrics.Collector, size)
			err := runRanks(size, func(rank int, c comm.Communicator) error {
				bg := graph.NewBaseGraph[int](rank)
				lm := location.New[int](rank, c)
				hdc := hard.DataCodec[int]{Encode: intCodec().Encode, Decode: intCodec().Decode}
				mode := hard.New[int](rank, size, c, bg, lm, hdc)
				mc, err := metrics.NewCollector(&metrics.Config{
					Enabled:   cfg.Metrics.Enabled,
					Namespace: cfg.Metrics.Namespace,
					Subsystem: "rank" + fmt.Sprint(rank),
				})
				if err != nil {
					return err
				}
				mode.SetMetrics(mc)
				collectors[rank] = mc
				ctx := context.Background()

				if rank == 0 {
					n := bg.InsertLocalNode(1.0, 0, 0)
					lm.SetLocal(n)
					if err := mode.DataSync().Synchronize(ctx); err != nil {
						return err
					}
					results[0] = n.Data
					return nil
				}

				aId := id.DistributedId{Rank: 0, Seq: 0}
				ghostNode := graph.NewDistantNode[int](aId, 1.0, 0, 0)
				bg.InsertNode(ghostNode)
				lm.SetDistant(ghostNode)
				mtx := mode.NewMutex(ghostNode)
				retryer := retry.New(retry.DefaultConfig())
				if err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
					cur, err := mtx.Acquire(ctx)
					if err != nil {
						return err
					}
					return mtx.ReleaseAcquire(ctx, cur+1)
				}); err != nil {
					return err
				}
				return mode.DataSync().Synchronize(ctx)
			})
			if err != nil {
				return err
			}
			line := fmt.Sprintf("rank 0 final A.data=%d after %d concurrent acquirers", results[0], size-1)
			logger.Info(line)
			fmt.Println(line)
			if ownerMetrics := collectors[0]; ownerMetrics != nil {
				fmt.Printf("rank 0 metrics: %+v\n", ownerMetrics.GetMetrics()["operations"])
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 3, "number of ranks (rank 0 owns A, every other rank acquires it once); ignored when --config is given (the file's size is used, 1 if unset)")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML RuntimeConfig file (see internal/config); defaults to config.DefaultConfig(0, size)")
	return cmd
}
