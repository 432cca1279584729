// Command dagberry runs the DAG consensus engine: key generation, state
// directory initialization, a single-validator node, and an in-process
// local network for trying the engine out end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/blockberries/dagberry/engine"
	"github.com/blockberries/dagberry/privval"
	"github.com/blockberries/dagberry/types"
	"github.com/blockberries/dagberry/wal"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var verbosity string

	root := &cobra.Command{
		Use:   "dagberry",
		Short: "Uncertified-DAG BFT consensus engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(verbosity)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&verbosity, "verbosity", "info", "log level (debug, info, warn, error)")

	root.AddCommand(keygenCommand())
	root.AddCommand(initCommand())
	root.AddCommand(runCommand())
	root.AddCommand(localnetCommand())
	return root
}

func setupLogging(verbosity string) error {
	var level slog.Level
	switch verbosity {
	case "debug":
		level = log.LevelDebug
	case "info":
		level = log.LevelInfo
	case "warn":
		level = log.LevelWarn
	case "error":
		level = log.LevelError
	default:
		return fmt.Errorf("unknown verbosity %q", verbosity)
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, false)))
	return nil
}

func keygenCommand() *cobra.Command {
	var scheme, output string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a validator key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			pv, err := privval.GenerateFilePV(output, scheme)
			if err != nil {
				return err
			}
			fmt.Printf("Generated %s key at %s\n", pv.SchemeName(), output)
			fmt.Printf("Public key: %x\n", pv.PublicKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", privval.SchemeEd25519, "signature scheme")
	cmd.Flags().StringVar(&output, "output", "priv_key.json", "key file path")
	return cmd
}

func initCommand() *cobra.Command {
	var dir, scheme string
	var size int

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a state directory: config, committee and per-seat keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 1 {
				return fmt.Errorf("committee size must be at least 1, got %d", size)
			}
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}

			cfg := engine.DefaultConfig()
			cfg.SchemeName = scheme
			if err := cfg.Save(filepath.Join(dir, "config.yaml")); err != nil {
				return err
			}

			roster := engine.CommitteeConfig{Authorities: make([]engine.AuthorityConfig, size)}
			for i := 0; i < size; i++ {
				keyPath := filepath.Join(dir, fmt.Sprintf("seat-%d", i), "priv_key.json")
				pv, err := privval.GenerateFilePV(keyPath, scheme)
				if err != nil {
					return err
				}
				roster.Authorities[i] = engine.AuthorityConfig{
					Stake:     1,
					Scheme:    pv.SchemeName(),
					PublicKey: pv.PublicKey(),
				}
			}
			if err := engine.SaveCommittee(filepath.Join(dir, "committee.yaml"), &roster); err != nil {
				return err
			}

			fmt.Printf("Initialized %d-seat state directory at %s\n", size, dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "dagberry-data", "state directory")
	cmd.Flags().StringVar(&scheme, "scheme", privval.SchemeEd25519, "signature scheme")
	cmd.Flags().IntVar(&size, "size", 4, "committee size")
	return cmd
}

func runCommand() *cobra.Command {
	var dir string
	var authority uint32

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one validator from a state directory",
		Long: "Run one validator from an initialized state directory. Block exchange\n" +
			"with peers is the embedding application's job; wire a transport to\n" +
			"SetBlockBroadcaster and HandleBlockMessage when embedding the engine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := engine.LoadConfig(filepath.Join(dir, "config.yaml"))
			if err != nil {
				return err
			}
			committee, err := engine.LoadCommittee(filepath.Join(dir, "committee.yaml"))
			if err != nil {
				return err
			}
			pv, err := privval.LoadFilePV(filepath.Join(dir, fmt.Sprintf("seat-%d", authority), "priv_key.json"))
			if err != nil {
				return err
			}
			w, err := wal.NewFileWAL(filepath.Join(dir, fmt.Sprintf("seat-%d", authority), "wal"))
			if err != nil {
				return err
			}

			eng, err := engine.NewEngine(cfg, committee, types.AuthorityIndex(authority), pv, w, nil)
			if err != nil {
				return err
			}
			eng.SetCommitListener(func(sub *engine.CommittedSubDag) {
				log.Info("committed", "leader", sub.Leader.Ref(), "blocks", len(sub.Blocks),
					"txs", len(sub.Transactions))
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := eng.Start(ctx); err != nil {
				return err
			}
			defer eng.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-sigCh:
					return nil
				case <-ticker.C:
					st := eng.Status()
					log.Info("status", "highest_round", st.HighestRound,
						"commit_frontier", st.CommitFrontier, "dag_blocks", st.DagBlocks)
				}
			}
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "dagberry-data", "state directory")
	cmd.Flags().Uint32Var(&authority, "authority", 0, "committee seat index")
	return cmd
}

func localnetCommand() *cobra.Command {
	var size int
	var scheme string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "localnet",
		Short: "Run an in-process committee and report commit progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			committee, signers, err := privval.NewTestCommittee(size, scheme)
			if err != nil {
				return err
			}
			cfg := engine.DefaultConfig()
			cfg.SchemeName = scheme

			engines := make([]*engine.Engine, size)
			commits := make([]int, size)
			for i := range engines {
				eng, err := engine.NewEngine(cfg, committee, types.AuthorityIndex(i), signers[i], nil, nil)
				if err != nil {
					return err
				}
				seat := i
				eng.SetPayloadProvider(func(int) [][]byte {
					tx := fmt.Sprintf("tx-%d-%d", seat, time.Now().UnixNano())
					return [][]byte{[]byte(tx)}
				})
				eng.SetCommitListener(func(sub *engine.CommittedSubDag) {
					commits[seat]++
				})
				engines[i] = eng
			}
			for i, eng := range engines {
				seat := i
				eng.SetBlockBroadcaster(func(b *types.Block) {
					for j, peer := range engines {
						if j == seat {
							continue
						}
						if err := peer.SubmitBlock(b); err != nil {
							log.Warn("peer dropped block", "from", seat, "to", j, "err", err)
						}
					}
				})
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			for _, eng := range engines {
				if err := eng.Start(ctx); err != nil {
					return err
				}
			}

			time.Sleep(duration)
			for _, eng := range engines {
				if err := eng.Stop(); err != nil {
					return err
				}
			}

			for i, eng := range engines {
				st := eng.Status()
				fmt.Printf("seat %d: highest_round=%d commit_frontier=%d commits=%d dag_blocks=%d\n",
					i, st.HighestRound, st.CommitFrontier, commits[i], st.DagBlocks)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 4, "committee size")
	cmd.Flags().StringVar(&scheme, "scheme", privval.SchemeEd25519, "signature scheme")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to run")
	return cmd
}
