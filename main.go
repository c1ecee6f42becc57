package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ByteMirror/runmux/agent"
	"github.com/ByteMirror/runmux/app"
	"github.com/ByteMirror/runmux/config"
	"github.com/ByteMirror/runmux/expand"
	"github.com/ByteMirror/runmux/history"
	"github.com/ByteMirror/runmux/log"
	"github.com/ByteMirror/runmux/merge"
	"github.com/ByteMirror/runmux/pool"
)

var (
	version = "1.0.0"

	maxConcurrentFlag int
	mergeFlag         string
	graceFlag         time.Duration
	killMarginFlag    time.Duration
	dirFlag           string
	maxLinesFlag      int
	plainFlag         bool
	noHistoryFlag     bool
	dryRunFlag        bool

	rootCmd = &cobra.Command{
		Use:   "runmux [flags] command ...",
		Short: "runmux - run many variants of a shell command concurrently",
		Long: `runmux expands bracket ranges in a command into every combination and
runs the resulting commands concurrently, each in its own pseudo-terminal,
merging their output into one stream.

  runmux 'ping -c1 10.0.[n=1-8].1'
  runmux 'deploy --region {r}' '[r=us-east,eu-west]'`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize()
			defer log.Close()

			cfg := config.LoadConfig()
			applyFlags(cmd, cfg)

			strategy, err := merge.ParseStrategy(cfg.MergeStrategy)
			if err != nil {
				return err
			}

			var instances []agent.Instance
			for _, arg := range args {
				cmds, err := expand.Expand(arg)
				if err != nil {
					return err
				}
				for _, c := range cmds {
					instances = append(instances, agent.Instance{Command: c.Text, Label: c.Label})
				}
			}

			if dryRunFlag {
				for _, inst := range instances {
					if inst.Label != "" {
						fmt.Printf("%s %s\n", inst.Label, inst.Command)
					} else {
						fmt.Println(inst.Command)
					}
				}
				return nil
			}

			var recorder pool.Recorder = pool.NopRecorder{}
			if cfg.HistoryOn() && !noHistoryFlag {
				store, err := history.OpenDefault()
				if err != nil {
					log.WarningLog.Printf("history disabled: %v", err)
				} else {
					defer store.Close()
					recorder = store
				}
			}

			p := pool.New(pool.Config{
				MaxConcurrent: cfg.MaxConcurrent,
				GracePeriod:   time.Duration(cfg.GracePeriodMS) * time.Millisecond,
				KillMargin:    time.Duration(cfg.KillMarginMS) * time.Millisecond,
				WorkDir:       dirFlag,
				Recorder:      recorder,
			})
			merger := merge.New(strategy, p.Messages())
			go merger.Run()

			if _, err := p.Submit(instances); err != nil {
				return err
			}

			if plainFlag {
				err = runPlain(p, merger, strategy)
			} else {
				err = app.Run(context.Background(), p, merger, cfg.MaxLines)
			}
			if err != nil {
				return err
			}
			return exitStatus(p)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of runmux",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("runmux version %s\n", version)
		},
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print debug information like config paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()

			configDir, err := config.GetConfigDir()
			if err != nil {
				return fmt.Errorf("failed to get config directory: %w", err)
			}
			configJson, _ := json.MarshalIndent(cfg, "", "  ")

			fmt.Printf("Config: %s\n%s\n", filepath.Join(configDir, config.ConfigFileName), configJson)
			fmt.Printf("Log: %s\n", log.FileName())

			return nil
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show the most used commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.OpenDefault()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Top(20)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%5d  %s\n", e.UseCount, e.Command)
			}
			return nil
		},
	}
)

// applyFlags overlays explicitly set flags onto the loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("max-concurrent") {
		cfg.MaxConcurrent = maxConcurrentFlag
	}
	if cmd.Flags().Changed("merge") {
		cfg.MergeStrategy = mergeFlag
	}
	if cmd.Flags().Changed("grace") {
		cfg.GracePeriodMS = int(graceFlag.Milliseconds())
	}
	if cmd.Flags().Changed("kill-margin") {
		cfg.KillMarginMS = int(killMarginFlag.Milliseconds())
	}
	if cmd.Flags().Changed("max-lines") {
		cfg.MaxLines = maxLinesFlag
	}
}

// runPlain wires signal handling around the non-interactive consumer: a
// first interrupt cancels the run, escalation and the drain still happen.
func runPlain(p *pool.Pool, merger *merge.Merger, strategy merge.Strategy) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := p.Wait(ctx); err != nil {
			log.InfoLog.Printf("interrupted, shutting down: %v", err)
			p.ShutdownAll(context.Background())
		}
		merger.Stop()
	}()

	return app.RunPlain(os.Stdout, p, merger, strategy == merge.Interleaved)
}

// exitStatus folds the final snapshots into the process exit: any failed
// agent or nonzero child exit makes the whole run fail.
func exitStatus(p *pool.Pool) error {
	failed := 0
	for _, snap := range p.Status() {
		if snap.Status == agent.Failed || (snap.Status == agent.Completed && snap.ExitCode != 0) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d command(s) failed", failed)
	}
	return nil
}

func init() {
	rootCmd.Flags().IntVarP(&maxConcurrentFlag, "max-concurrent", "n", 0,
		"Maximum number of commands running at once")
	rootCmd.Flags().StringVar(&mergeFlag, "merge", "",
		"Output merge strategy: interleaved, line or grouped")
	rootCmd.Flags().DurationVar(&graceFlag, "grace", 0,
		"How long a cancelled command gets after SIGTERM before SIGKILL")
	rootCmd.Flags().DurationVar(&killMarginFlag, "kill-margin", 0,
		"Extra wait after SIGKILL before a command is written off")
	rootCmd.Flags().StringVarP(&dirFlag, "dir", "d", "",
		"Working directory for spawned commands")
	rootCmd.Flags().IntVar(&maxLinesFlag, "max-lines", 0,
		"Maximum lines kept in the interactive output view")
	rootCmd.Flags().BoolVar(&plainFlag, "plain", false,
		"Write merged output to stdout instead of the interactive view")
	rootCmd.Flags().BoolVar(&noHistoryFlag, "no-history", false,
		"Do not record commands in the history database")
	rootCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false,
		"Print the expanded commands without running them")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
