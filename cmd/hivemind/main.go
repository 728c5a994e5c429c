// Command hivemind is the CLI for the hivemind distributed memory store.
// It opens the configured node set, registers each arm with the hive, and
// exposes capture, recall, search, replication, consensus, and stats.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/hivemind/internal/capture"
	"github.com/normanking/hivemind/internal/config"
	"github.com/normanking/hivemind/internal/logging"
	"github.com/normanking/hivemind/internal/memory"
)

var version = "0.3.0"

var (
	cfgPath string
	dataDir string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hivemind",
		Short: "Distributed memory for cooperating nodes",
		Long: `Hivemind maintains one content-addressed memory store per node (arm)
and coordinates them through a hive layer: records can be replicated to other
arms with confidence decay and provenance tagging, recalled across the whole
hive, and reduced to a single consensus record per category/tag filter.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.hivemind/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hivemind %s\n", version)
		},
	})

	rootCmd.AddCommand(rememberCmd())
	rootCmd.AddCommand(recallCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(consensusCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(captureCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initLogging picks a quiet default before config is available; -v opens it
// up. Config-driven settings are applied later by initializeHive.
func initLogging() {
	level := "warn"
	if verbose {
		level = "debug"
	}
	if err := logging.Setup(level, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// BOOTSTRAP
// ═══════════════════════════════════════════════════════════════════════════════

// initializeHive loads config, opens every configured arm, and registers them
// in config order. The cleanup function closes all arms.
func initializeHive() (*memory.Hive, *config.Config, func(), error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	// -v keeps its debug override; otherwise the config decides.
	if !verbose {
		if err := logging.Setup(cfg.Logging.Level, cfg.Logging.File); err != nil {
			return nil, nil, nil, err
		}
	}

	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	ledger, err := memory.NewFileLedger(cfg.Storage.LedgerPath)
	if err != nil {
		return nil, nil, nil, err
	}

	hive := memory.NewHive(ledger)
	for _, nodeID := range cfg.Hive.Nodes {
		arm, err := memory.NewArm(nodeID, cfg.Storage.DataDir)
		if err != nil {
			hive.Close()
			return nil, nil, nil, err
		}
		if err := hive.Register(arm); err != nil {
			arm.Close()
			hive.Close()
			return nil, nil, nil, err
		}
	}

	cleanup := func() {
		if err := hive.Close(); err != nil {
			zlog.Warn().Err(err).Msg("failed to close hive")
		}
	}
	return hive, cfg, cleanup, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func rememberCmd() *cobra.Command {
	var (
		category   string
		tags       []string
		confidence float64
		share      bool
	)

	cmd := &cobra.Command{
		Use:   "remember [node] [content-json]",
		Short: "Store a memory record on a node",
		Long: `Store a record on the named node's arm. Content is a JSON object; the
record id is derived from it, so storing identical content again merges tags
and keeps the higher confidence instead of duplicating.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID := args[0]

			var content map[string]any
			if err := json.Unmarshal([]byte(args[1]), &content); err != nil {
				return fmt.Errorf("content must be a JSON object: %w", err)
			}

			hive, _, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			mem, err := hive.Submit(context.Background(), nodeID, memory.Category(category), content, tags, confidence)
			if err != nil {
				return err
			}

			fmt.Printf("Stored %s [%s] on %s (confidence %.2f)\n",
				mem.ID, mem.Category, nodeID, mem.Confidence)

			if share {
				results, err := hive.Share(context.Background(), nodeID, mem)
				if err != nil {
					return err
				}
				fmt.Printf("Shared with %d arms\n", countDelivered(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "insight", "category: practice, failure, insight, or pattern")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "tags for the record")
	cmd.Flags().Float64Var(&confidence, "confidence", 1.0, "confidence in [0,1]")
	cmd.Flags().BoolVar(&share, "share", false, "replicate to all other nodes after storing")

	return cmd
}

func recallCmd() *cobra.Command {
	var collective bool

	cmd := &cobra.Command{
		Use:   "recall [node] [id]",
		Short: "Recall a memory record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, id := args[0], args[1]

			hive, _, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			if collective {
				memories, err := hive.CollectiveRecall(context.Background(), id)
				if err != nil {
					return err
				}
				if len(memories) == 0 {
					fmt.Printf("No arm holds %s\n", id)
					return nil
				}
				for _, m := range memories {
					printMemory(&m)
				}
				return nil
			}

			arm, err := hive.Arm(nodeID)
			if err != nil {
				return err
			}
			mem, err := arm.Recall(context.Background(), id)
			if errors.Is(err, memory.ErrNotFound) {
				fmt.Printf("Not found: %s\n", id)
				return nil
			}
			if err != nil {
				return err
			}
			printMemory(mem)
			return nil
		},
	}

	cmd.Flags().BoolVar(&collective, "all", false, "recall from every arm that holds the id")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		category      string
		tags          []string
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:   "search [node]",
		Short: "Search a node's memory records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hive, _, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			arm, err := hive.Arm(args[0])
			if err != nil {
				return err
			}

			results, err := arm.Search(context.Background(), memory.Filter{
				Category:      memory.Category(category),
				Tags:          tags,
				MinConfidence: minConfidence,
			})
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Println("No matching records.")
				return nil
			}
			fmt.Printf("Found %d records:\n\n", len(results))
			for i := range results {
				printMemory(&results[i])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "restrict to one category")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "require at least one of these tags")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum confidence")

	return cmd
}

func shareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share [source-node] [id] [target-node...]",
		Short: "Replicate a record to other arms",
		Long: `Replicate the record to the named targets, or to every other registered
arm when no targets are given. Replicas carry the source's content with
confidence decayed by 0.9 and a shared_from_<source> provenance tag. Each
target is delivered independently; failures are reported per target.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceNode, id := args[0], args[1]

			hive, _, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			arm, err := hive.Arm(sourceNode)
			if err != nil {
				return err
			}
			mem, err := arm.Recall(context.Background(), id)
			if err != nil {
				return err
			}

			results, err := hive.Share(context.Background(), sourceNode, mem, args[2:]...)
			if err != nil {
				return err
			}

			for _, r := range results {
				if r.Err != nil {
					fmt.Printf("  %s: failed: %v\n", r.Target, r.Err)
					continue
				}
				fmt.Printf("  %s: stored %s (confidence %.3f)\n", r.Target, r.Memory.ID, r.Memory.Confidence)
			}
			return nil
		},
	}
}

func consensusCmd() *cobra.Command {
	var (
		category string
		tags     []string
	)

	cmd := &cobra.Command{
		Use:   "consensus",
		Short: "Select the consensus record for a category/tag filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			hive, _, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			mem, err := hive.Consensus(context.Background(), memory.Category(category), tags)
			if err != nil {
				return err
			}
			if mem == nil {
				fmt.Println("No candidates.")
				return nil
			}
			printMemory(mem)
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "category to reach consensus on")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "tags to reach consensus on")
	cmd.MarkFlagRequired("category")
	cmd.MarkFlagRequired("tags")

	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [node]",
		Short: "Show hive statistics, or one arm's statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hive, _, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			if len(args) == 1 {
				arm, err := hive.Arm(args[0])
				if err != nil {
					return err
				}
				stats, err := arm.Stats(context.Background())
				if err != nil {
					return err
				}
				fmt.Printf("Node:            %s\n", stats.NodeID)
				fmt.Printf("Total memories:  %d\n", stats.TotalMemories)
				for _, cat := range memory.AllCategories() {
					if n := stats.ByCategory[cat]; n > 0 {
						fmt.Printf("  %-10s %d\n", cat, n)
					}
				}
				fmt.Printf("Avg confidence:  %.3f\n", stats.AvgConfidence)
				if stats.MostUsed != nil {
					fmt.Printf("Most used:       %s (%d recalls)\n", stats.MostUsed.ID, stats.MostUsed.UsageCount)
				}
				return nil
			}

			stats, err := hive.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Arms:            %d\n", stats.TotalArms)
			fmt.Printf("Total memories:  %d\n", stats.TotalMemories)
			for node, n := range stats.MemoriesByArm {
				fmt.Printf("  %-14s %d\n", node, n)
			}
			if stats.MostActiveArm != "" {
				fmt.Printf("Most active arm: %s\n", stats.MostActiveArm)
			}
			fmt.Printf("Diversity:       %.3f\n", stats.Diversity)
			return nil
		},
	}
}

// captureCmd exposes the policy-driven capture engine: each subcommand maps a
// domain event to a record and applies the configured auto-share policy.
func captureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture domain events with auto-share policies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "practice [node] [practice-json] [performance-json]",
		Short: "Capture a successful practice; shared when fitness clears the threshold",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var practice, performance map[string]any
			if err := json.Unmarshal([]byte(args[1]), &practice); err != nil {
				return fmt.Errorf("practice must be a JSON object: %w", err)
			}
			if err := json.Unmarshal([]byte(args[2]), &performance); err != nil {
				return fmt.Errorf("performance must be a JSON object: %w", err)
			}

			hive, cfg, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			engine := capture.NewEngine(hive, cfg.Capture)
			mem, err := engine.RecordPractice(context.Background(), args[0], practice, performance)
			if err != nil {
				return err
			}
			fmt.Printf("Captured practice %s (confidence %.2f)\n", mem.ID, mem.Confidence)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "failure [node] [failure-json]",
		Short: "Capture a failure; always shared so other nodes learn from it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failure map[string]any
			if err := json.Unmarshal([]byte(args[1]), &failure); err != nil {
				return fmt.Errorf("failure must be a JSON object: %w", err)
			}

			hive, cfg, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			engine := capture.NewEngine(hive, cfg.Capture)
			mem, err := engine.RecordFailure(context.Background(), args[0], failure)
			if err != nil {
				return err
			}
			fmt.Printf("Captured failure %s\n", mem.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "insight [node] [insight] [context-json]",
		Short: "Capture an emergent insight; stays local",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var contextData map[string]any
			if err := json.Unmarshal([]byte(args[2]), &contextData); err != nil {
				return fmt.Errorf("context must be a JSON object: %w", err)
			}

			hive, cfg, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			engine := capture.NewEngine(hive, cfg.Capture)
			mem, err := engine.RecordInsight(context.Background(), args[0], args[1], contextData)
			if err != nil {
				return err
			}
			fmt.Printf("Captured insight %s\n", mem.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pattern [node] [pattern-json]",
		Short: "Capture a detected pattern; shared when confident enough",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pattern map[string]any
			if err := json.Unmarshal([]byte(args[1]), &pattern); err != nil {
				return fmt.Errorf("pattern must be a JSON object: %w", err)
			}

			hive, cfg, cleanup, err := initializeHive()
			if err != nil {
				return err
			}
			defer cleanup()

			engine := capture.NewEngine(hive, cfg.Capture)
			mem, err := engine.RecordPattern(context.Background(), args[0], pattern)
			if err != nil {
				return err
			}
			fmt.Printf("Captured pattern %s (confidence %.2f)\n", mem.ID, mem.Confidence)
			return nil
		},
	})

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// OUTPUT HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func printMemory(m *memory.Memory) {
	content, _ := json.Marshal(m.Content)
	fmt.Printf("%s [%s] origin=%s confidence=%.3f used=%d\n",
		m.ID, m.Category, m.OriginNode, m.Confidence, m.UsageCount)
	fmt.Printf("  tags:    %s\n", strings.Join(m.Tags, ", "))
	fmt.Printf("  content: %s\n\n", truncate(string(content), 120))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func countDelivered(results []memory.ShareResult) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}
