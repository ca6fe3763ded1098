package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show consolidation statistics and recent decisions for a character",
		Run:   runStats,
	}

	cmd.Flags().StringP("character", "c", "", "Character ID (required)")
	cmd.Flags().IntP("limit", "l", 20, "Number of recent decisions to show")
	cmd.MarkFlagRequired("character")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	characterID, _ := cmd.Flags().GetString("character")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := config.LoadConfig()
	if err != nil {
		exitErr("load config", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	stats, err := store.GetStatistics(ctx, characterID)
	if err != nil {
		exitErr("load statistics", err)
	}
	if stats == nil {
		fmt.Printf("No consolidation statistics recorded for %s yet.\n", characterID)
	} else {
		avg := 0.0
		if stats.TotalEvaluated > 0 {
			avg = stats.ScoreSum / float64(stats.TotalEvaluated)
		}
		fmt.Printf("Character %s: evaluated=%d consolidated=%d deferred=%d rejected=%d avgScore=%.2f\n",
			stats.CharacterID, stats.TotalEvaluated, stats.Consolidated,
			stats.Deferred, stats.Rejected, avg)
	}

	if value, ok, err := store.GetThreshold(ctx, characterID); err == nil && ok {
		fmt.Printf("Evaluation threshold: %.2f\n", value)
	}

	entries, err := store.GetDecisionLog(ctx, characterID, limit)
	if err != nil {
		exitErr("load decision log", err)
	}
	if len(entries) > 0 {
		b, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(b))
	}
}
