package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/engine"
	"github.com/reverie-ai/reverie/internal/llm"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run a consolidation pass for a character",
		Run:   runConsolidate,
	}

	cmd.Flags().StringP("character", "c", "", "Character ID (required)")
	cmd.Flags().Bool("no-scorer", false, "Skip the LLM scorer and use the rule-based fallback")
	cmd.MarkFlagRequired("character")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	characterID, _ := cmd.Flags().GetString("character")
	noScorer, _ := cmd.Flags().GetBool("no-scorer")

	cfg, err := config.LoadConfig()
	if err != nil {
		exitErr("load config", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	var scorer llm.Scorer
	if cfg.LLM.ScorerEnabled && !noScorer {
		scorer = llm.NewLLMScorer(llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: cfg.LLM.OllamaURL,
			Model:   cfg.LLM.OllamaModel,
			Timeout: cfg.LLM.ScorerTimeout,
		}))
	}

	pipeline := engine.NewConsolidationPipeline(store, store, nil, scorer, engine.ConsolidationConfig{
		MinAgeDays:      cfg.Consolidation.MinAgeDays,
		InterBatchDelay: cfg.Consolidation.InterBatchDelay,
		ScorerTimeout:   cfg.LLM.ScorerTimeout,
		ScorerRetries:   cfg.Consolidation.ScorerRetries,
	})

	result, err := pipeline.Run(cmd.Context(), characterID)
	if err != nil {
		exitErr("consolidate", err)
	}

	fmt.Printf("Evaluated %d memories in %d groups: %d consolidated, %d deferred, %d rejected\n",
		result.TotalEvaluated, result.Groups, result.Consolidated, result.Deferred, result.Rejected)
	if result.FallbackUsed {
		fmt.Println("Rule-based fallback was used for at least one batch.")
	}
	if result.StoreErrors > 0 {
		fmt.Printf("%d memories failed to persist and were skipped.\n", result.StoreErrors)
	}
	fmt.Printf("Evaluation threshold for %s is now %.2f\n", characterID, result.Threshold)
}
