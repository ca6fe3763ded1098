package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Project retention for a hypothetical memory under the active preset",
		Run:   runRetention,
	}

	cmd.Flags().Float64("importance", 0.5, "Memory importance (0-1)")
	cmd.Flags().Float64("emotion", 0.0, "Emotion intensity (0-1)")
	cmd.Flags().Int("reinforcements", 0, "Number of reinforcements")
	cmd.Flags().Float64("confidence", 1.0, "Recall confidence (0-1)")
	cmd.Flags().IntSlice("days", []int{0, 1, 7, 30, 90, 365}, "Elapsed days to project")

	RootCmd.AddCommand(cmd)
}

func runRetention(cmd *cobra.Command, args []string) {
	importance, _ := cmd.Flags().GetFloat64("importance")
	emotion, _ := cmd.Flags().GetFloat64("emotion")
	reinforcements, _ := cmd.Flags().GetInt("reinforcements")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	days, _ := cmd.Flags().GetIntSlice("days")

	cfg, err := config.LoadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	strength, err := cfg.StrengthConfig()
	if err != nil {
		exitErr("load retention preset", err)
	}

	factors := engine.StrengthFactors{
		ReinforcementCount: reinforcements,
		EmotionIntensity:   emotion,
		Importance:         importance,
	}

	fmt.Printf("Preset %q, effective strength %.2f days\n",
		cfg.Retention.Preset, engine.EffectiveStrength(factors, strength))
	for _, d := range days {
		fmt.Printf("  day %4d: retention %.3f\n",
			d, engine.Retention(factors, float64(d), confidence, strength))
	}
}
