package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/procedural"
	"github.com/reverie-ai/reverie/internal/storage/sqlite"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect and maintain procedural memories",
}

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List procedural memories ranked by proficiency",
		Run:   runSkillsList,
	}

	decayCmd := &cobra.Command{
		Use:   "decay",
		Short: "Apply disuse decay to procedural memories",
		Run:   runSkillsDecay,
	}
	decayCmd.Flags().IntP("days", "d", 30, "Decay memories unused for at least this many days")

	progressCmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Show the learning trend for one procedural memory",
		Args:  cobra.ExactArgs(1),
		Run:   runSkillsProgress,
	}

	skillsCmd.AddCommand(listCmd, decayCmd, progressCmd)
	RootCmd.AddCommand(skillsCmd)
}

func openManager(cmd *cobra.Command) *procedural.Manager {
	cfg, err := config.LoadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	mgr, err := procedural.NewManager(cmd.Context(), sqlite.ProceduralStore{Store: store})
	if err != nil {
		exitErr("load procedural memories", err)
	}
	return mgr
}

func runSkillsList(cmd *cobra.Command, args []string) {
	mgr := openManager(cmd)
	for _, pm := range mgr.GetAll() {
		automated := ""
		if pm.IsAutomated() {
			automated = " [automated]"
		}
		fmt.Printf("%-36s %-20s %-10s proficiency=%.2f successRate=%.2f runs=%d%s\n",
			pm.ID, pm.Name, pm.Type, pm.Proficiency, pm.SuccessRate, pm.ExecutionCount, automated)
	}
}

func runSkillsDecay(cmd *cobra.Command, args []string) {
	days, _ := cmd.Flags().GetInt("days")
	mgr := openManager(cmd)
	n := mgr.ApplyDecay(cmd.Context(), days)
	fmt.Printf("Decayed %d procedural memories unused for %d+ days.\n", n, days)
}

func runSkillsProgress(cmd *cobra.Command, args []string) {
	mgr := openManager(cmd)
	progress, err := mgr.GetLearningProgress(args[0])
	if err != nil {
		exitErr("learning progress", err)
	}
	b, _ := json.MarshalIndent(progress, "", "  ")
	fmt.Println(string(b))
}
