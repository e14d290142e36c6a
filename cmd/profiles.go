package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adalundhe/quorum/core/config"
	"github.com/adalundhe/quorum/core/store"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage consensus profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		st, err := store.Open(store.DefaultConfig(cfg.DatabasePath()))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		ctx := cmd.Context()
		profiles, err := st.ListProfiles(ctx)
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			cmd.Println("no profiles configured")
			return nil
		}

		activeID := ""
		if active, err := st.ActiveProfile(ctx); err == nil {
			activeID = active.ID
		}

		for _, p := range profiles {
			marker := " "
			if p.ID == activeID {
				marker = "*"
			}
			cmd.Printf("%s %s (rounds=%d)\n", marker, p.Name, p.MaxRounds)
			cmd.Printf("    generator: %s\n", p.GeneratorModel)
			cmd.Printf("    refiner:   %s\n", p.RefinerModel)
			cmd.Printf("    validator: %s\n", p.ValidatorModel)
			cmd.Printf("    curator:   %s\n", p.CuratorModel)
		}
		return nil
	},
}

var profilesUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the active profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		st, err := store.Open(store.DefaultConfig(cfg.DatabasePath()))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		ctx := cmd.Context()
		p, err := st.ProfileByName(ctx, args[0])
		if err != nil {
			return fmt.Errorf("profile %q: %w", args[0], err)
		}
		if err := st.SetActiveProfile(ctx, p.ID); err != nil {
			return err
		}
		cmd.Printf("active profile: %s\n", p.Name)
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesUseCmd)
	rootCmd.AddCommand(profilesCmd)
}
