package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudreap/cloudreap/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Parse and validate the configuration file, then exit.

All violations are reported at once, so the file can be fixed in one pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("configuration valid: %d tenant(s), run every %s, max %d simultaneous deletes\n",
			len(cfg.Cleanup), cfg.General.RunEveryDuration(), cfg.General.MaxSimultaneousDeletes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
