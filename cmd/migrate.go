package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haozheli/docchat/internal/config"
	"github.com/haozheli/docchat/internal/index"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply index database migrations and exit",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			path := config.ExpandHome(cfg.Index.StorePath)

			// OpenStore applies pending migrations as part of opening.
			store, err := index.OpenStore(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "migrate failed: %v\n", err)
				os.Exit(1)
			}
			store.Close()
			fmt.Printf("index database up to date: %s\n", path)
		},
	}
}
