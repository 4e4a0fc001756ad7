package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/textmit/textmit/internal/config"
	"github.com/textmit/textmit/internal/store"
	"github.com/textmit/textmit/internal/store/postgres"
	"github.com/textmit/textmit/internal/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "textmitctl",
	Short: "Admin CLI for the SMS command pipeline",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore opens the same store the service would, from TEXTMIT_ env vars.
func openStore() (store.Store, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == "postgres" {
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewWithDB(db), nil
	}
	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return sqlite.New(db), nil
}
