package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/textmit/textmit/internal/config"
	"github.com/textmit/textmit/internal/identity"
	"github.com/textmit/textmit/internal/logger"
	"github.com/textmit/textmit/internal/orchestrator"
	"github.com/textmit/textmit/internal/parser"
	"github.com/textmit/textmit/internal/shortcode"
	"github.com/textmit/textmit/internal/smsgateway"
	"github.com/textmit/textmit/internal/taskapi"
	"github.com/textmit/textmit/internal/validator"
)

func init() {
	// parse: run the parser only, no store or task service involved.
	parseCmd := &cobra.Command{
		Use:   "parse MESSAGE",
		Short: "Parse a message body and print the structured command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parser.Parse(args[0], "+10000000000")
			if err != nil {
				return err
			}
			return printJSON(parsed)
		},
	}
	rootCmd.AddCommand(parseCmd)

	// simulate: run the full pipeline with the outbound SMS suppressed.
	var simPhone string
	simulateCmd := &cobra.Command{
		Use:   "simulate MESSAGE",
		Short: "Run a message through the full pipeline without sending SMS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if simPhone == "" {
				return fmt.Errorf("--phone required")
			}
			cfg, err := config.New()
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			log := logger.New("textmitctl")
			session := identity.NewSession(cfg.AuthDomain, cfg.AuthClientID, cfg.AuthClientSecret, cfg.AuthAudience)
			tasks := taskapi.New(cfg.TaskAPIBaseURL, session)
			v := validator.New(st, cfg.HourlyRateLimit, cfg.DailyCommandLimit, cfg.FailOpenOnLimitError, log)
			g := shortcode.NewGenerator(st.TaskCodes().Exists)
			pipe := orchestrator.New(v, g, st, tasks, smsgateway.NopSender{Log: log}, log)

			res := pipe.Handle(context.Background(), args[0], simPhone)
			return printJSON(res)
		},
	}
	simulateCmd.Flags().StringVarP(&simPhone, "phone", "p", "", "Sender phone number (required)")
	_ = simulateCmd.MarkFlagRequired("phone")
	rootCmd.AddCommand(simulateCmd)

	// codegen: exercise short code generation against the live store.
	var codegenUser string
	var codegenCount int
	codegenCmd := &cobra.Command{
		Use:   "codegen",
		Short: "Generate short codes for a user against the live store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if codegenUser == "" {
				return fmt.Errorf("--user required")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			g := shortcode.NewGenerator(st.TaskCodes().Exists)
			for i := 0; i < codegenCount; i++ {
				code, attempts, err := g.Generate(context.Background(), codegenUser)
				if err != nil {
					return err
				}
				fmt.Printf("%s (attempts: %d)\n", code, attempts)
			}
			return nil
		},
	}
	codegenCmd.Flags().StringVarP(&codegenUser, "user", "u", "", "User ID scoping code uniqueness (required)")
	codegenCmd.Flags().IntVarP(&codegenCount, "count", "n", 1, "Number of codes to generate")
	_ = codegenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(codegenCmd)
}
