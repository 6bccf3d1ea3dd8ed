package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/state"
	"github.com/wiretap-mcp/wiretap/internal/config"
	"github.com/wiretap-mcp/wiretap/internal/service"
)

var hashKeyOperatorName string
var hashKeyName string

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key",
	Short: "Provision an operator and print a new API key",
	Long: `Create an operator (if it does not already exist) and generate a new
API key for it, writing the Argon2id hash to the state file and printing
the cleartext key once.

This does not require a running proxy: it operates directly on the state
file at --state (or admin.state_path from config), the same file
"wiretap start" reads operator credentials from.

Example:
  wiretap hash-key --operator alice --name laptop`,
	RunE: runHashKey,
}

func init() {
	hashKeyCmd.Flags().StringVar(&hashKeyOperatorName, "operator", "", "operator name (created if it does not exist)")
	hashKeyCmd.Flags().StringVar(&hashKeyName, "name", "default", "a label for the new key")
	hashKeyCmd.MarkFlagRequired("operator")
	rootCmd.AddCommand(hashKeyCmd)
}

func runHashKey(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	statePath := adminStatePath
	if statePath == "" {
		statePath = cfg.Admin.StatePath
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	stateStore := state.NewFileStateStore(statePath, logger)
	operatorService := service.NewOperatorService(stateStore, logger)
	if err := operatorService.Init(); err != nil {
		return fmt.Errorf("init operator state: %w", err)
	}

	ctx := context.Background()
	operators, err := operatorService.ListOperators(ctx)
	if err != nil {
		return fmt.Errorf("list operators: %w", err)
	}

	var operatorID string
	for _, op := range operators {
		if op.Name == hashKeyOperatorName {
			operatorID = op.ID
			break
		}
	}
	if operatorID == "" {
		op, err := operatorService.CreateOperator(ctx, service.CreateOperatorInput{Name: hashKeyOperatorName})
		if err != nil {
			return fmt.Errorf("create operator: %w", err)
		}
		operatorID = op.ID
		fmt.Fprintf(os.Stderr, "created operator %q (%s)\n", op.Name, op.ID)
	}

	result, err := operatorService.GenerateKey(ctx, service.GenerateKeyInput{OperatorID: operatorID, Name: hashKeyName})
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	fmt.Fprintf(os.Stderr, "state file: %s\n", statePath)
	fmt.Fprintf(os.Stderr, "operator:   %s\n", hashKeyOperatorName)
	fmt.Fprintf(os.Stderr, "key name:   %s\n\n", hashKeyName)
	fmt.Println(result.CleartextKey)
	fmt.Fprintln(os.Stderr, "\nthis key will not be shown again")
	return nil
}
