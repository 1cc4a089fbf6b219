package main

import (
	"encoding/json"
	"fmt"
	"os"

	"ledgerindexer/internal/marketplace"
	"ledgerindexer/internal/mirror"
	"ledgerindexer/internal/processor"
	"ledgerindexer/internal/solana"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <signature>",
		Short: "Fetch one transaction and print how it would be indexed, without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signature := args[0]
			if _, err := solanago.SignatureFromBase58(signature); err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			client := solana.NewClient(solana.Options{RPCURL: cfg.SolanaRPCURL}, log)

			tx, err := client.GetParsedTransaction(cmd.Context(), signature)
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			instructionType := processor.Classify(tx.Logs(), processor.DefaultRules)
			record, err := mirror.Build(tx, string(instructionType))
			if err != nil {
				return fmt.Errorf("failed to build mirror record: %w", err)
			}

			out := struct {
				InstructionType string                  `json:"instruction_type"`
				Marketplace     map[string]any          `json:"marketplace,omitempty"`
				Record          mirror.TransactionRecord `json:"record"`
			}{
				InstructionType: string(instructionType),
				Record:          record,
			}

			markets, err := marketplace.Resolve(cfg.Marketplaces)
			if err != nil {
				return err
			}
			for _, m := range markets {
				if event, ok := m.Parse(tx); ok {
					out.Marketplace = map[string]any{"name": m.Name, "event": event}
					break
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
