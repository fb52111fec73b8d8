package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stablepay/config"
	"stablepay/logger"
	"stablepay/pkg/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status <payment-id>",
	Short: "Check the recorded status of a payment",
	Long: `Look a payment up in the local transaction ledger by its id.

Examples:
  stablepay status 6d1f6c1e-...
  stablepay status 6d1f6c1e-... --json`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	paymentID := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	store, err := newStore(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	for _, entry := range store.List() {
		if entry.ID == paymentID {
			if jsonOutput {
				printJSON(entry)
			} else {
				displayEntry(entry)
			}
			return
		}
	}

	printError(fmt.Errorf("payment '%s' not found", paymentID))
	os.Exit(1)
}

func displayEntry(entry ledger.Entry) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                       PAYMENT STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Payment id: %s\n", color.CyanString(entry.ID))
	fmt.Printf("  Status:     %s\n", coloredStatus(entry.Status))
	fmt.Printf("  Amount:     %s %s (chain %d)\n", entry.Amount, entry.Token, entry.Chain)
	fmt.Printf("  From:       %s\n", entry.From)
	fmt.Printf("  To:         %s\n", entry.To)
	fmt.Printf("  Tx hash:    %s\n", entry.TxHash)
	if entry.Details != "" {
		fmt.Printf("  Details:    %s\n", entry.Details)
	}
	fmt.Printf("  Created:    %s\n\n", entry.CreatedAt.Format("2006-01-02 15:04:05"))
}

func coloredStatus(status ledger.Status) string {
	switch status {
	case ledger.StatusCompleted:
		return color.GreenString(string(status))
	case ledger.StatusFailed:
		return color.RedString(string(status))
	default:
		return color.YellowString(string(status))
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
