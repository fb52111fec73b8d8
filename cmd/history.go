package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stablepay/config"
	"stablepay/logger"
)

var historyClear bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded payments, newest first",
	Long: `Show the local transaction ledger. Entries are never deleted except by
an explicit --clear.

Examples:
  stablepay history
  stablepay history --json
  stablepay history --clear`,
	Args: cobra.NoArgs,
	Run:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "Delete all ledger entries")
}

func runHistory(cmd *cobra.Command, args []string) {
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

	if historyClear {
		fmt.Print("Delete the entire payment history? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted.")
			return
		}
		if err := store.Clear(); err != nil {
			printError(err)
			os.Exit(1)
		}
		printSuccess("Payment history cleared.")
		return
	}

	entries := store.List()

	if jsonOutput {
		printJSON(entries)
		return
	}

	if len(entries) == 0 {
		fmt.Println("\nNo payments recorded yet.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                       PAYMENT HISTORY")
	fmt.Println(strings.Repeat("=", 70))

	for _, entry := range entries {
		fmt.Printf("\n  %s  %s\n", entry.CreatedAt.Format("2006-01-02 15:04"), coloredStatus(entry.Status))
		fmt.Printf("    %s %s (chain %d) -> %s\n", entry.Amount, entry.Token, entry.Chain, entry.To)
		fmt.Printf("    id: %s  tx: %s\n", color.CyanString(entry.ID), entry.TxHash)
		if entry.Details != "" {
			fmt.Printf("    %s\n", entry.Details)
		}
	}
	fmt.Println()
}
