package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stablepay/config"
	"stablepay/logger"
	"stablepay/pkg/wallet"
)

var balanceChain int

var balanceCmd = &cobra.Command{
	Use:   "balance [token]",
	Short: "Show the local signer's balance",
	Long: `Show the local signer's native balance on a chain, or an ERC-20 token
balance when a token symbol is given. The token must be listed in the
chain's token table in the configuration.

Examples:
  stablepay balance --chain 1
  stablepay balance USDC --chain 137`,
	Args: cobra.MaximumNArgs(1),
	Run:  runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)

	balanceCmd.Flags().IntVar(&balanceChain, "chain", 0, "Chain id (defaults to the configured default chain)")
}

func runBalance(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	if balanceChain != 0 {
		cfg.DefaultChain = balanceChain
	}

	signer, err := wallet.NewLocalSigner(cfg)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx := context.Background()
	accounts, err := signer.Connect(ctx)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer signer.Disconnect()
	address := accounts[0]

	native, err := signer.Balance(ctx, address)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	out := map[string]any{
		"address":    address,
		"chain":      cfg.DefaultChain,
		"native_wei": native.String(),
	}

	if len(args) == 1 {
		symbol := strings.ToUpper(args[0])
		tokenAddr, ok := cfg.TokenAddress(cfg.DefaultChain, symbol)
		if !ok || tokenAddr == "" {
			printError(fmt.Errorf("token %s is not configured as a contract on chain %d", symbol, cfg.DefaultChain))
			os.Exit(1)
		}
		tokenBal, err := signer.TokenBalance(ctx, tokenAddr, address)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		out["token"] = symbol
		out["token_balance"] = tokenBal.String()
	}

	if jsonOutput {
		printJSON(out)
		return
	}

	fmt.Printf("\n  Address: %s\n", color.CyanString(address))
	fmt.Printf("  Chain:   %d\n", cfg.DefaultChain)
	fmt.Printf("  Native:  %s wei\n", native.String())
	if token, ok := out["token"]; ok {
		fmt.Printf("  %s:    %s\n", token, out["token_balance"])
	}
	fmt.Println()
}
