package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stablepay/config"
	"stablepay/pkg/ledger"
)

var rootCmd = &cobra.Command{
	Use:   "stablepay",
	Short: "Pay with any token on any chain; the recipient receives USDC",
	Long: `stablepay is a command-line client for cross-chain payments. You pay with
whatever token you hold on whatever chain; the recipient always receives
USDC on the chain of their choosing. Routing, swapping and bridging are
handled by external services; stablepay orchestrates them and keeps a
durable ledger of every attempt.

Examples:
  stablepay pay 0.5 ETH to 0xABC... --from-chain 1 --to-chain 137
  stablepay status <payment-id>
  stablepay history`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}

// newStore builds whichever ledger backend the config selects.
func newStore(cfg *config.Config, log *zap.Logger) (ledger.Store, error) {
	switch cfg.Ledger.Backend {
	case "", "file":
		return ledger.NewFileStore(cfg.Ledger.Path)
	case "redis":
		return ledger.NewRedisStore(cfg.Ledger.RedisAddr, log), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %q", cfg.Ledger.Backend)
	}
}
