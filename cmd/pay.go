package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stablepay/config"
	"stablepay/logger"
	"stablepay/pkg/bridge"
	"stablepay/pkg/metrics"
	"stablepay/pkg/pipeline"
	"stablepay/pkg/quote"
	"stablepay/pkg/types"
	"stablepay/pkg/wallet"
)

var (
	payFromChain int
	payToChain   int
	payBackend   string
	payNoConfirm bool
)

var payCmd = &cobra.Command{
	Use:   "pay <amount> <token> to <recipient>",
	Short: "Send a cross-chain payment settled in USDC",
	Long: `Pay a recipient in USDC using any token you hold. The routing service
finds the path, your wallet backend signs the steps, and the settlement
bridge moves USDC to the destination chain when a cross-chain leg is
required.

Examples:
  # Pay from mainnet ETH, recipient receives USDC on Polygon
  stablepay pay 0.5 ETH to 0xABC... --from-chain 1 --to-chain 137

  # Pay through the delegated custody backend
  stablepay pay 100 USDC to 0xABC... --from-chain 8453 --to-chain 10 --backend custody

  # Skip the confirmation prompt
  stablepay pay 0.5 ETH to 0xABC... --from-chain 1 --to-chain 137 --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runPay,
}

func init() {
	rootCmd.AddCommand(payCmd)

	payCmd.Flags().IntVar(&payFromChain, "from-chain", 0, "Source chain id (REQUIRED)")
	payCmd.Flags().IntVar(&payToChain, "to-chain", 0, "Destination chain id (REQUIRED)")
	payCmd.Flags().StringVar(&payBackend, "backend", "local", "Wallet backend: local or custody")
	payCmd.Flags().BoolVarP(&payNoConfirm, "yes", "y", false, "Skip confirmation prompt")
}

// payPattern matches "<amount> <token> TO <recipient>".
var payPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Za-z0-9]+)\s+(?i:TO)\s+(\S+)$`)

// parsePayCommand parses the natural-language payment arguments.
func parsePayCommand(args []string) (amount decimal.Decimal, token, recipient string, err error) {
	command := strings.TrimSpace(strings.Join(args, " "))

	matches := payPattern.FindStringSubmatch(command)
	if matches == nil {
		return decimal.Zero, "", "", fmt.Errorf("invalid payment format. Expected: 'pay <amount> <token> to <recipient>' (e.g., 'pay 0.5 ETH to 0xABC...')")
	}

	amount, err = decimal.NewFromString(matches[1])
	if err != nil {
		return decimal.Zero, "", "", fmt.Errorf("invalid amount %q: %w", matches[1], err)
	}

	return amount, strings.ToUpper(matches[2]), matches[3], nil
}

func runPay(cmd *cobra.Command, args []string) {
	amount, token, recipient, err := parsePayCommand(args)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if payFromChain == 0 || payToChain == 0 {
		printError(fmt.Errorf("--from-chain and --to-chain are required"))
		os.Exit(1)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	// The quote request wants token addresses; fall back to the symbol when
	// the chain's token table does not list it.
	sourceToken := token
	if addr, ok := cfg.TokenAddress(payFromChain, token); ok && addr != "" {
		sourceToken = addr
	}

	intent, err := types.NewPaymentIntent(payFromChain, sourceToken, amount, payToChain, recipient)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !payNoConfirm && !jsonOutput {
		displayIntent(amount, token, recipient)
		if !confirmPayment() {
			fmt.Println("\nPayment cancelled.")
			os.Exit(0)
		}
	}

	store, err := newStore(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	manager := wallet.NewManager(map[types.BackendKind]wallet.Factory{
		types.BackendLocalSigner: func() (wallet.Adapter, error) {
			return wallet.NewLocalSigner(cfg)
		},
		types.BackendDelegatedCustody: func() (wallet.Adapter, error) {
			return wallet.NewCustodyAdapter(cfg.CustodyServiceURL, cfg.CustodyToken, log), nil
		},
	}, log)

	ctx := context.Background()
	if _, err := manager.Connect(ctx, types.BackendKind(payBackend)); err != nil {
		printError(fmt.Errorf("wallet connection failed: %w", err))
		os.Exit(1)
	}
	defer manager.Disconnect()

	quoter := quote.NewClient(cfg.QuoteServiceURL, cfg.QuoteAPIKey, log,
		quote.WithTimeout(cfg.QuoteTimeout),
		quote.WithSlippageBps(cfg.SlippageBps))
	tracker := bridge.NewClient(cfg.BridgeServiceURL, log)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}

	opts := []pipeline.Option{
		pipeline.WithOnTransition(func(run *pipeline.Run, from pipeline.State) {
			if jsonOutput {
				return
			}
			switch run.State {
			case pipeline.StateAwaitingSignature:
				s.Suffix = " Awaiting signature..."
			case pipeline.StateSubmitted:
				s.Suffix = " Submitted on-chain..."
			case pipeline.StateBridging:
				s.Suffix = " Bridging USDC to the destination chain..."
			}
		}),
	}
	if cfg.MetricsEnabled {
		opts = append(opts, pipeline.WithMetrics(metrics.NewPrometheusRecorder()))
	}

	p := pipeline.New(manager, quoter, tracker, store, pipeline.Config{
		QuoteTTL:      cfg.QuoteTTL,
		PollInterval:  cfg.BridgePollInterval,
		BridgeWaitMin: cfg.BridgeWaitMin,
		BridgeWaitMax: cfg.BridgeWaitMax,
	}, log, opts...)

	run, err := p.Process(ctx, intent)
	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		displayRunJSON(run)
		if err != nil {
			os.Exit(1)
		}
		return
	}

	if err != nil {
		color.Red("\nPayment failed: %s", types.ErrorReason(err))
		if hash := lastHash(run); hash != "" {
			color.Yellow("Last transaction: %s", hash)
		}
		fmt.Printf("\nPayment id %s recorded in history.\n", intent.ID)
		os.Exit(1)
	}

	printSuccess(color.GreenString("Payment delivered: %s USDC to %s", run.Quote.ExpectedOutput, recipient))
	fmt.Printf("  Payment id: %s\n", color.CyanString(intent.ID.String()))
	for i, hash := range run.TxHashes {
		fmt.Printf("  Step %d tx:  %s\n", i+1, hash)
	}
}

func lastHash(run *pipeline.Run) string {
	if run == nil || len(run.TxHashes) == 0 {
		return ""
	}
	return run.TxHashes[len(run.TxHashes)-1]
}

func displayIntent(amount decimal.Decimal, token, recipient string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        PAYMENT SUMMARY")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("\n  You pay:        %s %s (chain %d)\n", amount, token, payFromChain)
	fmt.Printf("  Recipient gets: USDC (chain %d)\n", payToChain)
	fmt.Printf("  Recipient:      %s\n", color.CyanString(recipient))
	fmt.Printf("  Backend:        %s\n\n", payBackend)
}

func confirmPayment() bool {
	fmt.Print("Proceed with payment? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func displayRunJSON(run *pipeline.Run) {
	out := map[string]any{
		"payment_id": run.Intent.ID.String(),
		"state":      string(run.State),
		"tx_hashes":  run.TxHashes,
	}
	if run.Quote != nil {
		out["expected_output"] = run.Quote.ExpectedOutput.String()
	}
	if run.LastErr != nil {
		out["error"] = types.ErrorReason(run.LastErr)
	}
	printJSON(out)
}
