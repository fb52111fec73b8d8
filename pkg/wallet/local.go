package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"stablepay/config"
	"stablepay/pkg/types"
)

// ERC20 balanceOf function ABI
const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

// Fallback RPC endpoints for the one-time add-chain path, used when a chain
// is missing from the configuration.
var fallbackRPCEndpoints = map[int]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	137:   "https://polygon-rpc.com",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
}

// LocalSigner is the browser-injected/local-key backend: it holds an ECDSA
// key and talks JSON-RPC directly to the configured chain endpoints.
type LocalSigner struct {
	cfg        *config.Config
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	rpcURLs    map[int]string
	chainAdded map[int]bool
	connected  bool
}

// NewLocalSigner creates the local-signer backend from configuration. The
// key is parsed eagerly so a malformed key fails before any session exists.
func NewLocalSigner(cfg *config.Config) (*LocalSigner, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: no private key configured", types.ErrConnectionRejected)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key", types.ErrConnectionRejected)
	}

	rpcURLs := make(map[int]string, len(cfg.Chains))
	for id, chain := range cfg.Chains {
		if chain.RPCUrl != "" {
			rpcURLs[id] = chain.RPCUrl
		}
	}

	return &LocalSigner{
		cfg:        cfg,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    cfg.DefaultChain,
		rpcURLs:    rpcURLs,
		chainAdded: make(map[int]bool),
	}, nil
}

func (l *LocalSigner) Kind() types.BackendKind { return types.BackendLocalSigner }

func (l *LocalSigner) ChainID() int { return l.chainID }

func (l *LocalSigner) Connect(ctx context.Context) ([]string, error) {
	url, ok := l.rpcURLs[l.chainID]
	if !ok {
		return nil, fmt.Errorf("%w: no RPC endpoint for chain %d", types.ErrUnsupportedChain, l.chainID)
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}

	l.client = client
	l.connected = true
	return []string{l.address.Hex()}, nil
}

func (l *LocalSigner) Accounts(ctx context.Context) ([]string, error) {
	return []string{l.address.Hex()}, nil
}

func (l *LocalSigner) Balance(ctx context.Context, address string) (*big.Int, error) {
	if l.client == nil {
		return nil, types.ErrNoActiveSession
	}
	if address == "" {
		address = l.address.Hex()
	}

	balance, err := l.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNetworkError, err)
	}
	return balance, nil
}

// TokenBalance reads an ERC-20 balance via a packed balanceOf call.
func (l *LocalSigner) TokenBalance(ctx context.Context, tokenAddress, account string) (*big.Int, error) {
	if l.client == nil {
		return nil, types.ErrNoActiveSession
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse balanceOf ABI: %w", err)
	}

	data, err := parsedABI.Pack("balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf data: %w", err)
	}

	token := common.HexToAddress(tokenAddress)
	result, err := l.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNetworkError, err)
	}

	balance := new(big.Int)
	balance.SetBytes(result)
	return balance, nil
}

func (l *LocalSigner) SignAndSend(ctx context.Context, to string, value *big.Int, data []byte) (string, error) {
	if l.client == nil {
		return "", types.ErrNoActiveSession
	}
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid recipient address: %s", to)
	}
	if value == nil {
		value = big.NewInt(0)
	}

	toAddress := common.HexToAddress(to)

	nonce, err := l.client.PendingNonceAt(ctx, l.address)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get nonce: %v", types.ErrNetworkError, err)
	}

	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get gas price: %v", types.ErrNetworkError, err)
	}

	gasLimit := uint64(21000)
	if len(data) > 0 {
		gasLimit = 100000
		estimated, err := l.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  l.address,
			To:    &toAddress,
			Value: value,
			Data:  data,
		})
		if err == nil {
			gasLimit = estimated * 120 / 100
		}
	}

	// Balance preflight: value plus worst-case gas.
	balance, err := l.client.BalanceAt(ctx, l.address, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get balance: %v", types.ErrNetworkError, err)
	}
	cost := new(big.Int).Add(value, new(big.Int).Mul(gasPrice, big.NewInt(int64(gasLimit))))
	if balance.Cmp(cost) < 0 {
		return "", fmt.Errorf("%w: have %s wei, need %s wei", types.ErrInsufficientFunds, balance, cost)
	}

	tx := ethtypes.NewTransaction(nonce, toAddress, value, gasLimit, gasPrice, data)

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(big.NewInt(int64(l.chainID))), l.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := l.client.SendTransaction(ctx, signedTx); err != nil {
		return "", classifySendError(err)
	}

	return signedTx.Hash().Hex(), nil
}

func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %v", types.ErrInsufficientFunds, err)
	case strings.Contains(msg, "execution reverted"):
		return fmt.Errorf("%w: %v", types.ErrSubmissionReverted, err)
	default:
		return fmt.Errorf("%w: %v", types.ErrNetworkError, err)
	}
}

func (l *LocalSigner) SwitchChain(ctx context.Context, chainID int) error {
	if chainID == l.chainID && l.client != nil {
		return nil
	}

	url, ok := l.rpcURLs[chainID]
	if !ok {
		// One-time add-chain fallback from the built-in endpoint list.
		if l.chainAdded[chainID] {
			return fmt.Errorf("%w: chain %d", types.ErrUnsupportedChain, chainID)
		}
		l.chainAdded[chainID] = true

		url, ok = fallbackRPCEndpoints[chainID]
		if !ok {
			return fmt.Errorf("%w: chain %d", types.ErrUnsupportedChain, chainID)
		}
		l.rpcURLs[chainID] = url
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNetworkError, err)
	}

	if l.client != nil {
		l.client.Close()
	}
	l.client = client
	l.chainID = chainID
	return nil
}

func (l *LocalSigner) Disconnect() {
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
	l.connected = false
}
