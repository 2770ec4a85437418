// Package ledger provides the chain client used by the deployer: contract
// deployment, transaction submission, state reads and receipt confirmation.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultFallbackGasLimit is used when gas estimation of a contract creation fails.
const DefaultFallbackGasLimit = 10_000_000

// Ledger is the capability set the deployment core consumes.
// Every method may block on the network.
type Ledger interface {
	// DeployContract broadcasts a contract creation and returns the address
	// the contract will live at once the transaction is mined.
	DeployContract(ctx context.Context, contract string, args ...any) (common.Address, *types.Transaction, error)
	// SendTransaction broadcasts a state-mutating call.
	SendTransaction(ctx context.Context, to common.Address, contract, method string, args ...any) (*types.Transaction, error)
	// ReadState performs an eth_call against the latest block and unpacks the outputs.
	ReadState(ctx context.Context, to common.Address, contract, method string, args ...any) ([]any, error)
	// BlockNumber returns the current block height.
	BlockNumber(ctx context.Context) (uint64, error)
	// AwaitConfirmation blocks until tx is mined. A failed receipt is
	// returned as a *RevertedError.
	AwaitConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Backend is the subset of ethclient.Client the Client needs.
type Backend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ClientConfig contains configuration for the Client.
type ClientConfig struct {
	Signer    TransactionSigner
	Artifacts *Artifacts

	// GasPrice pins the legacy gas price. Nil uses SuggestGasPrice.
	GasPrice *big.Int
	// GasPriceBoostPercent is added on top of a suggested gas price.
	GasPriceBoostPercent int64
	// FallbackGasLimit is used for contract creations whose estimate fails.
	FallbackGasLimit uint64

	Logger *slog.Logger
}

// Client implements Ledger on top of a JSON-RPC backend with a single signer.
// Submissions are serialized so concurrent callers get consecutive nonces.
type Client struct {
	backend   Backend
	signer    TransactionSigner
	artifacts *Artifacts
	cfg       ClientConfig
	logger    *slog.Logger
	closer    func()

	mu          sync.Mutex
	nonce       uint64
	nonceLoaded bool
}

var _ Ledger = (*Client)(nil)

// NewClient creates a Client over an existing backend.
func NewClient(backend Backend, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FallbackGasLimit == 0 {
		cfg.FallbackGasLimit = DefaultFallbackGasLimit
	}

	return &Client{
		backend:   backend,
		signer:    cfg.Signer,
		artifacts: cfg.Artifacts,
		cfg:       cfg,
		logger:    logger,
	}
}

// Dial connects to rpcURL and verifies the node serves the signer's chain.
func Dial(ctx context.Context, rpcURL string, cfg ClientConfig) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", rpcURL, err)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	if chainID.Cmp(cfg.Signer.ChainID()) != 0 {
		ec.Close()
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrChainIDMismatch, cfg.Signer.ChainID(), chainID)
	}

	c := NewClient(ec, cfg)
	c.closer = ec.Close
	return c, nil
}

// Close releases the underlying RPC connection, if the Client owns one.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Address returns the deployer account.
func (c *Client) Address() common.Address {
	return c.signer.Address()
}

// DeployContract implements Ledger.
func (c *Client) DeployContract(ctx context.Context, contract string, args ...any) (common.Address, *types.Transaction, error) {
	art, err := c.artifacts.Get(contract)
	if err != nil {
		return common.Address{}, nil, err
	}

	data, err := art.Bytecode.Bytes()
	if err != nil {
		return common.Address{}, nil, wrapCallError(contract, "", err)
	}
	if len(args) > 0 {
		encoded, err := art.ABI().Pack("", args...)
		if err != nil {
			return common.Address{}, nil, wrapCallError(contract, "", fmt.Errorf("encode constructor args: %w", err))
		}
		data = append(data, encoded...)
	}

	tx, err := c.submit(ctx, nil, data, contract, "")
	if err != nil {
		return common.Address{}, nil, err
	}

	addr := crypto.CreateAddress(c.signer.Address(), tx.Nonce())
	c.logger.Info("contract deployment submitted",
		slog.String("contract", contract),
		slog.String("address", addr.Hex()),
		slog.String("tx_hash", tx.Hash().Hex()),
	)
	return addr, tx, nil
}

// SendTransaction implements Ledger.
func (c *Client) SendTransaction(ctx context.Context, to common.Address, contract, method string, args ...any) (*types.Transaction, error) {
	art, err := c.artifacts.Get(contract)
	if err != nil {
		return nil, err
	}

	data, err := art.ABI().Pack(method, args...)
	if err != nil {
		return nil, wrapCallError(contract, method, fmt.Errorf("encode call: %w", err))
	}

	tx, err := c.submit(ctx, &to, data, contract, method)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("transaction submitted",
		slog.String("contract", contract),
		slog.String("method", method),
		slog.String("to", to.Hex()),
		slog.String("tx_hash", tx.Hash().Hex()),
	)
	return tx, nil
}

// ReadState implements Ledger.
func (c *Client) ReadState(ctx context.Context, to common.Address, contract, method string, args ...any) ([]any, error) {
	art, err := c.artifacts.Get(contract)
	if err != nil {
		return nil, err
	}

	data, err := art.ABI().Pack(method, args...)
	if err != nil {
		return nil, wrapCallError(contract, method, fmt.Errorf("encode call: %w", err))
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.signer.Address(),
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, wrapCallError(contract, method, err)
	}

	values, err := art.ABI().Unpack(method, out)
	if err != nil {
		return nil, wrapCallError(contract, method, fmt.Errorf("decode result: %w", err))
	}
	return values, nil
}

// BlockNumber implements Ledger.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// AwaitConfirmation implements Ledger.
func (c *Client) AwaitConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for receipt %s: %w", tx.Hash().Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, &RevertedError{
			TxHash:      tx.Hash(),
			BlockNumber: receipt.BlockNumber.Uint64(),
			GasUsed:     receipt.GasUsed,
		}
	}
	return receipt, nil
}

// submit prices, signs and broadcasts a transaction. Contract creations fall
// back to a fixed gas limit when estimation fails; calls do not, since a
// failed estimate there almost always means the call would revert.
func (c *Client) submit(ctx context.Context, to *common.Address, data []byte, contract, method string) (*types.Transaction, error) {
	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return nil, wrapCallError(contract, method, err)
	}

	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.signer.Address(),
		To:       to,
		GasPrice: gasPrice,
		Value:    big.NewInt(0),
		Data:     data,
	})
	if err != nil {
		if to != nil {
			return nil, wrapCallError(contract, method, fmt.Errorf("estimate gas: %w", err))
		}
		gasLimit = c.cfg.FallbackGasLimit
		c.logger.Warn("gas estimation failed, using default",
			slog.String("contract", contract),
			slog.Uint64("gas_limit", gasLimit),
			slog.String("error", err.Error()),
		)
	}
	// Add 20% buffer to gas limit
	gasLimit = gasLimit * 120 / 100

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.nonceLoaded {
		nonce, err := c.backend.PendingNonceAt(ctx, c.signer.Address())
		if err != nil {
			return nil, wrapCallError(contract, method, fmt.Errorf("get nonce: %w", err))
		}
		c.nonce = nonce
		c.nonceLoaded = true
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    c.nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       to,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signedTx, err := c.signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, wrapCallError(contract, method, err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		// The node may or may not have seen it; re-read the nonce next time.
		c.nonceLoaded = false
		return nil, wrapCallError(contract, method, fmt.Errorf("send transaction: %w", err))
	}
	c.nonce++

	return signedTx, nil
}

func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	if c.cfg.GasPrice != nil {
		return new(big.Int).Set(c.cfg.GasPrice), nil
	}

	suggested, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}
	if c.cfg.GasPriceBoostPercent > 0 {
		suggested = new(big.Int).Mul(suggested, big.NewInt(100+c.cfg.GasPriceBoostPercent))
		suggested = new(big.Int).Div(suggested, big.NewInt(100))
	}
	return suggested, nil
}
