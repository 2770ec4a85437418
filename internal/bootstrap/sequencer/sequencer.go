// Package sequencer deploys the HashStrat DAO contracts in dependency order:
// token, farm, supply transfer, reward schedule, and finally governance.
//
// Every step waits for its receipt before the next one is issued, so a later
// contract is only ever constructed with addresses that are already on chain.
// Errors are returned to the caller unchanged apart from stage context; a
// revert at any step is fatal.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/contracts"
	"github.com/hashstrat/dao-deployer/internal/ledger"
)

// ErrSupplyMismatch is returned when the farm's token balance after the
// transfer differs from the minted supply.
var ErrSupplyMismatch = errors.New("sequencer: farm balance does not match token supply")

// TokenParams are the DAO token constructor arguments. Supply is in whole
// tokens and is scaled by 10^Decimals before deployment.
type TokenParams struct {
	Name     string
	Symbol   string
	Decimals uint8
	Supply   *big.Int
}

// BaseUnits returns Supply × 10^Decimals.
func (p TokenParams) BaseUnits() *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.Decimals)), nil)
	return new(big.Int).Mul(p.Supply, scale)
}

// DeployedContract records a confirmed contract creation.
type DeployedContract struct {
	Name        string         `json:"name"`
	Address     common.Address `json:"address"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
}

// Step is a confirmed non-creation transaction.
type Step struct {
	Method      string
	TxHash      common.Hash
	BlockNumber uint64
}

// Sequencer drives the ordered deployment against a ledger.
type Sequencer struct {
	ledger ledger.Ledger
	logger *slog.Logger
}

// New creates a Sequencer. A nil logger uses slog.Default().
func New(l ledger.Ledger, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{ledger: l, logger: logger}
}

// DeployTokenAndFarm runs the token, farm, transfer and reward steps in order
// and returns the farm address.
func (s *Sequencer) DeployTokenAndFarm(ctx context.Context, params TokenParams) (common.Address, error) {
	token, err := s.DeployToken(ctx, params)
	if err != nil {
		return common.Address{}, err
	}
	farm, err := s.DeployFarm(ctx, token.Address)
	if err != nil {
		return common.Address{}, err
	}
	if _, err := s.TransferSupply(ctx, token.Address, farm.Address); err != nil {
		return common.Address{}, err
	}
	if _, _, err := s.InitializeRewards(ctx, farm.Address); err != nil {
		return common.Address{}, err
	}
	return farm.Address, nil
}

// DeployToken deploys the DAO token and logs its on-chain total supply.
func (s *Sequencer) DeployToken(ctx context.Context, params TokenParams) (*DeployedContract, error) {
	if params.Supply == nil || params.Supply.Sign() <= 0 {
		return nil, fmt.Errorf("deploy token: supply must be positive")
	}

	d, err := s.deploy(ctx, contracts.Token, params.Name, params.Symbol, params.Decimals, params.BaseUnits())
	if err != nil {
		return nil, fmt.Errorf("deploy token: %w", err)
	}

	supply, err := s.readBig(ctx, d.Address, contracts.Token, contracts.MethodTotalSupply)
	if err != nil {
		return nil, fmt.Errorf("deploy token: %w", err)
	}
	s.logger.Info("token deployed",
		slog.String("address", d.Address.Hex()),
		slog.String("symbol", params.Symbol),
		slog.String("total_supply", supply.String()),
	)
	return d, nil
}

// DeployFarm deploys the token farm bound to token.
func (s *Sequencer) DeployFarm(ctx context.Context, token common.Address) (*DeployedContract, error) {
	d, err := s.deploy(ctx, contracts.Farm, token)
	if err != nil {
		return nil, fmt.Errorf("deploy farm: %w", err)
	}
	s.logger.Info("farm deployed", slog.String("address", d.Address.Hex()), slog.String("token", token.Hex()))
	return d, nil
}

// TransferSupply moves the deployer's entire token balance, which is the
// whole minted supply, to the farm and verifies the farm's balance.
func (s *Sequencer) TransferSupply(ctx context.Context, token, farm common.Address) (*Step, error) {
	supply, err := s.readBig(ctx, token, contracts.Token, contracts.MethodTotalSupply)
	if err != nil {
		return nil, fmt.Errorf("transfer supply: %w", err)
	}

	step, err := s.call(ctx, token, contracts.Token, contracts.MethodTransfer, farm, supply)
	if err != nil {
		return nil, fmt.Errorf("transfer supply: %w", err)
	}

	balance, err := s.readBig(ctx, token, contracts.Token, contracts.MethodBalanceOf, farm)
	if err != nil {
		return nil, fmt.Errorf("transfer supply: %w", err)
	}
	if balance.Cmp(supply) != 0 {
		return nil, fmt.Errorf("transfer supply: %w: balance %s, supply %s", ErrSupplyMismatch, balance, supply)
	}

	s.logger.Info("supply transferred to farm",
		slog.String("farm", farm.Hex()),
		slog.String("amount", supply.String()),
	)
	return step, nil
}

// SupplyTransferred reports whether the farm already holds the token's
// whole supply.
func (s *Sequencer) SupplyTransferred(ctx context.Context, token, farm common.Address) (bool, error) {
	supply, err := s.readBig(ctx, token, contracts.Token, contracts.MethodTotalSupply)
	if err != nil {
		return false, err
	}
	balance, err := s.readBig(ctx, token, contracts.Token, contracts.MethodBalanceOf, farm)
	if err != nil {
		return false, err
	}
	return supply.Sign() > 0 && balance.Cmp(supply) == 0, nil
}

// RewardPeriods returns the farm's reward period count.
func (s *Sequencer) RewardPeriods(ctx context.Context, farm common.Address) (int64, error) {
	count, err := s.readBig(ctx, farm, contracts.Farm, contracts.MethodRewardPeriodsCount)
	if err != nil {
		return 0, err
	}
	return count.Int64(), nil
}

// InitializeRewards appends the farm's reward periods and returns the
// resulting period count.
func (s *Sequencer) InitializeRewards(ctx context.Context, farm common.Address) (*Step, int64, error) {
	step, err := s.call(ctx, farm, contracts.Farm, contracts.MethodAddRewardPeriods)
	if err != nil {
		return nil, 0, fmt.Errorf("initialize rewards: %w", err)
	}

	count, err := s.readBig(ctx, farm, contracts.Farm, contracts.MethodRewardPeriodsCount)
	if err != nil {
		return nil, 0, fmt.Errorf("initialize rewards: %w", err)
	}
	s.logger.Info("reward periods added", slog.String("farm", farm.Hex()), slog.Int64("periods", count.Int64()))
	return step, count.Int64(), nil
}

// DeployGovernance deploys the governance contract with its deposit token.
func (s *Sequencer) DeployGovernance(ctx context.Context, depositToken common.Address) (*DeployedContract, error) {
	d, err := s.deploy(ctx, contracts.Governance, depositToken)
	if err != nil {
		return nil, fmt.Errorf("deploy governance: %w", err)
	}
	s.logger.Info("governance deployed",
		slog.String("address", d.Address.Hex()),
		slog.String("deposit_token", depositToken.Hex()),
	)
	return d, nil
}

func (s *Sequencer) deploy(ctx context.Context, name string, args ...any) (*DeployedContract, error) {
	addr, tx, err := s.ledger.DeployContract(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("contract creation sent", slog.String("contract", name), slog.String("tx", tx.Hash().Hex()))

	receipt, err := s.ledger.AwaitConfirmation(ctx, tx)
	if err != nil {
		return nil, err
	}
	if receipt.ContractAddress != (common.Address{}) {
		addr = receipt.ContractAddress
	}
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("%s: receipt has no contract address", name)
	}

	return &DeployedContract{
		Name:        name,
		Address:     addr,
		TxHash:      tx.Hash(),
		BlockNumber: blockNumber(receipt),
	}, nil
}

func (s *Sequencer) call(ctx context.Context, to common.Address, contract, method string, args ...any) (*Step, error) {
	tx, err := s.ledger.SendTransaction(ctx, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	receipt, err := s.ledger.AwaitConfirmation(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &Step{Method: method, TxHash: tx.Hash(), BlockNumber: blockNumber(receipt)}, nil
}

func (s *Sequencer) readBig(ctx context.Context, to common.Address, contract, method string, args ...any) (*big.Int, error) {
	values, err := s.ledger.ReadState(ctx, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	v, err := contracts.BigResult(values)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", contract, method, err)
	}
	return v, nil
}

func blockNumber(r *types.Receipt) uint64 {
	if r == nil || r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
