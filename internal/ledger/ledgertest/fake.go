// Package ledgertest provides an in-memory ledger that emulates the HashStrat
// DAO token, farm and governance contracts for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/contracts"
	"github.com/hashstrat/dao-deployer/internal/ledger"
)

// DefaultDeployer is the account the fake ledger signs as.
var DefaultDeployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// DefaultRewardPeriods is how many periods one addRewardPeriods call appends.
const DefaultRewardPeriods = 10

type token struct {
	name        string
	symbol      string
	decimals    uint8
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
}

type farm struct {
	token         common.Address
	rewardPeriods int64
	lpTokens      []common.Address
	// pending registrations become visible after a number of reads
	pending map[common.Address]int
}

type governance struct {
	depositToken common.Address
}

type receipt struct {
	receipt  *types.Receipt
	reverted bool
	call     string
}

// Fake is a thread-safe in-memory implementation of ledger.Ledger.
type Fake struct {
	// RegistrationDelay is the number of getLPTokens reads after which a
	// submitted addLPToken becomes visible.
	RegistrationDelay int
	// RewardPeriodsPerCall is appended by each addRewardPeriods.
	RewardPeriodsPerCall int64

	mu          sync.Mutex
	deployer    common.Address
	nonce       uint64
	block       uint64
	tokens      map[common.Address]*token
	farms       map[common.Address]*farm
	governances map[common.Address]*governance
	receipts    map[common.Hash]receipt
	calls       []string

	failSubmit    map[string]error
	failAwait     map[string]error
	revertMethod  map[string]bool
	neverRegister map[common.Address]bool
	readErrors    int
}

var _ ledger.Ledger = (*Fake)(nil)

// NewFake returns an empty ledger at block 1.
func NewFake() *Fake {
	return &Fake{
		RewardPeriodsPerCall: DefaultRewardPeriods,
		deployer:             DefaultDeployer,
		block:                1,
		tokens:               make(map[common.Address]*token),
		farms:                make(map[common.Address]*farm),
		governances:          make(map[common.Address]*governance),
		receipts:             make(map[common.Hash]receipt),
		failSubmit:           make(map[string]error),
		failAwait:            make(map[string]error),
		revertMethod:         make(map[string]bool),
		neverRegister:        make(map[common.Address]bool),
	}
}

// Deployer returns the signing account.
func (f *Fake) Deployer() common.Address {
	return f.deployer
}

// FailSubmit makes the next submissions of contract.method return err
// immediately. Use an empty method for a contract deployment.
func (f *Fake) FailSubmit(contract, method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSubmit[key(contract, method)] = err
}

// FailConfirmation makes the next AwaitConfirmation of a contract.method
// transaction return err even though the transaction was mined and applied.
// It fires once. Use an empty method for a contract deployment.
func (f *Fake) FailConfirmation(contract, method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAwait[key(contract, method)] = err
}

// RewardPeriods returns the reward period count of a deployed farm.
func (f *Fake) RewardPeriods(farmAddr common.Address) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fm, ok := f.farms[farmAddr]; ok {
		return fm.rewardPeriods
	}
	return 0
}

// RevertOnChain makes contract.method be accepted for broadcast but mined
// with a failed status. Use an empty method for a contract deployment.
func (f *Fake) RevertOnChain(contract, method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revertMethod[key(contract, method)] = true
}

// NeverRegister makes addLPToken(addr) revert silently: submission and
// confirmation lookups succeed but the address never joins the set.
func (f *Fake) NeverRegister(addr common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.neverRegister[addr] = true
}

// FailReads makes the next n getLPTokens reads return an error.
func (f *Fake) FailReads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrors = n
}

// Calls returns the mutating operations in the order they were submitted,
// as "deploy:<Contract>" or "<Contract>.<method>".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Seed registers an LP token on a farm directly, bypassing transactions.
func (f *Fake) Seed(farmAddr common.Address, lp common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fm, ok := f.farms[farmAddr]; ok {
		fm.add(lp)
	}
}

// Mint credits holder with amount on a deployed token without changing its
// total supply.
func (f *Fake) Mint(tokenAddr, holder common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tk, ok := f.tokens[tokenAddr]; ok {
		tk.balances[holder] = new(big.Int).Add(tk.balance(holder), amount)
	}
}

// Governance returns the deposit token a governance contract was built with.
func (f *Fake) Governance(addr common.Address) (common.Address, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.governances[addr]
	if !ok {
		return common.Address{}, false
	}
	return g.depositToken, true
}

// DeployContract implements ledger.Ledger.
func (f *Fake) DeployContract(ctx context.Context, contract string, args ...any) (common.Address, *types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return common.Address{}, nil, err
	}
	if err := f.failSubmit[key(contract, "")]; err != nil {
		return common.Address{}, nil, err
	}

	addr := crypto.CreateAddress(f.deployer, f.nonce)
	tx := f.newTx(nil)
	f.calls = append(f.calls, "deploy:"+contract)

	if f.revertMethod[key(contract, "")] {
		f.mine(tx, contract, common.Address{}, true)
		return addr, tx, nil
	}

	var err error
	switch contract {
	case contracts.Token:
		err = f.deployToken(addr, args)
	case contracts.Farm:
		err = f.deployFarm(addr, args)
	case contracts.Governance:
		err = f.deployGovernance(addr, args)
	default:
		err = fmt.Errorf("%w: %s", ledger.ErrUnknownContract, contract)
	}
	if err != nil {
		return common.Address{}, nil, err
	}

	f.mine(tx, contract, addr, false)
	return addr, tx, nil
}

// SendTransaction implements ledger.Ledger.
func (f *Fake) SendTransaction(ctx context.Context, to common.Address, contract, method string, args ...any) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.failSubmit[key(contract, method)]; err != nil {
		return nil, err
	}

	tx := f.newTx(&to)
	f.calls = append(f.calls, key(contract, method))

	if f.revertMethod[key(contract, method)] {
		f.mine(tx, key(contract, method), common.Address{}, true)
		return tx, nil
	}

	reverted, err := f.apply(to, contract, method, args)
	if err != nil {
		return nil, err
	}
	f.mine(tx, key(contract, method), common.Address{}, reverted)
	return tx, nil
}

// ReadState implements ledger.Ledger.
func (f *Fake) ReadState(ctx context.Context, to common.Address, contract, method string, args ...any) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch contract {
	case contracts.Token:
		tk, ok := f.tokens[to]
		if !ok {
			return nil, fmt.Errorf("no token at %s", to.Hex())
		}
		switch method {
		case contracts.MethodTotalSupply:
			return []any{new(big.Int).Set(tk.totalSupply)}, nil
		case contracts.MethodBalanceOf:
			holder, err := addressArg(args, 0)
			if err != nil {
				return nil, err
			}
			return []any{new(big.Int).Set(tk.balance(holder))}, nil
		}
	case contracts.Farm:
		fm, ok := f.farms[to]
		if !ok {
			return nil, fmt.Errorf("no farm at %s", to.Hex())
		}
		switch method {
		case contracts.MethodRewardPeriodsCount:
			return []any{big.NewInt(fm.rewardPeriods)}, nil
		case contracts.MethodGetLPTokens:
			if f.readErrors > 0 {
				f.readErrors--
				return nil, errors.New("ledgertest: read failed")
			}
			fm.tick(f.RegistrationDelay)
			return []any{append([]common.Address(nil), fm.lpTokens...)}, nil
		}
	}
	return nil, fmt.Errorf("ledgertest: unsupported read %s", key(contract, method))
}

// BlockNumber implements ledger.Ledger.
func (f *Fake) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, ctx.Err()
}

// AwaitConfirmation implements ledger.Ledger.
func (f *Fake) AwaitConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := f.receipts[tx.Hash()]
	if !ok {
		return nil, fmt.Errorf("ledgertest: unknown transaction %s", tx.Hash().Hex())
	}
	if err := f.failAwait[r.call]; err != nil {
		delete(f.failAwait, r.call)
		return nil, err
	}
	if r.reverted {
		return r.receipt, &ledger.RevertedError{TxHash: tx.Hash(), BlockNumber: r.receipt.BlockNumber.Uint64()}
	}
	return r.receipt, nil
}

func (f *Fake) newTx(to *common.Address) *types.Transaction {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    f.nonce,
		To:       to,
		Gas:      21000,
		GasPrice: big.NewInt(1),
		Value:    big.NewInt(0),
	})
	f.nonce++
	return tx
}

func (f *Fake) mine(tx *types.Transaction, call string, created common.Address, reverted bool) {
	f.block++
	status := types.ReceiptStatusSuccessful
	if reverted {
		status = types.ReceiptStatusFailed
	}
	f.receipts[tx.Hash()] = receipt{
		receipt: &types.Receipt{
			Status:          status,
			TxHash:          tx.Hash(),
			ContractAddress: created,
			BlockNumber:     new(big.Int).SetUint64(f.block),
		},
		reverted: reverted,
		call:     call,
	}
}

func (f *Fake) deployToken(addr common.Address, args []any) error {
	if len(args) != 4 {
		return fmt.Errorf("%s constructor: expected 4 args, got %d", contracts.Token, len(args))
	}
	name, _ := args[0].(string)
	symbol, _ := args[1].(string)
	decimals, ok := args[2].(uint8)
	if !ok {
		return fmt.Errorf("%s constructor: decimals must be uint8, got %T", contracts.Token, args[2])
	}
	supply, ok := args[3].(*big.Int)
	if !ok {
		return fmt.Errorf("%s constructor: supply must be *big.Int, got %T", contracts.Token, args[3])
	}

	f.tokens[addr] = &token{
		name:        name,
		symbol:      symbol,
		decimals:    decimals,
		totalSupply: new(big.Int).Set(supply),
		balances:    map[common.Address]*big.Int{f.deployer: new(big.Int).Set(supply)},
	}
	return nil
}

func (f *Fake) deployFarm(addr common.Address, args []any) error {
	tokenAddr, err := addressArg(args, 0)
	if err != nil {
		return err
	}
	if _, ok := f.tokens[tokenAddr]; !ok {
		return fmt.Errorf("%s constructor: no token deployed at %s", contracts.Farm, tokenAddr.Hex())
	}
	f.farms[addr] = &farm{token: tokenAddr, pending: make(map[common.Address]int)}
	return nil
}

func (f *Fake) deployGovernance(addr common.Address, args []any) error {
	deposit, err := addressArg(args, 0)
	if err != nil {
		return err
	}
	f.governances[addr] = &governance{depositToken: deposit}
	return nil
}

// apply executes a mutating call. It returns reverted=true for calls that
// would fail on-chain after being accepted for broadcast.
func (f *Fake) apply(to common.Address, contract, method string, args []any) (bool, error) {
	switch key(contract, method) {
	case key(contracts.Token, contracts.MethodTransfer):
		tk, ok := f.tokens[to]
		if !ok {
			return false, fmt.Errorf("no token at %s", to.Hex())
		}
		recipient, err := addressArg(args, 0)
		if err != nil {
			return false, err
		}
		amount, ok := args[1].(*big.Int)
		if !ok {
			return false, fmt.Errorf("transfer amount must be *big.Int, got %T", args[1])
		}
		from := tk.balance(f.deployer)
		if from.Cmp(amount) < 0 {
			return true, nil
		}
		tk.balances[f.deployer] = new(big.Int).Sub(from, amount)
		tk.balances[recipient] = new(big.Int).Add(tk.balance(recipient), amount)
		return false, nil

	case key(contracts.Farm, contracts.MethodAddRewardPeriods):
		fm, ok := f.farms[to]
		if !ok {
			return false, fmt.Errorf("no farm at %s", to.Hex())
		}
		fm.rewardPeriods += f.RewardPeriodsPerCall
		return false, nil

	case key(contracts.Farm, contracts.MethodAddLPToken):
		fm, ok := f.farms[to]
		if !ok {
			return false, fmt.Errorf("no farm at %s", to.Hex())
		}
		lp, err := addressArg(args, 0)
		if err != nil {
			return false, err
		}
		if f.neverRegister[lp] {
			return true, nil
		}
		if f.RegistrationDelay == 0 {
			fm.add(lp)
		} else if _, queued := fm.pending[lp]; !queued {
			fm.pending[lp] = 0
		}
		return false, nil
	}
	return false, fmt.Errorf("ledgertest: unsupported call %s", key(contract, method))
}

func (t *token) balance(addr common.Address) *big.Int {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

// add appends lp unless it is already registered.
func (fm *farm) add(lp common.Address) {
	for _, existing := range fm.lpTokens {
		if existing == lp {
			return
		}
	}
	fm.lpTokens = append(fm.lpTokens, lp)
}

func (fm *farm) tick(delay int) {
	for lp, reads := range fm.pending {
		reads++
		if reads >= delay {
			fm.add(lp)
			delete(fm.pending, lp)
			continue
		}
		fm.pending[lp] = reads
	}
}

func addressArg(args []any, i int) (common.Address, error) {
	if len(args) <= i {
		return common.Address{}, fmt.Errorf("missing argument %d", i)
	}
	addr, ok := args[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("argument %d must be common.Address, got %T", i, args[i])
	}
	return addr, nil
}

func key(contract, method string) string {
	if method == "" {
		return contract
	}
	return contract + "." + method
}
