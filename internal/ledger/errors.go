package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors - Transactions
var (
	ErrReverted        = errors.New("ledger: transaction reverted")
	ErrUnknownContract = errors.New("ledger: unknown contract artifact")
	ErrNoBytecode      = errors.New("ledger: artifact has no bytecode")
)

// Sentinel errors - Signing
var (
	ErrChainIDMismatch = errors.New("ledger: chain ID mismatch")
	ErrDevKeyOnMainnet = errors.New("ledger: well-known development key used on a production chain")
)

// RevertedError reports a mined transaction whose receipt status is failed.
type RevertedError struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Error implements the error interface.
func (e *RevertedError) Error() string {
	return fmt.Sprintf("transaction %s reverted in block %d (gas used %d)", e.TxHash.Hex(), e.BlockNumber, e.GasUsed)
}

// Is lets errors.Is match RevertedError against ErrReverted.
func (e *RevertedError) Is(target error) bool {
	return target == ErrReverted
}

// CallError wraps an error with the contract call that produced it.
type CallError struct {
	Contract string
	Method   string
	Err      error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%s constructor: %v", e.Contract, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Contract, e.Method, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *CallError) Unwrap() error {
	return e.Err
}

// wrapCallError returns nil if err is nil.
func wrapCallError(contract, method string, err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Contract: contract, Method: method, Err: err}
}
