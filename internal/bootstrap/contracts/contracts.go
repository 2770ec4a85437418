// Package contracts names the HashStrat DAO contracts and the methods the
// deployer calls on them, and decodes their read results.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Contract artifact names.
const (
	Token      = "HashStratDAOToken"
	Farm       = "HashStratDAOTokenFarm"
	Governance = "HashStratGovernance"
)

// Token methods.
const (
	MethodTotalSupply = "totalSupply"
	MethodBalanceOf   = "balanceOf"
	MethodTransfer    = "transfer"
)

// Farm methods.
const (
	MethodAddRewardPeriods   = "addRewardPeriods"
	MethodRewardPeriodsCount = "rewardPeriodsCount"
	MethodAddLPToken         = "addLPToken"
	MethodGetLPTokens        = "getLPTokens"
)

// All lists every artifact the deployer needs.
var All = []string{Token, Farm, Governance}

// BigResult extracts a single uint256 output.
func BigResult(values []any) (*big.Int, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("expected 1 output, got %d", len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected uint256 output, got %T", values[0])
	}
	return v, nil
}

// AddressesResult extracts a single address[] output.
func AddressesResult(values []any) ([]common.Address, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("expected 1 output, got %d", len(values))
	}
	addrs, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("expected address[] output, got %T", values[0])
	}
	return addrs, nil
}

// ContainsAddress reports whether addr is in set, comparing hex strings
// case-insensitively so checksummed and lower-case forms are equal.
func ContainsAddress(set []common.Address, addr common.Address) bool {
	want := addr.Hex()
	for _, a := range set {
		if strings.EqualFold(a.Hex(), want) {
			return true
		}
	}
	return false
}
