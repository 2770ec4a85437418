package orchestrator

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Plan describes what a run would do, without touching the chain.
type Plan struct {
	Network      string           `json:"network"`
	ChainID      int64            `json:"chain_id"`
	Deployer     common.Address   `json:"deployer"`
	TokenName    string           `json:"token_name"`
	TokenSymbol  string           `json:"token_symbol"`
	Decimals     uint8            `json:"decimals"`
	Supply       string           `json:"supply"`
	DepositToken common.Address   `json:"deposit_token"`
	LPTokens     []common.Address `json:"lp_tokens"`
	Stages       []Stage          `json:"stages"`
	Await        bool             `json:"await_registrations"`
}

// BuildPlan returns the plan for cfg.
func BuildPlan(network string, chainID int64, deployer common.Address, cfg Config) Plan {
	supply := "0"
	if cfg.Token.Supply != nil {
		supply = cfg.Token.BaseUnits().String()
	}
	return Plan{
		Network:      network,
		ChainID:      chainID,
		Deployer:     deployer,
		TokenName:    cfg.Token.Name,
		TokenSymbol:  cfg.Token.Symbol,
		Decimals:     cfg.Token.Decimals,
		Supply:       supply,
		DepositToken: cfg.DepositToken,
		LPTokens:     append([]common.Address(nil), cfg.LPTokens...),
		Stages:       append([]Stage(nil), StageOrder[1:]...),
		Await:        cfg.AwaitRegistrations,
	}
}

// Print writes a human readable plan to w.
func (p Plan) Print(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Network:        %s (chain %d)\n", p.Network, p.ChainID)
	fmt.Fprintf(&b, "Deployer:       %s\n", p.Deployer.Hex())
	fmt.Fprintf(&b, "Token:          %s (%s), %d decimals, supply %s\n", p.TokenName, p.TokenSymbol, p.Decimals, p.Supply)
	fmt.Fprintf(&b, "Deposit token:  %s\n", p.DepositToken.Hex())
	fmt.Fprintf(&b, "LP tokens:      %d\n", len(p.LPTokens))
	for _, lp := range p.LPTokens {
		fmt.Fprintf(&b, "  %s\n", lp.Hex())
	}
	b.WriteString("Stages:\n")
	for i, s := range p.Stages {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s)
	}
	if !p.Await {
		b.WriteString("Registrations are not awaited.\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
