package config

import (
	"sort"

	"github.com/spf13/viper"
)

// Preset holds the defaults for a well-known network.
type Preset struct {
	RPCURL  string
	ChainID int64
	// GasPrice pins the legacy gas price in wei. Empty uses eth_gasPrice.
	GasPrice string
	// RPCEnv is an additional environment variable read for the RPC URL.
	RPCEnv string
}

// Presets are the networks the HashStrat Hardhat project targets. The
// hardhat and localhost presets expect a local node (hardhat node or anvil),
// optionally forking Polygon.
var Presets = map[string]Preset{
	"hardhat": {
		RPCURL:  "http://127.0.0.1:8545",
		ChainID: 31337,
	},
	"localhost": {
		RPCURL:  "http://127.0.0.1:8545",
		ChainID: 31337,
	},
	"kovan": {
		ChainID: 42,
		RPCEnv:  "RPC_URL_KOVAN",
	},
	"polygon": {
		ChainID:  137,
		GasPrice: "50000000000", // 50 gwei
		RPCEnv:   "RPC_URL_POLYGON_MAIN",
	},
}

// PresetNames returns the preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyPreset installs the preset for name as defaults. Unknown names are
// custom networks that must set rpc_url and chain_id explicitly.
func applyPreset(v *viper.Viper, name string) {
	p, ok := Presets[name]
	if !ok {
		return
	}

	if p.RPCURL != "" {
		v.SetDefault("network.rpc_url", p.RPCURL)
	}
	v.SetDefault("network.chain_id", p.ChainID)
	if p.GasPrice != "" {
		v.SetDefault("network.gas_price", p.GasPrice)
	}
	if p.RPCEnv != "" {
		v.BindEnv("network.rpc_url", "HASHSTRAT_NETWORK_RPC_URL", p.RPCEnv)
	}
}
