// Package registry loads the static table of HashStrat pool addresses whose
// LP tokens are registered in the DAO token farm.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultRegistry []byte

var (
	// ErrUnknownNetwork is returned when a registry has no section for a network.
	ErrUnknownNetwork = errors.New("registry: unknown network")

	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("registry: invalid entry")
)

// Entry describes one HashStrat pool. Only PoolLP is used by the deployer.
type Entry struct {
	ID        string
	Pool      common.Address
	PoolLP    common.Address
	Strategy  *common.Address
	PriceFeed *common.Address
}

// Network is the registry section for a single chain.
type Network struct {
	Name         string
	DepositToken *common.Address
	entries      []Entry
}

// Registry is a read-only set of networks.
type Registry struct {
	networks map[string]*Network
}

type fileEntry struct {
	Pool      string `yaml:"pool"`
	PoolLP    string `yaml:"pool_lp"`
	Strategy  string `yaml:"strategy"`
	PriceFeed string `yaml:"price_feed"`
}

type fileNetwork struct {
	DepositToken string               `yaml:"deposit_token"`
	Pools        map[string]fileEntry `yaml:"pools"`
}

type file struct {
	Networks map[string]fileNetwork `yaml:"networks"`
}

// Default returns the registry compiled into the binary.
func Default() *Registry {
	r, err := Parse(defaultRegistry)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded default is invalid: %v", err))
	}
	return r
}

// Load reads a registry file from disk.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes and validates registry YAML.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	r := &Registry{networks: make(map[string]*Network, len(f.Networks))}
	for name, fn := range f.Networks {
		n := &Network{Name: name}

		if fn.DepositToken != "" {
			addr, err := parseAddress(name, "deposit_token", fn.DepositToken)
			if err != nil {
				return nil, err
			}
			n.DepositToken = &addr
		}

		for id, fe := range fn.Pools {
			e, err := fe.toEntry(name, id)
			if err != nil {
				return nil, err
			}
			n.entries = append(n.entries, e)
		}
		sort.Slice(n.entries, func(i, j int) bool { return n.entries[i].ID < n.entries[j].ID })

		r.networks[name] = n
	}
	return r, nil
}

// Network returns the section for name.
func (r *Registry) Network(name string) (*Network, error) {
	n, ok := r.networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	return n, nil
}

// Networks returns the configured network names, sorted.
func (r *Registry) Networks() []string {
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns the pools sorted by ID.
func (n *Network) Entries() []Entry {
	return append([]Entry(nil), n.entries...)
}

// LPTokens returns the distinct pool LP token addresses in entry order.
func (n *Network) LPTokens() []common.Address {
	seen := make(map[string]struct{}, len(n.entries))
	out := make([]common.Address, 0, len(n.entries))
	for _, e := range n.entries {
		k := strings.ToLower(e.PoolLP.Hex())
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e.PoolLP)
	}
	return out
}

func (fe fileEntry) toEntry(network, id string) (Entry, error) {
	e := Entry{ID: id}
	field := func(name string) string { return id + "." + name }

	if fe.PoolLP == "" {
		return e, fmt.Errorf("%w: %s/%s: pool_lp is required", ErrInvalidEntry, network, id)
	}

	var err error
	if e.PoolLP, err = parseAddress(network, field("pool_lp"), fe.PoolLP); err != nil {
		return e, err
	}
	if fe.Pool != "" {
		if e.Pool, err = parseAddress(network, field("pool"), fe.Pool); err != nil {
			return e, err
		}
	}
	if fe.Strategy != "" {
		addr, err := parseAddress(network, field("strategy"), fe.Strategy)
		if err != nil {
			return e, err
		}
		e.Strategy = &addr
	}
	if fe.PriceFeed != "" {
		addr, err := parseAddress(network, field("price_feed"), fe.PriceFeed)
		if err != nil {
			return e, err
		}
		e.PriceFeed = &addr
	}
	return e, nil
}

func parseAddress(network, field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s/%s: %q is not an address", ErrInvalidEntry, network, field, value)
	}
	return common.HexToAddress(value), nil
}
