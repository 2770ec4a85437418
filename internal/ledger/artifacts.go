package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ContractArtifact represents a compiled Solidity contract with ABI and bytecode.
type ContractArtifact struct {
	RawABI       json.RawMessage `json:"abi"`
	Bytecode     Bytecode        `json:"bytecode"`
	ContractName string          `json:"contractName,omitempty"`

	parsed abi.ABI
}

// Bytecode contains the contract creation bytecode.
// It handles both formats:
// - Simple string: "0x608060..." (Hardhat)
// - Object with "object" field: {"object": "0x608060..."} (Foundry)
type Bytecode struct {
	hex string
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// MarshalJSON marshals the bytecode as a string.
func (b Bytecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.hex)
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// Bytes decodes the bytecode. Hardhat writes "0x" for abstract contracts.
func (b Bytecode) Bytes() ([]byte, error) {
	h := b.hex
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	if h == "0x" {
		return nil, ErrNoBytecode
	}
	return hexutil.Decode(h)
}

// ParseArtifact decodes a single artifact JSON document and parses its ABI.
func ParseArtifact(data []byte) (*ContractArtifact, error) {
	var a ContractArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	parsed, err := abi.JSON(bytes.NewReader(a.RawABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	a.parsed = parsed
	return &a, nil
}

// ABI returns the parsed contract ABI.
func (a *ContractArtifact) ABI() abi.ABI {
	return a.parsed
}

// Artifacts is a read-only set of contract artifacts keyed by contract name.
type Artifacts struct {
	byName map[string]*ContractArtifact
}

// NewArtifacts builds an artifact set from already parsed artifacts.
func NewArtifacts(artifacts map[string]*ContractArtifact) *Artifacts {
	byName := make(map[string]*ContractArtifact, len(artifacts))
	for name, a := range artifacts {
		byName[name] = a
	}
	return &Artifacts{byName: byName}
}

// Get returns the artifact for a contract name.
func (a *Artifacts) Get(name string) (*ContractArtifact, error) {
	art, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, name)
	}
	return art, nil
}

// Names returns the contract names held by the set.
func (a *Artifacts) Names() []string {
	names := make([]string, 0, len(a.byName))
	for name := range a.byName {
		names = append(names, name)
	}
	return names
}

// LoadArtifacts walks dir looking for <Name>.json for each requested contract.
// It understands the Hardhat (artifacts/contracts/X.sol/X.json) and Foundry
// (out/X.sol/X.json) layouts. Debug files (*.dbg.json) are skipped.
func LoadArtifacts(dir string, names ...string) (*Artifacts, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n+".json"] = true
	}

	found := make(map[string]*ContractArtifact, len(names))
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !wanted[d.Name()] {
			return nil
		}
		name := strings.TrimSuffix(d.Name(), ".json")
		if _, dup := found[name]; dup {
			return fmt.Errorf("duplicate artifact for %s at %s", name, path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		art, err := ParseArtifact(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		found[name] = art
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load artifacts from %s: %w", dir, err)
	}

	for _, n := range names {
		if _, ok := found[n]; !ok {
			return nil, fmt.Errorf("%w: %s not found under %s", ErrUnknownContract, n, dir)
		}
	}
	return NewArtifacts(found), nil
}
