package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/contracts"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/repository"
	"github.com/hashstrat/dao-deployer/internal/config"
	"github.com/hashstrat/dao-deployer/internal/database"
	"github.com/hashstrat/dao-deployer/internal/ledger"
	"github.com/hashstrat/dao-deployer/internal/registry"
)

func loadRegistry(c config.RegistryConfig) (*registry.Registry, error) {
	if c.Path == "" {
		return registry.Default(), nil
	}
	return registry.Load(c.Path)
}

// registryNetwork is registry.network, falling back to network.name.
func registryNetwork(c *config.Config) string {
	if c.Registry.Network != "" {
		return c.Registry.Network
	}
	return c.Network.Name
}

// deploymentTargets resolves the LP tokens to register and the governance
// deposit token. governance.deposit_token overrides the registry.
func deploymentTargets(c *config.Config) ([]common.Address, common.Address, error) {
	reg, err := loadRegistry(c.Registry)
	if err != nil {
		return nil, common.Address{}, err
	}

	name := registryNetwork(c)
	network, err := reg.Network(name)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownNetwork) {
			return nil, common.Address{}, fmt.Errorf("%w (set registry.network to one of %v)", err, reg.Networks())
		}
		return nil, common.Address{}, err
	}

	var deposit common.Address
	switch {
	case c.Governance.DepositToken != "":
		deposit = common.HexToAddress(c.Governance.DepositToken)
	case network.DepositToken != nil:
		deposit = *network.DepositToken
	default:
		return nil, common.Address{}, fmt.Errorf("no deposit token for registry network %q: set governance.deposit_token", name)
	}
	return network.LPTokens(), deposit, nil
}

func newSigner(c *config.Config) (*ledger.LocalSigner, error) {
	if err := c.Signer.Validate(); err != nil {
		return nil, err
	}
	if c.Signer.KeystorePath != "" {
		return ledger.NewKeystoreSigner(c.Signer.KeystorePath, c.Signer.KeystorePassword, c.Network.ChainID)
	}
	return ledger.NewLocalSigner(c.Signer.PrivateKey, c.Network.ChainID)
}

// loadArtifacts reads the contract artifacts, extracting artifacts.bundle
// into a temporary directory first when it is set. The returned cleanup
// removes that directory.
func loadArtifacts(c config.ArtifactsConfig) (*ledger.Artifacts, func(), error) {
	noop := func() {}
	if c.Bundle == "" {
		a, err := ledger.LoadArtifacts(c.Dir, contracts.All...)
		return a, noop, err
	}

	dir, err := os.MkdirTemp("", "dao-deployer-artifacts-")
	if err != nil {
		return nil, noop, fmt.Errorf("create artifacts dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	if err := ledger.ExtractBundle(c.Bundle, dir); err != nil {
		cleanup()
		return nil, noop, err
	}
	a, err := ledger.LoadArtifacts(dir, contracts.All...)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	return a, cleanup, nil
}

// openRepository returns the PostgreSQL repository when the database is
// enabled, otherwise an in-memory one.
func openRepository(ctx context.Context, c config.DatabaseConfig) (repository.Repository, func(), error) {
	if !c.Enabled {
		return repository.NewMemoryRepository(), func() {}, nil
	}

	db, err := database.NewPostgres(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewPostgresRepository(db.Pool()), db.Close, nil
}
