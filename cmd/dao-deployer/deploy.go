package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/orchestrator"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/poller"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/repository"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/sequencer"
	"github.com/hashstrat/dao-deployer/internal/database"
	"github.com/hashstrat/dao-deployer/internal/ledger"
	"github.com/hashstrat/dao-deployer/internal/lock"
	"github.com/hashstrat/dao-deployer/internal/metrics"
	"github.com/hashstrat/dao-deployer/internal/server"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the DAO contracts and register LP tokens",
	Long: `Deploy HashStratDAOToken, HashStratDAOTokenFarm and HashStratGovernance,
move the token supply into the farm, schedule the reward periods and register
every pool LP token from the registry in the farm.

Every stage is persisted when the database is enabled, so a failed run can be
continued with --resume. Already deployed contracts are reused and only LP
tokens missing from the farm are registered again.

Examples:
  dao-deployer deploy --dry-run
  dao-deployer deploy
  dao-deployer deploy --resume 6f1c2b0e-...`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().String("resume", "", "ID of a failed run to continue")
	deployCmd.Flags().Bool("dry-run", false, "print the deployment plan and exit")
	rootCmd.AddCommand(deployCmd)
}

type deployOutput struct {
	RunID      uuid.UUID        `json:"run_id"`
	Token      common.Address   `json:"token"`
	Farm       common.Address   `json:"farm"`
	Governance common.Address   `json:"governance"`
	LPTokens   []common.Address `json:"lp_tokens"`
	Pending    int              `json:"pending_registrations"`
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	resume, _ := cmd.Flags().GetString("resume")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}
	lpTokens, deposit, err := deploymentTargets(cfg)
	if err != nil {
		return err
	}

	orchCfg := orchestrator.Config{
		Token: sequencer.TokenParams{
			Name:     cfg.Token.Name,
			Symbol:   cfg.Token.Symbol,
			Decimals: cfg.Token.Decimals,
			Supply:   cfg.Token.SupplyInt(),
		},
		DepositToken:       deposit,
		LPTokens:           lpTokens,
		AwaitRegistrations: cfg.Orchestrator.AwaitRegistrations,
		Logger:             logger,
	}

	if dryRun {
		plan := orchestrator.BuildPlan(cfg.Network.Name, cfg.Network.ChainID, signer.Address(), orchCfg)
		if jsonOut {
			return printJSON(plan)
		}
		return plan.Print(os.Stdout)
	}

	var runID uuid.UUID
	if resume != "" {
		if !cfg.Database.Enabled {
			return fmt.Errorf("--resume needs database.enabled: in-memory runs do not outlive the process")
		}
		if runID, err = uuid.Parse(resume); err != nil {
			return fmt.Errorf("invalid run ID %q: %w", resume, err)
		}
	}

	artifacts, cleanup, err := loadArtifacts(cfg.Artifacts)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := ledger.Dial(ctx, cfg.Network.RPCURL, ledger.ClientConfig{
		Signer:               signer,
		Artifacts:            artifacts,
		GasPrice:             cfg.Network.GasPriceWei(),
		GasPriceBoostPercent: cfg.Network.GasPriceBoostPercent,
		FallbackGasLimit:     cfg.Network.FallbackGasLimit,
		Logger:               logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	repo, closeRepo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeRepo()

	release, err := lockAndSweep(ctx, func(ctx context.Context) (func(), error) {
		return acquireLock(ctx, client.Address())
	}, repo, cfg.Orchestrator.StaleTimeout)
	if err != nil {
		return err
	}
	defer release()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	orchCfg.Metrics = m

	if cfg.Metrics.Listen != "" {
		srvCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		go func() {
			if err := server.Serve(srvCtx, cfg.Metrics.Listen, server.NewRouter(repo, reg), logger); err != nil {
				logger.Error("status server failed", slog.String("error", err.Error()))
			}
		}()
	}

	p := poller.New(client, poller.Config{
		Interval:      cfg.Poller.Interval,
		MaxAttempts:   cfg.Poller.MaxAttempts,
		MaxReadErrors: cfg.Poller.MaxReadErrors,
		Logger:        logger,
		Metrics:       m,
	})
	orch := orchestrator.New(sequencer.New(client, logger), p, repo, orchCfg)

	var result *orchestrator.Result
	if runID != uuid.Nil {
		result, err = orch.Resume(ctx, runID)
	} else {
		result, err = orch.Start(ctx, &repository.Run{
			Network:  cfg.Network.Name,
			ChainID:  cfg.Network.ChainID,
			Deployer: client.Address().Hex(),
			Config:   runConfig(orchCfg),
		})
	}
	if err != nil {
		return err
	}

	return printResult(result, lpTokens)
}

// lockAndSweep takes the deploy lock and only then fails stale runs, so a
// run still polling in a process that holds the lock is never marked failed.
func lockAndSweep(ctx context.Context, acquire func(context.Context) (func(), error), repo repository.Repository, staleTimeout time.Duration) (func(), error) {
	release, err := acquire(ctx)
	if err != nil {
		return nil, err
	}

	n, err := repo.MarkStaleRunsFailed(ctx, staleTimeout)
	if err != nil {
		release()
		return nil, fmt.Errorf("mark stale runs: %w", err)
	}
	if n > 0 {
		logger.Warn("marked stale runs as failed", slog.Int("count", n))
	}
	return release, nil
}

// acquireLock takes the per-deployer lock when Redis is enabled. The
// returned func releases it.
func acquireLock(ctx context.Context, deployer common.Address) (func(), error) {
	if !cfg.Redis.Enabled {
		return func() {}, nil
	}

	rdb, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	owner, err := os.Hostname()
	if err != nil {
		owner = "unknown"
	}

	l, err := lock.Acquire(ctx, rdb, lock.Key(cfg.Network.ChainID, deployer), owner, cfg.Redis.LockTTL)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	logger.Debug("acquired deploy lock", slog.String("key", l.Key()))

	return func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release deploy lock", slog.String("error", err.Error()))
		}
		rdb.Close()
	}, nil
}

// runConfig is the configuration stored with a new run.
func runConfig(c orchestrator.Config) json.RawMessage {
	data, err := json.Marshal(struct {
		TokenName    string           `json:"token_name"`
		TokenSymbol  string           `json:"token_symbol"`
		Decimals     uint8            `json:"decimals"`
		Supply       string           `json:"supply"`
		DepositToken common.Address   `json:"deposit_token"`
		LPTokens     []common.Address `json:"lp_tokens"`
		Await        bool             `json:"await_registrations"`
	}{
		TokenName:    c.Token.Name,
		TokenSymbol:  c.Token.Symbol,
		Decimals:     c.Token.Decimals,
		Supply:       c.Token.Supply.String(),
		DepositToken: c.DepositToken,
		LPTokens:     c.LPTokens,
		Await:        c.AwaitRegistrations,
	})
	if err != nil {
		return nil
	}
	return data
}

func printResult(r *orchestrator.Result, lpTokens []common.Address) error {
	out := deployOutput{RunID: r.RunID, LPTokens: lpTokens}
	if r.Snapshot.Token != nil {
		out.Token = r.Snapshot.Token.Address
	}
	if r.Snapshot.Farm != nil {
		out.Farm = r.Snapshot.Farm.Address
	}
	if r.Snapshot.Governance != nil {
		out.Governance = r.Snapshot.Governance.Address
	}
	if r.Batch != nil {
		out.Pending = r.Batch.Pending()
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run %s completed\n\n", out.RunID)
	fmt.Printf("  %-12s %s\n", "Token:", out.Token.Hex())
	fmt.Printf("  %-12s %s\n", "Farm:", out.Farm.Hex())
	fmt.Printf("  %-12s %s\n", "Governance:", out.Governance.Hex())
	fmt.Printf("  %-12s %d\n", "LP tokens:", len(out.LPTokens))
	if out.Pending > 0 {
		fmt.Printf("\n%d registrations were still unconfirmed at exit and are no longer polled.\n", out.Pending)
		fmt.Printf("'dao-deployer status %s' lists each registration's submission transaction.\n", out.RunID)
	}
	return nil
}
