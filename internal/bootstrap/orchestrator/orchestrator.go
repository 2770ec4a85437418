// Package orchestrator drives a DAO deployment run through its stages,
// persisting a snapshot after every transition so a failed run can be
// resumed where it stopped.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/contracts"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/poller"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/repository"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/sequencer"
	"github.com/hashstrat/dao-deployer/internal/metrics"
)

// methodConstructor is recorded as the method of contract creations.
const methodConstructor = "constructor"

// ErrNotResumable is returned by Resume for runs that completed or never
// started.
var ErrNotResumable = errors.New("orchestrator: run cannot be resumed")

// Config contains configuration for the orchestrator.
type Config struct {
	// Token holds the DAO token constructor arguments.
	Token sequencer.TokenParams

	// DepositToken is the governance constructor argument.
	DepositToken common.Address

	// LPTokens are registered in the farm, in order.
	LPTokens []common.Address

	// AwaitRegistrations makes a run wait for every registration to
	// confirm before reaching done. When false the run completes with
	// confirmation loops still in flight.
	AwaitRegistrations bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Orchestrator coordinates deployment runs.
type Orchestrator struct {
	seq    *sequencer.Sequencer
	poller *poller.Poller
	repo   repository.Repository
	config Config
	logger *slog.Logger
}

// New creates a new deployment orchestrator.
func New(seq *sequencer.Sequencer, p *poller.Poller, repo repository.Repository, config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		seq:    seq,
		poller: p,
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// Result is the outcome of a completed run.
type Result struct {
	RunID    uuid.UUID
	Snapshot Snapshot
	// Batch is the registration batch issued by this invocation, nil when
	// nothing was submitted. Loops may still be running when the run did
	// not await registrations.
	Batch *poller.Batch
}

// runContext holds the state of one invocation.
type runContext struct {
	writer  *StateWriter
	snap    *Snapshot
	batch   *poller.Batch
	resumed bool
}

// Start creates run in the repository and executes every stage.
func (o *Orchestrator) Start(ctx context.Context, run *repository.Run) (*Result, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = repository.StatusPending
	if err := o.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	o.logger.Info("starting deployment run",
		slog.String("run_id", run.ID.String()),
		slog.String("network", run.Network),
	)

	rc := &runContext{
		writer: o.newWriter(run.ID),
		snap:   &Snapshot{RunID: run.ID, Stage: StageInit},
	}
	return o.execute(ctx, rc)
}

// Resume continues a failed or interrupted run from its last completed stage.
// Contracts already deployed are reused and only LP tokens missing from the
// farm are registered again.
func (o *Orchestrator) Resume(ctx context.Context, runID uuid.UUID) (*Result, error) {
	writer := o.newWriter(runID)

	ok, err := writer.CanResume(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotResumable, runID)
	}

	stage, snap, err := writer.GetResumePoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("load resume point: %w", err)
	}
	if snap == nil {
		snap = &Snapshot{RunID: runID, Stage: StageInit}
	}
	if StageIndex(stage) < 0 {
		return nil, fmt.Errorf("invalid stage %q for run %s", stage, runID)
	}
	// The run's stage and the snapshot are written together; trust the
	// snapshot when they disagree since it carries the addresses.
	if stage != snap.Stage {
		o.logger.Warn("run stage differs from snapshot",
			slog.String("run_stage", stage.String()),
			slog.String("snapshot_stage", snap.Stage.String()),
		)
	}

	if err := writer.ClearError(ctx); err != nil {
		return nil, err
	}

	o.logger.Info("resuming deployment run",
		slog.String("run_id", runID.String()),
		slog.String("stage", snap.Stage.String()),
	)

	return o.execute(ctx, &runContext{writer: writer, snap: snap, resumed: true})
}

// newWriter returns a StateWriter that reports run updates to metrics.
func (o *Orchestrator) newWriter(runID uuid.UUID) *StateWriter {
	w := NewStateWriter(o.repo, runID)
	w.SetUpdateCallback(o.runUpdated)
	return w
}

func (o *Orchestrator) runUpdated(runID uuid.UUID, stage string) {
	switch stage {
	case StageDone.String():
		o.config.Metrics.RunFinished(string(repository.StatusCompleted))
	case "failed":
		o.config.Metrics.RunFinished(string(repository.StatusFailed))
	default:
		o.logger.Debug("run stage persisted",
			slog.String("run_id", runID.String()),
			slog.String("stage", stage),
		)
	}
}

func (o *Orchestrator) execute(ctx context.Context, rc *runContext) (*Result, error) {
	if err := o.executeStages(ctx, rc); err != nil {
		// The run is marked failed even when ctx was cancelled.
		if markErr := rc.writer.MarkFailed(context.WithoutCancel(ctx), err.Error()); markErr != nil {
			o.logger.Error("failed to mark run as failed", slog.String("error", markErr.Error()))
		}
		o.logger.Error("deployment run failed",
			slog.String("run_id", rc.snap.RunID.String()),
			slog.String("stage", rc.snap.Stage.String()),
			slog.String("error", err.Error()),
		)
		return &Result{RunID: rc.snap.RunID, Snapshot: *rc.snap, Batch: rc.batch}, err
	}

	if err := rc.writer.MarkComplete(ctx); err != nil {
		return nil, err
	}

	txs, err := rc.writer.GetTransactions(ctx)
	if err != nil {
		return nil, err
	}
	o.logger.Info("deployment run completed",
		slog.String("run_id", rc.snap.RunID.String()),
		slog.Int("transactions", len(txs)),
		slog.String("token", rc.snap.Token.Address.Hex()),
		slog.String("farm", rc.snap.Farm.Address.Hex()),
		slog.String("governance", rc.snap.Governance.Address.Hex()),
	)
	return &Result{RunID: rc.snap.RunID, Snapshot: *rc.snap, Batch: rc.batch}, nil
}

// executeStages runs every transition after the snapshot's stage.
func (o *Orchestrator) executeStages(ctx context.Context, rc *runContext) error {
	startIdx := StageIndex(rc.snap.Stage)
	if startIdx < 0 {
		return fmt.Errorf("invalid start stage: %s", rc.snap.Stage)
	}

	for i := startIdx + 1; i < len(StageOrder); i++ {
		next := StageOrder[i]

		o.logger.Debug("executing transition",
			slog.String("from", rc.snap.Stage.String()),
			slog.String("to", next.String()),
		)

		if err := o.transition(ctx, rc, next); err != nil {
			return err
		}

		rc.snap.Stage = next
		if err := rc.writer.WriteState(ctx, rc.snap); err != nil {
			return err
		}
		if next != StageDone {
			if err := rc.writer.UpdateStage(ctx, next); err != nil {
				return err
			}
		}
		o.config.Metrics.SetStage(next.String(), i)

		o.logger.Info("stage reached", slog.String("stage", next.String()))
	}
	return nil
}

// transition performs the work that produces stage.
func (o *Orchestrator) transition(ctx context.Context, rc *runContext, stage Stage) error {
	switch stage {
	case StageTokenDeployed:
		return o.deployToken(ctx, rc)
	case StageFarmDeployed:
		return o.deployFarm(ctx, rc)
	case StageSupplyTransferred:
		return o.transferSupply(ctx, rc)
	case StageRewardsInitialized:
		return o.initializeRewards(ctx, rc)
	case StageRegistrationsSubmitted:
		return o.submitRegistrations(ctx, rc)
	case StageGovernanceDeployed:
		return o.deployGovernance(ctx, rc)
	case StageDone:
		return o.finish(ctx, rc)
	default:
		return fmt.Errorf("unknown stage: %s", stage)
	}
}

func (o *Orchestrator) deployToken(ctx context.Context, rc *runContext) error {
	d, err := o.seq.DeployToken(ctx, o.config.Token)
	if err != nil {
		return err
	}
	rc.snap.Token = d
	return o.recordDeploy(ctx, rc, StageTokenDeployed, d)
}

func (o *Orchestrator) deployFarm(ctx context.Context, rc *runContext) error {
	if rc.snap.Token == nil {
		return errors.New("deploy farm: token address unknown")
	}
	d, err := o.seq.DeployFarm(ctx, rc.snap.Token.Address)
	if err != nil {
		return err
	}
	rc.snap.Farm = d
	return o.recordDeploy(ctx, rc, StageFarmDeployed, d)
}

func (o *Orchestrator) transferSupply(ctx context.Context, rc *runContext) error {
	if rc.snap.Token == nil || rc.snap.Farm == nil {
		return errors.New("transfer supply: token or farm address unknown")
	}
	// A resumed run may have been interrupted after the transfer was mined.
	if rc.resumed {
		done, err := o.seq.SupplyTransferred(ctx, rc.snap.Token.Address, rc.snap.Farm.Address)
		if err != nil {
			return fmt.Errorf("transfer supply: %w", err)
		}
		if done {
			o.logger.Info("supply already held by farm, skipping transfer",
				slog.String("farm", rc.snap.Farm.Address.Hex()),
			)
			return nil
		}
	}
	step, err := o.seq.TransferSupply(ctx, rc.snap.Token.Address, rc.snap.Farm.Address)
	if err != nil {
		return err
	}
	return o.recordStep(ctx, rc, StageSupplyTransferred, contracts.Token, step)
}

func (o *Orchestrator) initializeRewards(ctx context.Context, rc *runContext) error {
	if rc.snap.Farm == nil {
		return errors.New("initialize rewards: farm address unknown")
	}
	// addRewardPeriods appends, so it must never be sent twice.
	if rc.resumed {
		periods, err := o.seq.RewardPeriods(ctx, rc.snap.Farm.Address)
		if err != nil {
			return fmt.Errorf("initialize rewards: %w", err)
		}
		if periods > 0 {
			o.logger.Info("reward periods already added, skipping",
				slog.String("farm", rc.snap.Farm.Address.Hex()),
				slog.Int64("periods", periods),
			)
			rc.snap.RewardPeriods = periods
			return nil
		}
	}
	step, periods, err := o.seq.InitializeRewards(ctx, rc.snap.Farm.Address)
	if err != nil {
		return err
	}
	rc.snap.RewardPeriods = periods
	return o.recordStep(ctx, rc, StageRewardsInitialized, contracts.Farm, step)
}

func (o *Orchestrator) submitRegistrations(ctx context.Context, rc *runContext) error {
	if rc.snap.Farm == nil {
		return errors.New("register LP tokens: farm address unknown")
	}
	addrs := o.config.LPTokens
	if rc.resumed {
		var err error
		addrs, err = o.poller.Unregistered(ctx, rc.snap.Farm.Address, addrs)
		if err != nil {
			return fmt.Errorf("register LP tokens: %w", err)
		}
	}
	return o.register(ctx, rc, StageRegistrationsSubmitted, addrs)
}

// register submits addrs and records every accepted submission. Submission
// errors are fatal.
func (o *Orchestrator) register(ctx context.Context, rc *runContext, stage Stage, addrs []common.Address) error {
	if len(addrs) == 0 {
		o.logger.Info("no LP tokens to register")
		return nil
	}

	batch, submitErr := o.poller.RegisterAddresses(ctx, rc.snap.Farm.Address, addrs)
	rc.batch = batch
	if batch != nil {
		regs := batch.Registrations()
		rc.snap.Registrations = registrationsFrom(regs)
		for _, r := range regs {
			if r.State < poller.Submitted || r.TxHash == (common.Hash{}) {
				continue
			}
			if err := rc.writer.RecordTransaction(ctx, stage, contracts.Farm, contracts.MethodAddLPToken, r.TxHash, 0); err != nil {
				return err
			}
		}
	}
	if submitErr != nil {
		return fmt.Errorf("register LP tokens: %w", submitErr)
	}

	o.logger.Info("LP token registrations submitted", slog.Int("count", len(addrs)))
	return nil
}

func (o *Orchestrator) deployGovernance(ctx context.Context, rc *runContext) error {
	d, err := o.seq.DeployGovernance(ctx, o.config.DepositToken)
	if err != nil {
		return err
	}
	rc.snap.Governance = d
	return o.recordDeploy(ctx, rc, StageGovernanceDeployed, d)
}

// finish optionally waits for registrations and saves the address summary.
func (o *Orchestrator) finish(ctx context.Context, rc *runContext) error {
	// A resumed run has no live loops for registrations issued before the
	// interruption, so anything still missing is submitted again.
	if rc.batch == nil && rc.resumed && len(o.config.LPTokens) > 0 {
		missing, err := o.poller.Unregistered(ctx, rc.snap.Farm.Address, o.config.LPTokens)
		if err != nil {
			return fmt.Errorf("register LP tokens: %w", err)
		}
		if err := o.register(ctx, rc, StageDone, missing); err != nil {
			return err
		}
	}

	if o.config.AwaitRegistrations && rc.batch != nil {
		o.logger.Info("waiting for LP token registrations", slog.Int("pending", rc.batch.Pending()))
		regs, err := rc.batch.Wait(ctx)
		rc.snap.Registrations = registrationsFrom(regs)
		if err != nil {
			return fmt.Errorf("confirm registrations: %w", err)
		}
	} else if rc.batch != nil {
		o.logger.Info("completing without waiting for registrations", slog.Int("pending", rc.batch.Pending()))
	}

	addrs := Addresses{
		Token:      rc.snap.Token.Address,
		Farm:       rc.snap.Farm.Address,
		Governance: rc.snap.Governance.Address,
		LPTokens:   o.config.LPTokens,
	}
	data, err := json.Marshal(addrs)
	if err != nil {
		return fmt.Errorf("marshal addresses: %w", err)
	}
	return rc.writer.SaveArtifact(ctx, artifactAddresses, data)
}

func (o *Orchestrator) recordDeploy(ctx context.Context, rc *runContext, stage Stage, d *sequencer.DeployedContract) error {
	o.config.Metrics.TransactionConfirmed(d.Name, "")
	return rc.writer.RecordTransaction(ctx, stage, d.Name, methodConstructor, d.TxHash, d.BlockNumber)
}

func (o *Orchestrator) recordStep(ctx context.Context, rc *runContext, stage Stage, contract string, step *sequencer.Step) error {
	o.config.Metrics.TransactionConfirmed(contract, step.Method)
	return rc.writer.RecordTransaction(ctx, stage, contract, step.Method, step.TxHash, step.BlockNumber)
}
