// Package poller registers LP tokens in the farm and confirms each
// registration by polling the farm's registered set.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/contracts"
	"github.com/hashstrat/dao-deployer/internal/ledger"
	"github.com/hashstrat/dao-deployer/internal/metrics"
)

// Defaults
const (
	DefaultInterval      = 5 * time.Second
	DefaultMaxAttempts   = 120
	DefaultMaxReadErrors = 3
)

var (
	// ErrNotConfirmed is returned when an address is still absent from the
	// registered set after MaxAttempts polls.
	ErrNotConfirmed = errors.New("poller: registration not confirmed")

	// ErrReadFailed is returned after MaxReadErrors consecutive failed reads.
	ErrReadFailed = errors.New("poller: registered set unreadable")
)

// State is the lifecycle of a single registration. It never moves backward.
type State int

const (
	Unsubmitted State = iota
	Submitted
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Unsubmitted:
		return "unsubmitted"
	case Submitted:
		return "submitted"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PendingRegistration tracks one addLPToken call.
type PendingRegistration struct {
	Farm     common.Address
	LPToken  common.Address
	State    State
	TxHash   common.Hash
	Attempts int
	Err      error
}

// advance moves to next unless that would go backward or leave a
// terminal state.
func (r *PendingRegistration) advance(next State) bool {
	if r.State == Confirmed || r.State == Failed || next <= r.State {
		return false
	}
	r.State = next
	return true
}

// RegistrationError reports a registration that did not confirm.
type RegistrationError struct {
	LPToken common.Address
	Err     error
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s: %v", e.LPToken.Hex(), e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// Config configures a Poller.
type Config struct {
	// Interval between reads of the registered set.
	Interval time.Duration
	// MaxAttempts bounds the reads per address. Zero polls until the
	// context ends.
	MaxAttempts int
	// MaxReadErrors bounds consecutive failed reads per address.
	MaxReadErrors int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Poller submits registrations and runs one confirmation loop per address.
type Poller struct {
	ledger ledger.Ledger
	cfg    Config
	logger *slog.Logger
}

// New creates a Poller. Interval and MaxReadErrors default when zero;
// MaxAttempts is used as given, so callers wanting the default bound must
// start from DefaultConfig.
func New(l ledger.Ledger, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxReadErrors <= 0 {
		cfg.MaxReadErrors = DefaultMaxReadErrors
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{ledger: l, cfg: cfg, logger: cfg.Logger}
}

// DefaultConfig returns the bounded defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      DefaultInterval,
		MaxAttempts:   DefaultMaxAttempts,
		MaxReadErrors: DefaultMaxReadErrors,
	}
}

// Batch is the set of registrations issued by one RegisterAddresses call.
type Batch struct {
	Farm common.Address

	mu      sync.Mutex
	regs    []*PendingRegistration
	done    []chan struct{}
	pending atomic.Int64
}

// Pending reports how many confirmation loops are still running.
func (b *Batch) Pending() int {
	return int(b.pending.Load())
}

// Registrations returns a snapshot of every registration.
func (b *Batch) Registrations() []PendingRegistration {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PendingRegistration, len(b.regs))
	for i, r := range b.regs {
		out[i] = *r
	}
	return out
}

// Wait blocks until every loop has finished or ctx ends. It returns the
// registrations and a joined *RegistrationError for each failure.
func (b *Batch) Wait(ctx context.Context) ([]PendingRegistration, error) {
	for _, done := range b.done {
		select {
		case <-done:
		case <-ctx.Done():
			return b.Registrations(), ctx.Err()
		}
	}

	regs := b.Registrations()
	var errs []error
	for _, r := range regs {
		if r.State == Failed {
			errs = append(errs, &RegistrationError{LPToken: r.LPToken, Err: r.Err})
		}
	}
	return regs, errors.Join(errs...)
}

func (b *Batch) update(i int, fn func(r *PendingRegistration)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.regs[i])
}

// RegisterAddresses submits addLPToken for every address concurrently and
// starts a confirmation loop for each accepted submission. It returns once
// all submissions have been issued; the loops keep running under ctx.
//
// Submission errors are joined and returned together with the batch, whose
// loops still cover the addresses that were submitted.
func (p *Poller) RegisterAddresses(ctx context.Context, farm common.Address, addrs []common.Address) (*Batch, error) {
	b := &Batch{
		Farm: farm,
		regs: make([]*PendingRegistration, len(addrs)),
		done: make([]chan struct{}, len(addrs)),
	}
	for i, addr := range addrs {
		b.regs[i] = &PendingRegistration{Farm: farm, LPToken: addr}
		b.done[i] = make(chan struct{})
	}

	submitErrs := make([]error, len(addrs))
	var g errgroup.Group
	for i, addr := range addrs {
		g.Go(func() error {
			tx, err := p.ledger.SendTransaction(ctx, farm, contracts.Farm, contracts.MethodAddLPToken, addr)
			if err != nil {
				b.update(i, func(r *PendingRegistration) {
					r.advance(Failed)
					r.Err = err
				})
				close(b.done[i])
				submitErrs[i] = &RegistrationError{LPToken: addr, Err: err}
				return submitErrs[i]
			}

			b.update(i, func(r *PendingRegistration) {
				r.TxHash = tx.Hash()
				r.advance(Submitted)
			})
			p.logger.Info("addLPToken submitted",
				slog.String("lp_token", addr.Hex()),
				slog.String("tx", tx.Hash().Hex()),
			)

			b.pending.Add(1)
			p.cfg.Metrics.RegistrationStarted()
			go p.confirm(ctx, b, i)
			return nil
		})
	}
	_ = g.Wait()

	p.logRegistered(ctx, farm)

	return b, errors.Join(submitErrs...)
}

// Unregistered returns the addresses not yet in the farm's registered set.
func (p *Poller) Unregistered(ctx context.Context, farm common.Address, addrs []common.Address) ([]common.Address, error) {
	registered, err := p.registered(ctx, farm)
	if err != nil {
		return nil, err
	}
	var out []common.Address
	for _, addr := range addrs {
		if !contracts.ContainsAddress(registered, addr) {
			out = append(out, addr)
		}
	}
	return out, nil
}

// confirm polls until the address at i is in the registered set, the
// attempt or read-error bound is hit, or ctx ends.
func (p *Poller) confirm(ctx context.Context, b *Batch, i int) {
	defer close(b.done[i])
	defer b.pending.Add(-1)

	b.mu.Lock()
	addr := b.regs[i].LPToken
	b.mu.Unlock()

	logger := p.logger.With(slog.String("lp_token", addr.Hex()))

	finish := func(state State, err error) {
		b.update(i, func(r *PendingRegistration) {
			if r.advance(state) {
				r.Err = err
			}
		})
		p.cfg.Metrics.RegistrationFinished(state.String())
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	readErrors := 0
	for attempt := 1; p.cfg.MaxAttempts == 0 || attempt <= p.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			finish(Failed, ctx.Err())
			return
		case <-ticker.C:
		}

		b.update(i, func(r *PendingRegistration) { r.Attempts = attempt })
		p.cfg.Metrics.PollAttempt()

		block, err := p.ledger.BlockNumber(ctx)
		if err == nil {
			logger.Debug("polling registered set", slog.Uint64("block", block), slog.Int("attempt", attempt))
		}

		registered, err := p.registered(ctx, b.Farm)
		if err != nil {
			if ctx.Err() != nil {
				finish(Failed, ctx.Err())
				return
			}
			readErrors++
			p.cfg.Metrics.ReadError()
			logger.Warn("failed to read registered set", slog.Int("consecutive", readErrors), slog.String("error", err.Error()))
			if readErrors >= p.cfg.MaxReadErrors {
				finish(Failed, fmt.Errorf("%w: %v", ErrReadFailed, err))
				return
			}
			continue
		}
		readErrors = 0

		if contracts.ContainsAddress(registered, addr) {
			finish(Confirmed, nil)
			logger.Info("LP token registered", slog.Int("attempts", attempt), slog.Uint64("block", block))
			return
		}
	}

	finish(Failed, fmt.Errorf("%w after %d attempts", ErrNotConfirmed, p.cfg.MaxAttempts))
	logger.Warn("LP token registration not confirmed", slog.Int("attempts", p.cfg.MaxAttempts))
}

func (p *Poller) registered(ctx context.Context, farm common.Address) ([]common.Address, error) {
	values, err := p.ledger.ReadState(ctx, farm, contracts.Farm, contracts.MethodGetLPTokens)
	if err != nil {
		return nil, err
	}
	return contracts.AddressesResult(values)
}

// logRegistered reads the set once after submission. The result is
// informational; confirmations come from the per-address loops.
func (p *Poller) logRegistered(ctx context.Context, farm common.Address) {
	registered, err := p.registered(ctx, farm)
	if err != nil {
		p.logger.Warn("failed to read registered LP tokens", slog.String("error", err.Error()))
		return
	}
	hex := make([]string, len(registered))
	for i, a := range registered {
		hex[i] = a.Hex()
	}
	p.logger.Info("registered LP tokens", slog.Int("count", len(registered)), slog.Any("lp_tokens", hex))
}
