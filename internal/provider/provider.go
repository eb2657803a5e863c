// Package provider drives the fetch → reconcile → store pipeline, once or on
// an interval.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/aspect-build/contract-provider/internal/contract"
	"github.com/aspect-build/contract-provider/internal/identity"
	"github.com/aspect-build/contract-provider/internal/logx"
	"github.com/aspect-build/contract-provider/internal/metrics"
	"github.com/aspect-build/contract-provider/internal/reconcile"
	"github.com/aspect-build/contract-provider/internal/repository"
	"github.com/aspect-build/contract-provider/internal/storage"
)

// CAContractID is the id under which the trust zone CA is published.
const CAContractID = "trust-zone-ca"

const DefaultCycleTimeout = 2 * time.Minute

// Identities hands out the current provider identity.
type Identities interface {
	Current(ctx context.Context) (*identity.Identity, error)
}

// Fetcher retrieves the contracts of a trust zone.
type Fetcher interface {
	FetchContracts(ctx context.Context, trustZone string) (*contract.Set, error)
}

// Options tunes the scheduler.
type Options struct {
	// Interval between cycles in Run.
	Interval time.Duration
	// Jitter adds up to Jitter*Interval to each wait; zero disables it.
	Jitter float64
	// CycleTimeout bounds a single cycle.
	CycleTimeout time.Duration
	// IncludeCA publishes the trust zone CA under CAContractID.
	IncludeCA bool
	// Backoff paces retries after a storage conflict.
	Backoff wait.Backoff

	Metrics *metrics.Metrics
}

// Provider runs sync cycles. Cycles never overlap.
type Provider struct {
	identities Identities
	fetcher    Fetcher
	store      storage.Storage
	opts       Options

	state atomic.Int32
	ready atomic.Bool
}

func New(identities Identities, fetcher Fetcher, store storage.Storage, opts Options) *Provider {
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	if opts.Backoff.Steps == 0 {
		opts.Backoff = retry.DefaultRetry
	}
	return &Provider{identities: identities, fetcher: fetcher, store: store, opts: opts}
}

// State returns the current phase.
func (p *Provider) State() State { return State(p.state.Load()) }

// Ready reports whether a cycle has completed successfully since start.
func (p *Provider) Ready() bool { return p.ready.Load() }

// StateName implements status.Source together with Ready.
func (p *Provider) StateName() string { return p.State().String() }

func (p *Provider) setState(s State) { p.state.Store(int32(s)) }

// RunOnce runs a single cycle and reports its error.
func (p *Provider) RunOnce(ctx context.Context) error {
	defer p.setState(Done)
	_, err := p.cycle(ctx)
	return err
}

// Run cycles until ctx is cancelled. Failed cycles are logged and retried
// after the regular interval. A cycle in flight when ctx is cancelled is
// finished before Run returns nil.
func (p *Provider) Run(ctx context.Context) error {
	if p.opts.Interval <= 0 {
		return errors.New("provider: interval must be positive")
	}
	for {
		if _, err := p.cycle(ctx); err != nil {
			logx.Errorf("cycle failed: %v", err)
		}

		delay := p.nextWait()
		logx.Debugf("waiting %s until the next cycle", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logx.Infof("shutting down")
			return nil
		case <-timer.C:
		}
	}
}

func (p *Provider) nextWait() time.Duration {
	if p.opts.Jitter <= 0 {
		return p.opts.Interval
	}
	return wait.Jitter(p.opts.Interval, p.opts.Jitter)
}

// cycle runs detached from the caller's cancellation so a write is never cut
// short by a signal; CycleTimeout still bounds it.
func (p *Provider) cycle(parent context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.opts.CycleTimeout)
	defer cancel()

	log := logx.Logger().WithValues("cycle", uuid.NewString())
	start := time.Now()
	result, err := p.sync(ctx, log)
	p.setState(Idle)

	if err != nil {
		result = metrics.ResultFailed
		log.Error(err, "sync failed", "duration", time.Since(start).String())
	} else {
		p.ready.Store(true)
		if result == metrics.ResultUnchanged {
			log.V(1).Info("sync finished", "result", result, "duration", time.Since(start).String())
		} else {
			log.Info("sync finished", "result", result, "duration", time.Since(start).String())
		}
	}
	p.opts.Metrics.RecordCycle(result, time.Since(start), time.Now())
	return result, err
}

func (p *Provider) sync(ctx context.Context, log logr.Logger) (string, error) {
	p.setState(Fetching)
	id, err := p.identities.Current(ctx)
	if err != nil {
		return "", p.fail("identity", err)
	}
	fetched, err := p.fetcher.FetchContracts(ctx, id.TrustZone)
	if err != nil {
		return "", p.fail("fetch", err)
	}
	if p.opts.IncludeCA {
		fetched, err = fetched.With(contract.Contract{ID: CAContractID, TrustZone: id.TrustZone, Certificate: id.CAPEM})
		if err != nil {
			return "", p.fail("fetch", fmt.Errorf("add trust zone CA: %w", err))
		}
	}
	log.V(1).Info("fetched contracts", "count", fetched.Len(), "revision", fetched.Revision, "digest", fetched.Digest())

	result := metrics.ResultUnchanged
	attempt := 0
	err = retry.OnError(p.opts.Backoff, storage.IsConflict, func() error {
		attempt++
		p.setState(Reconciling)
		current, err := p.store.Read(ctx)
		if err != nil {
			return err
		}
		action := reconcile.Reconcile(current, fetched)
		if action.Kind == reconcile.Skip {
			log.V(1).Info("contracts unchanged", "count", fetched.Len())
			result = metrics.ResultUnchanged
			return nil
		}

		changes := reconcile.Diff(current, fetched)
		log.Info("replacing contracts",
			"storage", p.store.Describe(),
			"added", changes.Added, "removed", changes.Removed, "changed", changes.Changed,
			"unreadable", current.Unreadable, "attempt", attempt)

		p.setState(Storing)
		err = p.store.Write(ctx, action.Set)
		p.opts.Metrics.RecordWrite(err)
		if storage.IsConflict(err) {
			p.opts.Metrics.RecordConflict()
			log.Info("storage conflict, re-reading", "attempt", attempt)
		}
		if err != nil {
			return err
		}
		result = metrics.ResultUpdated
		return nil
	})
	if err != nil {
		return "", p.fail("store", err)
	}
	p.opts.Metrics.SetStoredContracts(fetched.Len())
	return result, nil
}

func (p *Provider) fail(stage string, err error) error {
	p.opts.Metrics.RecordFailure(stage, errorKind(err))
	return fmt.Errorf("%s: %w", stage, err)
}

func errorKind(err error) string {
	if k, ok := identity.KindOf(err); ok {
		return k.String()
	}
	if k, ok := repository.KindOf(err); ok {
		return k.String()
	}
	if k, ok := storage.KindOf(err); ok {
		return k.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "other"
}
