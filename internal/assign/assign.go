// Package assign balances participants across experimental groups.
package assign

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rcliao/comic-survey/internal/logger"
	"github.com/rcliao/comic-survey/internal/model"
	"github.com/rcliao/comic-survey/internal/store"
	"github.com/rcliao/comic-survey/internal/survey"
)

// DefaultMaxAttempts bounds the load-pick-save cycle under contention.
const DefaultMaxAttempts = 5

// Options configures an Assigner.
type Options struct {
	NS          string
	Groups      []model.Group
	MaxAttempts int
	Timeout     time.Duration // per store call, 0 disables
	Rand        *rand.Rand    // nil seeds from the clock
	Log         *logger.Logger
}

// Assigner picks the least-used group, breaking ties uniformly at random.
type Assigner struct {
	store store.CounterStore
	opts  Options

	mu  sync.Mutex // guards rnd
	rnd *rand.Rand
}

// New returns an Assigner over the given counter store.
func New(cs store.CounterStore, opts Options) (*Assigner, error) {
	if len(opts.Groups) == 0 {
		return nil, fmt.Errorf("no groups configured")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Assigner{store: cs, opts: opts, rnd: rnd}, nil
}

// Assign chooses a group and persists its incremented count before
// returning. It never falls back to a default group: any failure is a
// StoreError.
func (a *Assigner) Assign(ctx context.Context) (model.Group, error) {
	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		g, err := a.tryAssign(ctx)
		if err == nil {
			a.opts.Log.Info("group assigned", "group", g, "attempt", attempt)
			return g, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return "", err
		}
		lastErr = err
		a.opts.Log.Debug("group counter conflict, retrying", "attempt", attempt)
	}
	return "", &survey.StoreError{Op: "assign", Err: fmt.Errorf("gave up after %d attempts: %w", a.opts.MaxAttempts, lastErr)}
}

func (a *Assigner) tryAssign(ctx context.Context) (model.Group, error) {
	loadCtx, cancel := a.withTimeout(ctx)
	counts, version, err := a.store.LoadCounts(loadCtx, a.opts.NS)
	cancel()
	if err != nil {
		return "", &survey.StoreError{Op: "load", Err: err}
	}
	if err := checkCounts(counts); err != nil {
		return "", &survey.StoreError{Op: "load", Err: err}
	}

	g := a.pick(counts)
	next := counts.Clone()
	for _, grp := range a.opts.Groups {
		if _, ok := next[grp]; !ok {
			next[grp] = 0
		}
	}
	next[g]++

	saveCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	if err := a.store.SaveCounts(saveCtx, a.opts.NS, next, version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return "", err
		}
		return "", &survey.StoreError{Op: "save", Err: err}
	}
	return g, nil
}

// pick returns a configured group with the minimum count.
func (a *Assigner) pick(counts store.Counts) model.Group {
	min := -1
	var candidates []model.Group
	for _, g := range a.opts.Groups {
		n := counts[g]
		switch {
		case min < 0 || n < min:
			min = n
			candidates = []model.Group{g}
		case n == min:
			candidates = append(candidates, g)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return candidates[a.rnd.Intn(len(candidates))]
}

func (a *Assigner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.opts.Timeout)
}

func checkCounts(c store.Counts) error {
	for g, n := range c {
		if n < 0 {
			return fmt.Errorf("corrupt counter: group %s has negative count %d", g, n)
		}
	}
	return nil
}
