package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"cartograph/internal/annotation"
	"cartograph/internal/domain"
	"cartograph/internal/repository"
	"cartograph/internal/resolve"
)

// DefaultMaxTries bounds the attempts of one merge transaction
const DefaultMaxTries = 5

// Change describes one entity touched by a committed transaction
type Change struct {
	Handle  domain.Handle `json:"handle"`
	Created bool          `json:"created"`
	TxID    string        `json:"tx_id"`
}

// Engine reconciles observations into the graph. Every top-level call runs
// in one repository transaction that either commits fully or not at all.
//
// Concurrent calls that set the same scalar on one entity (a service version,
// a user's RID) are not ordered: the stored value is one of the submitted
// values, whichever transaction committed last. Relations, notes and
// credential confidence do not depend on that order.
type Engine struct {
	graph    repository.Graph
	index    *Index
	notes    *annotation.Store
	locks    *keyLocks
	metrics  *metrics
	logger   *zap.Logger
	maxTries uint
	notify   func([]Change)
	backoff  func() backoff.BackOff
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegisterer registers the engine's metrics on reg instead of the
// default registerer
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.metrics = newMetrics(reg)
	}
}

// WithMaxTries bounds the attempts per transaction when the repository
// reports a uniqueness conflict
func WithMaxTries(n uint) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTries = n
		}
	}
}

// WithNotifier sets a callback that receives the changes of every committed
// transaction
func WithNotifier(fn func([]Change)) Option {
	return func(e *Engine) {
		e.notify = fn
	}
}

// WithAnnotationStore sets the note store
func WithAnnotationStore(store *annotation.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.notes = store
		}
	}
}

// New creates an Engine on graph
func New(graph repository.Graph, opts ...Option) *Engine {
	e := &Engine{
		graph:    graph,
		index:    NewIndex(),
		locks:    newKeyLocks(),
		logger:   zap.NewNop(),
		maxTries: DefaultMaxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 5 * time.Millisecond
			b.MaxInterval = 250 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(prometheus.DefaultRegisterer)
	}
	e.logger = e.logger.Named("reconcile")
	if e.notes == nil {
		e.notes = annotation.New(e.logger)
	}
	return e
}

// Index returns the identity index used by the engine
func (e *Engine) Index() *Index {
	return e.index
}

// Reconcile dispatches obs to the Reconcile method of its kind. Notes need
// an owner and are rejected here; use ReconcileNote.
func (e *Engine) Reconcile(ctx context.Context, obs domain.Observation) (domain.Handle, error) {
	switch o := obs.(type) {
	case *domain.MachineObservation:
		return e.ReconcileMachine(ctx, o)
	case *domain.DomainObservation:
		return e.ReconcileDomain(ctx, o)
	case *domain.ServiceObservation:
		return e.ReconcileService(ctx, o)
	case *domain.UserObservation:
		return e.ReconcileUser(ctx, o)
	case *domain.GroupObservation:
		return e.ReconcileGroup(ctx, o)
	case *domain.CredentialObservation:
		return e.ReconcileCredential(ctx, o)
	case *domain.NoteObservation:
		return domain.Handle{}, fmt.Errorf("%w: note observation has no owner", domain.ErrInvalidObservation)
	case nil:
		return domain.Handle{}, fmt.Errorf("%w: nil observation", domain.ErrInvalidObservation)
	}
	return domain.Handle{}, fmt.Errorf("%w: unsupported observation %T", domain.ErrInvalidObservation, obs)
}

// ReconcileMachine merges a machine and everything nested under it
func (e *Engine) ReconcileMachine(ctx context.Context, obs *domain.MachineObservation) (domain.Handle, error) {
	if obs == nil {
		return domain.Handle{}, nilObservation(domain.KindMachine)
	}
	return e.run(ctx, domain.KindMachine, []string{machineKey(obs.IP)}, func(t *txn) (domain.Handle, error) {
		return t.machine(obs)
	})
}

// ReconcileDomain merges a domain, its notes and the machines it points at
func (e *Engine) ReconcileDomain(ctx context.Context, obs *domain.DomainObservation) (domain.Handle, error) {
	if obs == nil {
		return domain.Handle{}, nilObservation(domain.KindDomain)
	}
	return e.run(ctx, domain.KindDomain, []string{domainKey(obs.Name)}, func(t *txn) (domain.Handle, error) {
		return t.domain(obs)
	})
}

// ReconcileService merges a service. The observation must name its machine.
func (e *Engine) ReconcileService(ctx context.Context, obs *domain.ServiceObservation) (domain.Handle, error) {
	if obs == nil {
		return domain.Handle{}, nilObservation(domain.KindService)
	}
	if obs.Machine == nil {
		return domain.Handle{}, fmt.Errorf("%w: service %d has no machine", domain.ErrInvalidObservation, obs.Port)
	}
	return e.run(ctx, domain.KindService, []string{machineKey(obs.Machine.IP)}, func(t *txn) (domain.Handle, error) {
		return t.service(obs)
	})
}

// ReconcileUser merges a user, matching on name, aliases and credential
// usernames
func (e *Engine) ReconcileUser(ctx context.Context, obs *domain.UserObservation) (domain.Handle, error) {
	if obs == nil {
		return domain.Handle{}, nilObservation(domain.KindUser)
	}
	keys := []string{userKey(obs.Name)}
	for _, name := range obs.CredentialUsernames() {
		keys = append(keys, userKey(name))
	}
	return e.run(ctx, domain.KindUser, keys, func(t *txn) (domain.Handle, error) {
		return t.user(obs, 0)
	})
}

// ReconcileGroup merges a group and its members
func (e *Engine) ReconcileGroup(ctx context.Context, obs *domain.GroupObservation) (domain.Handle, error) {
	if obs == nil {
		return domain.Handle{}, nilObservation(domain.KindGroup)
	}
	return e.run(ctx, domain.KindGroup, []string{groupKey(obs.Name)}, func(t *txn) (domain.Handle, error) {
		return t.group(obs, 0)
	})
}

// ReconcileCredential merges a credential that belongs to no known user or
// service
func (e *Engine) ReconcileCredential(ctx context.Context, obs *domain.CredentialObservation) (domain.Handle, error) {
	if obs == nil {
		return domain.Handle{}, nilObservation(domain.KindCredential)
	}
	return e.run(ctx, domain.KindCredential, []string{credentialKey(obs.Username)}, func(t *txn) (domain.Handle, error) {
		return t.credential(obs, 0, 0)
	})
}

// ReconcileNote attaches a note to owner. It returns the handle of the note
// stored under that title and whether this call created it.
func (e *Engine) ReconcileNote(ctx context.Context, owner domain.Handle, obs *domain.NoteObservation) (domain.Handle, bool, error) {
	if obs == nil {
		return domain.Handle{}, false, nilObservation(domain.KindNote)
	}
	var attached bool
	h, err := e.run(ctx, domain.KindNote, []string{noteKey(owner, obs.Title)}, func(t *txn) (domain.Handle, error) {
		ok, err := t.ownerExists(owner)
		if err != nil {
			return domain.Handle{}, err
		}
		if !ok {
			return domain.Handle{}, fmt.Errorf("note owner %s: %w", owner, domain.ErrNotFound)
		}
		attached, err = t.note(owner, obs)
		if err != nil {
			return domain.Handle{}, err
		}
		n, err := t.tx.NoteByTitle(t.ctx, owner, obs.Title)
		if err != nil {
			return domain.Handle{}, err
		}
		if n == nil {
			return domain.Handle{}, fmt.Errorf("note %q missing after attach: %w", obs.Title, domain.ErrRepositoryUnavailable)
		}
		return domain.NewHandle(domain.KindNote, n.ID), nil
	})
	return h, attached, err
}

// ReconcileResolution records a resolved target. Each address becomes a
// machine linked to every alias; a target without addresses is recorded as
// domains only. The handles of the top-level entities are returned.
func (e *Engine) ReconcileResolution(ctx context.Context, res resolve.Resolution) ([]domain.Handle, error) {
	var keys []string
	for _, ip := range res.IPs {
		keys = append(keys, machineKey(ip.String()))
	}
	for _, alias := range res.Aliases {
		keys = append(keys, domainKey(alias))
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: empty resolution for %q", domain.ErrInvalidObservation, res.Target)
	}

	var handles []domain.Handle
	_, err := e.run(ctx, domain.KindMachine, keys, func(t *txn) (domain.Handle, error) {
		handles = handles[:0]
		if len(res.IPs) == 0 {
			for _, alias := range res.Aliases {
				h, err := t.domain(&domain.DomainObservation{Name: alias, Source: "resolver"})
				if err != nil {
					return domain.Handle{}, err
				}
				handles = append(handles, h)
			}
			return domain.Handle{}, nil
		}

		for _, ip := range res.IPs {
			obs := &domain.MachineObservation{IP: ip.String(), Source: "resolver"}
			for _, alias := range res.Aliases {
				obs.Domains = append(obs.Domains, &domain.DomainObservation{Name: alias, Source: "resolver"})
			}
			h, err := t.machine(obs)
			if err != nil {
				return domain.Handle{}, err
			}
			handles = append(handles, h)
		}
		return domain.Handle{}, nil
	})
	if err != nil {
		return nil, err
	}
	return handles, nil
}

// run executes fn in a transaction while holding the locks for keys, and
// retries the whole transaction on repository.ErrConflict
func (e *Engine) run(ctx context.Context, kind domain.Kind, keys []string, fn func(t *txn) (domain.Handle, error)) (domain.Handle, error) {
	start := time.Now()
	txID := uuid.NewString()
	logger := e.logger.With(zap.String("tx", txID), zap.String("kind", string(kind)))

	unlock := e.locks.lock(keys)
	defer unlock()

	var stats *txStats
	attempt := func() (domain.Handle, error) {
		t := newTxn(ctx, e, txID, logger)
		var h domain.Handle
		err := e.graph.Update(ctx, func(tx repository.Tx) error {
			t.tx = tx
			var err error
			h, err = fn(t)
			return err
		})
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return domain.Handle{}, err
			}
			return domain.Handle{}, backoff.Permanent(err)
		}
		stats = &t.stats
		return h, nil
	}

	h, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(e.backoff()),
		backoff.WithMaxTries(e.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.metrics.retriesTotal.Inc()
			logger.Debug("retrying after conflict", zap.Duration("backoff", next), zap.Error(err))
		}),
	)
	if err != nil {
		e.metrics.failed(kind, time.Since(start))
		logger.Warn("reconcile failed", zap.Error(err))
		return domain.Handle{}, err
	}

	e.metrics.record(kind, stats, time.Since(start))
	if e.notify != nil && len(stats.changes) > 0 {
		e.notify(stats.changes)
	}
	return h, nil
}

func nilObservation(kind domain.Kind) error {
	return fmt.Errorf("%w: nil %s observation", domain.ErrInvalidObservation, kind)
}

// Lock keys. A service shares its machine's key since its identity includes
// the machine.

func machineKey(ip string) string {
	return "machine:" + domain.NormalizeIP(ip)
}

func domainKey(name string) string {
	return "domain:" + domain.NormalizeDomainName(name)
}

func userKey(name string) string {
	return "user:" + name
}

func groupKey(name string) string {
	return "group:" + name
}

func credentialKey(username string) string {
	return "credential:" + username
}

func noteKey(owner domain.Handle, title string) string {
	return "note:" + owner.String() + ":" + title
}
