package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cartograph/internal/domain"
	"cartograph/internal/repository"
)

// txStats accumulates what one transaction did. It is flushed to metrics and
// notifiers only after commit.
type txStats struct {
	changes  []Change
	revisits map[domain.Kind]int
}

// txn is the state of one merge transaction. visited holds every entity the
// cascade has entered and feeds the change list and revisit counts. walked
// holds every observation node whose relations were merged; a node reached
// again through a cycle only gets its scalars and leaf children (notes,
// credentials) merged and its edge added. A different node naming an
// already visited entity still merges all of its relations.
type txn struct {
	ctx     context.Context
	tx      repository.Tx
	engine  *Engine
	id      string
	logger  *zap.Logger
	visited map[domain.Handle]bool
	walked  map[any]bool
	stats   txStats
}

func newTxn(ctx context.Context, e *Engine, id string, logger *zap.Logger) *txn {
	return &txn{
		ctx:     ctx,
		engine:  e,
		id:      id,
		logger:  logger,
		visited: make(map[domain.Handle]bool),
		walked:  make(map[any]bool),
		stats:   txStats{revisits: make(map[domain.Kind]int)},
	}
}

// enter records the first visit of h as a change and counts later ones
func (t *txn) enter(h domain.Handle, created bool) {
	if t.visited[h] {
		t.stats.revisits[h.Kind]++
		return
	}
	t.visited[h] = true
	t.stats.changes = append(t.stats.changes, Change{Handle: h, Created: created, TxID: t.id})
	if created {
		t.logger.Debug("entity created", zap.Stringer("handle", h))
	}
}

// walk marks the observation node obs and reports whether its relations
// still need merging
func (t *txn) walk(obs any) bool {
	if t.walked[obs] {
		return false
	}
	t.walked[obs] = true
	return true
}

func (t *txn) addEdge(owner domain.Handle, rel repository.Relation, target domain.Handle) error {
	if _, err := t.tx.AddEdge(t.ctx, owner, rel, target); err != nil {
		return fmt.Errorf("failed to link %s %s %s: %w", owner, rel, target, err)
	}
	return nil
}

// ============================================================================
// Machine
// ============================================================================

func (t *txn) machine(obs *domain.MachineObservation) (domain.Handle, error) {
	if err := domain.Validate(obs); err != nil {
		return domain.Handle{}, err
	}

	ip := domain.NormalizeIP(obs.IP)
	m, err := t.tx.MachineByIP(t.ctx, ip)
	if err != nil {
		return domain.Handle{}, err
	}
	created := m == nil
	if created {
		m = &domain.Machine{IP: ip}
		if err := t.tx.CreateMachine(t.ctx, m); err != nil {
			return domain.Handle{}, err
		}
	}

	h := m.Handle()
	t.enter(h, created)
	if !t.walk(obs) {
		return h, nil
	}

	for _, d := range obs.Domains {
		if d == nil {
			continue
		}
		dh, err := t.domain(d)
		if err != nil {
			return domain.Handle{}, err
		}
		if err := t.addEdge(h, repository.RelMachineDomains, dh); err != nil {
			return domain.Handle{}, err
		}
	}

	for _, s := range obs.Services {
		if s == nil {
			continue
		}
		if _, err := t.serviceOn(m.ID, s); err != nil {
			return domain.Handle{}, err
		}
	}

	for _, u := range obs.Users {
		if u == nil {
			continue
		}
		uh, err := t.user(u, m.ID)
		if err != nil {
			return domain.Handle{}, err
		}
		if err := t.addEdge(h, repository.RelMachineUsers, uh); err != nil {
			return domain.Handle{}, err
		}
	}

	for _, g := range obs.Groups {
		if g == nil {
			continue
		}
		gh, err := t.group(g, m.ID)
		if err != nil {
			return domain.Handle{}, err
		}
		if err := t.addEdge(h, repository.RelMachineGroups, gh); err != nil {
			return domain.Handle{}, err
		}
	}

	return h, nil
}

// ============================================================================
// Domain
// ============================================================================

func (t *txn) domain(obs *domain.DomainObservation) (domain.Handle, error) {
	if err := domain.Validate(obs); err != nil {
		return domain.Handle{}, err
	}

	name := domain.NormalizeDomainName(obs.Name)
	d, err := t.tx.DomainByName(t.ctx, name)
	if err != nil {
		return domain.Handle{}, err
	}
	created := d == nil
	if created {
		d = &domain.Domain{Name: name}
		if err := t.tx.CreateDomain(t.ctx, d); err != nil {
			return domain.Handle{}, err
		}
	}

	h := d.Handle()
	t.enter(h, created)

	if err := t.notesOn(h, obs.Notes); err != nil {
		return domain.Handle{}, err
	}
	if !t.walk(obs) {
		return h, nil
	}

	for _, m := range obs.Machines {
		if m == nil {
			continue
		}
		mh, err := t.machine(m)
		if err != nil {
			return domain.Handle{}, err
		}
		if err := t.addEdge(h, repository.RelDomainMachines, mh); err != nil {
			return domain.Handle{}, err
		}
	}
	return h, nil
}

// ============================================================================
// Service
// ============================================================================

// service merges a top-level service observation, resolving its machine first
func (t *txn) service(obs *domain.ServiceObservation) (domain.Handle, error) {
	mh, err := t.machine(obs.Machine)
	if err != nil {
		return domain.Handle{}, err
	}
	return t.serviceOn(mh.ID, obs)
}

// serviceOn merges a service on the given machine. A nested observation's
// own Machine field is not consulted.
func (t *txn) serviceOn(machineID int64, obs *domain.ServiceObservation) (domain.Handle, error) {
	if err := domain.Validate(obs); err != nil {
		return domain.Handle{}, err
	}

	s, err := t.tx.ServiceByPort(t.ctx, machineID, obs.Port)
	if err != nil {
		return domain.Handle{}, err
	}

	created := s == nil
	var before domain.Service
	if created {
		s = &domain.Service{MachineID: machineID, Port: obs.Port, Kind: domain.ServiceKindPlain}
	} else {
		before = *s
		if s.HTTP != nil {
			details := *s.HTTP
			before.HTTP = &details
		}
	}

	mergeService(s, obs)

	if created {
		if err := t.tx.CreateService(t.ctx, s); err != nil {
			return domain.Handle{}, err
		}
	} else if !serviceEqual(before, *s) {
		if err := t.tx.UpdateService(t.ctx, s); err != nil {
			return domain.Handle{}, err
		}
	}

	h := s.Handle()
	t.enter(h, created)

	if err := t.notesOn(h, obs.Notes); err != nil {
		return domain.Handle{}, err
	}
	for _, c := range obs.Credentials {
		if c == nil {
			continue
		}
		ch, err := t.credential(c, 0, s.ID)
		if err != nil {
			return domain.Handle{}, err
		}
		if err := t.addEdge(h, repository.RelServiceCredentials, ch); err != nil {
			return domain.Handle{}, err
		}
	}
	return h, nil
}

// mergeService applies last-non-empty-wins to every scalar. A non-plain
// variant replaces plain, and a URL implies the HTTP variant.
func mergeService(s *domain.Service, obs *domain.ServiceObservation) {
	setIfPresent(&s.Protocol, obs.Protocol)
	setIfPresent(&s.Name, obs.Name)
	setIfPresent(&s.Product, obs.Product)
	setIfPresent(&s.Version, obs.Version)
	if v := domain.Deref(obs.Status); v != "" {
		s.Status = domain.ServiceStatus(v)
	}

	url := domain.Deref(obs.URL)
	kind := obs.Kind
	if url != "" {
		// a URL wins over an explicit plain kind
		kind = domain.ServiceKindHTTP
	}
	if kind != "" && kind != domain.ServiceKindPlain {
		s.Kind = kind
	}
	if s.Kind == "" {
		s.Kind = domain.ServiceKindPlain
	}

	if s.Kind == domain.ServiceKindHTTP {
		if s.HTTP == nil {
			s.HTTP = &domain.HTTPDetails{}
		}
		if url != "" {
			s.HTTP.URL = url
		}
	}
}

func serviceEqual(a, b domain.Service) bool {
	if a.HTTP != nil && b.HTTP != nil {
		if *a.HTTP != *b.HTTP {
			return false
		}
	} else if (a.HTTP == nil) != (b.HTTP == nil) {
		return false
	}
	a.HTTP, b.HTTP = nil, nil
	return a == b
}

// ============================================================================
// User
// ============================================================================

// user merges a user. home is the machine the observation was nested under,
// zero when none; an explicit Machine on the observation takes precedence.
func (t *txn) user(obs *domain.UserObservation, home int64) (domain.Handle, error) {
	if err := domain.Validate(obs); err != nil {
		return domain.Handle{}, err
	}

	if obs.Machine != nil {
		mh, err := t.machine(obs.Machine)
		if err != nil {
			return domain.Handle{}, err
		}
		home = mh.ID
	}

	u, err := t.engine.index.findUser(t.ctx, t.tx, obs.Name, obs.CredentialUsernames())
	if err != nil {
		return domain.Handle{}, err
	}

	created := u == nil
	if created {
		u = &domain.User{Name: obs.Name, MachineID: home, SMBRID: domain.Deref(obs.SMBRID)}
		if err := t.tx.CreateUser(t.ctx, u); err != nil {
			return domain.Handle{}, err
		}
	} else {
		changed := setIDIfPresent(&u.MachineID, home)
		changed = setIfPresent(&u.SMBRID, obs.SMBRID) || changed
		if changed {
			if err := t.tx.UpdateUser(t.ctx, u); err != nil {
				return domain.Handle{}, err
			}
		}
		if u.Name != obs.Name {
			if err := t.tx.AddUserAlias(t.ctx, u.ID, obs.Name); err != nil {
				return domain.Handle{}, err
			}
		}
	}

	h := u.Handle()
	t.enter(h, created)

	for _, c := range obs.Credentials {
		if c == nil {
			continue
		}
		ch, err := t.credential(c, u.ID, 0)
		if err != nil {
			return domain.Handle{}, err
		}
		if err := t.addEdge(h, repository.RelUserCredentials, ch); err != nil {
			return domain.Handle{}, err
		}
	}
	if err := t.notesOn(h, obs.Notes); err != nil {
		return domain.Handle{}, err
	}
	if !t.walk(obs) {
		return h, nil
	}

	for _, g := range obs.Groups {
		if g == nil {
			continue
		}
		// a group listed on a user shares the user's home
		gh, err := t.group(g, home)
		if err != nil {
			return domain.Handle{}, err
		}
		if err := t.addEdge(h, repository.RelUserGroups, gh); err != nil {
			return domain.Handle{}, err
		}
	}
	return h, nil
}

// ============================================================================
// Group
// ============================================================================

// group merges a group. Identity is the name alone; the machine is a home
// attribute.
func (t *txn) group(obs *domain.GroupObservation, home int64) (domain.Handle, error) {
	if err := domain.Validate(obs); err != nil {
		return domain.Handle{}, err
	}

	if obs.Machine != nil {
		mh, err := t.machine(obs.Machine)
		if err != nil {
			return domain.Handle{}, err
		}
		home = mh.ID
	}

	g, err := t.tx.GroupByName(t.ctx, obs.Name)
	if err != nil {
		return domain.Handle{}, err
	}

	created := g == nil
	if created {
		g = &domain.Group{Name: obs.Name, MachineID: home, SMBRID: domain.Deref(obs.SMBRID)}
		if err := t.tx.CreateGroup(t.ctx, g); err != nil {
			return domain.Handle{}, err
		}
	} else {
		changed := setIDIfPresent(&g.MachineID, home)
		changed = setIfPresent(&g.SMBRID, obs.SMBRID) || changed
		if changed {
			if err := t.tx.UpdateGroup(t.ctx, g); err != nil {
				return domain.Handle{}, err
			}
		}
	}

	h := g.Handle()
	t.enter(h, created)

	if err := t.notesOn(h, obs.Notes); err != nil {
		return domain.Handle{}, err
	}
	if !t.walk(obs) {
		return h, nil
	}

	for _, u := range obs.Users {
		if u == nil {
			continue
		}
		uh, err := t.user(u, 0)
		if err != nil {
			return domain.Handle{}, err
		}
		if err := t.addEdge(h, repository.RelGroupUsers, uh); err != nil {
			return domain.Handle{}, err
		}
	}
	return h, nil
}

// ============================================================================
// Credential
// ============================================================================

// credential merges a credential. userID and serviceID name the owner it was
// observed on and steer the identity match.
func (t *txn) credential(obs *domain.CredentialObservation, userID, serviceID int64) (domain.Handle, error) {
	if err := domain.Validate(obs); err != nil {
		return domain.Handle{}, err
	}

	c, err := t.engine.index.findCredential(t.ctx, t.tx, obs.Username, obs.Password, userID, serviceID)
	if err != nil {
		return domain.Handle{}, err
	}

	created := c == nil
	if created {
		c = &domain.Credential{
			Username: obs.Username,
			Password: obs.Password,
			UserID:   userID,
		}
		if obs.Confidence != nil {
			c.Confidence = domain.ClampConfidence(*obs.Confidence)
		}
		if err := t.tx.CreateCredential(t.ctx, c); err != nil {
			return domain.Handle{}, err
		}
	} else {
		changed := false
		if c.Password == nil && obs.Password != nil {
			p := *obs.Password
			c.Password = &p
			changed = true
		}
		if obs.Confidence != nil {
			if v := domain.ClampConfidence(*obs.Confidence); v > c.Confidence {
				c.Confidence = v
				changed = true
			}
		}
		changed = setIDIfPresent(&c.UserID, userID) || changed
		if changed {
			if err := t.tx.UpdateCredential(t.ctx, c); err != nil {
				return domain.Handle{}, err
			}
		}
	}

	h := c.Handle()
	t.enter(h, created)
	return h, nil
}

// ============================================================================
// Notes
// ============================================================================

func (t *txn) notesOn(owner domain.Handle, notes []*domain.NoteObservation) error {
	for _, n := range notes {
		if n == nil {
			continue
		}
		if _, err := t.note(owner, n); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) note(owner domain.Handle, obs *domain.NoteObservation) (bool, error) {
	return t.engine.notes.Attach(t.ctx, t.tx, owner, *obs)
}

// ownerExists reports whether a note owner is stored
func (t *txn) ownerExists(owner domain.Handle) (bool, error) {
	var err error
	switch owner.Kind {
	case domain.KindService:
		_, err = t.tx.Service(t.ctx, owner.ID)
	case domain.KindDomain:
		_, err = t.tx.Domain(t.ctx, owner.ID)
	case domain.KindUser:
		_, err = t.tx.User(t.ctx, owner.ID)
	case domain.KindGroup:
		_, err = t.tx.Group(t.ctx, owner.ID)
	default:
		return false, nil
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ============================================================================
// Field Policy
// ============================================================================

// setIfPresent overwrites dst with a non-empty incoming value and reports
// whether dst changed
func setIfPresent(dst *string, v *string) bool {
	if v == nil || *v == "" || *dst == *v {
		return false
	}
	*dst = *v
	return true
}

// setIDIfPresent overwrites dst with a non-zero id
func setIDIfPresent(dst *int64, id int64) bool {
	if id == 0 || *dst == id {
		return false
	}
	*dst = id
	return true
}
