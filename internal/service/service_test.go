package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cartograph/internal/adapter"
	"cartograph/internal/domain"
	"cartograph/internal/reconcile"
	"cartograph/internal/repository/sqlite"
	"cartograph/internal/resolve"
)

type fixture struct {
	repo   *sqlite.Repository
	bus    *EventBus
	engine *reconcile.Engine
	graph  *GraphService
	ingest *IngestService
}

func newFixture(t *testing.T, lookup resolve.Lookup) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	repo, err := sqlite.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	bus := NewEventBus()
	engine := reconcile.New(repo,
		reconcile.WithLogger(logger),
		reconcile.WithRegisterer(prometheus.NewRegistry()),
		reconcile.WithNotifier(bus.PublishChanges))
	if lookup == nil {
		lookup = resolve.StaticLookup{}
	}

	return &fixture{
		repo:   repo,
		bus:    bus,
		engine: engine,
		graph:  NewGraphService(repo, nil, logger),
		ingest: NewIngestService(engine, resolve.New(lookup, resolve.WithLogger(logger)), bus, logger),
	}
}

// seed records a domain controller with one service, two accounts and a
// group
func (f *fixture) seed(t *testing.T) domain.Handle {
	t.Helper()
	h, err := f.engine.Reconcile(context.Background(), &domain.MachineObservation{
		IP:      "10.0.0.5",
		Domains: []*domain.DomainObservation{{Name: "DC01.corp.local."}},
		Services: []*domain.ServiceObservation{{
			Port: 445,
			Name: domain.String("microsoft-ds"),
			Notes: []*domain.NoteObservation{
				{Title: "Signing", Content: "not required", Interest: domain.InterestCritical},
				{Title: "Banner", Content: "SMB 3.1.1", Interest: domain.InterestVerbose},
			},
			Credentials: []*domain.CredentialObservation{{Username: "alice", Password: domain.String("s3cret")}},
		}},
		Users: []*domain.UserObservation{{
			Name:        "alice",
			Credentials: []*domain.CredentialObservation{{Username: "alice"}},
			Groups:      []*domain.GroupObservation{{Name: "Domain Admins"}},
		}},
	})
	require.NoError(t, err)

	_, err = f.engine.Reconcile(context.Background(), &domain.UserObservation{
		Name:        "CORP\\alice",
		Credentials: []*domain.CredentialObservation{{Username: "alice"}},
	})
	require.NoError(t, err)
	return h
}

// ============================================================================
// GraphService
// ============================================================================

func TestGraphServiceRelations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	machine := f.seed(t)

	machines, err := f.graph.ListMachines(ctx)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, "10.0.0.5", machines[0].IP)

	domains, err := f.graph.MachineDomains(ctx, machine.ID)
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "dc01.corp.local", domains[0].Name)

	back, err := f.graph.DomainMachines(ctx, domains[0].ID)
	require.NoError(t, err)
	assert.Equal(t, machines, back)

	services, err := f.graph.MachineServices(ctx, machine.ID)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, 445, services[0].Port)

	creds, err := f.graph.ServiceCredentials(ctx, services[0].ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "s3cret", domain.Deref(creds[0].Password))

	users, err := f.graph.MachineUsers(ctx, machine.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	alice := users[0]
	assert.Equal(t, "alice", alice.Name)

	aliases, err := f.graph.UserAliases(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CORP\\alice"}, aliases)

	groups, err := f.graph.UserGroups(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Domain Admins", groups[0].Name)

	members, err := f.graph.GroupUsers(ctx, groups[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.User{alice}, members)

	homeGroups, err := f.graph.MachineGroups(ctx, machine.ID)
	require.NoError(t, err)
	assert.Len(t, homeGroups, 1)

	userCreds, err := f.graph.UserCredentials(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, userCreds, 1)
	assert.Equal(t, "alice", userCreds[0].Username)

	all, err := f.graph.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "the service credential and the user credential are one entity")
}

func TestGraphServiceNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.graph.GetMachine(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.graph.MachineServices(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.graph.UserAliases(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.graph.Notes(ctx, domain.NewHandle(domain.KindDomain, 99), -1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGraphServiceNotes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t)

	services, err := f.graph.ListServices(ctx)
	require.NoError(t, err)
	owner := services[0].Handle()

	tests := []struct {
		name        string
		maxInterest int
		want        []string
	}{
		{"critical only", domain.InterestCritical, []string{"Signing"}},
		{"up to detail", domain.InterestDetail, []string{"Signing"}},
		{"all", -1, []string{"Signing", "Banner"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notes, err := f.graph.Notes(ctx, owner, tt.maxInterest)
			require.NoError(t, err)
			var titles []string
			for _, n := range notes {
				titles = append(titles, n.Title)
			}
			assert.Equal(t, tt.want, titles)
		})
	}

	_, err = f.graph.Notes(ctx, domain.NewHandle(domain.KindMachine, 1), -1)
	assert.ErrorIs(t, err, domain.ErrInvalidObservation)
}

func TestGraphServiceSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	snap, err := f.graph.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Machines, 1)
	assert.Len(t, snap.Domains, 1)
	assert.Len(t, snap.Services, 1)
	assert.Len(t, snap.Users, 1)
	assert.Len(t, snap.Groups, 1)
	assert.Len(t, snap.Credentials, 1)
	assert.Len(t, snap.Notes, 2)
	assert.Equal(t, map[int64][]string{snap.Users[0].ID: {"CORP\\alice"}}, snap.Aliases)
	assert.Equal(t, []string{"dc01.corp.local"}, snap.MachineDomains(snap.Machines[0].ID))

	rels := make(map[string]int)
	for _, e := range snap.Edges {
		rels[e.Relation]++
	}
	assert.Equal(t, 1, rels["machine.domains"])
	assert.Equal(t, 1, rels["domain.machines"])
	assert.Equal(t, 1, rels["user.groups"])
	assert.Equal(t, 1, rels["group.users"])
	assert.Equal(t, 1, rels["service.credentials"])
	assert.Equal(t, 1, rels["credential.services"])
}

func TestGraphServiceExport(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	var buf bytes.Buffer
	require.NoError(t, f.graph.Export(context.Background(), "json", &buf))

	var decoded domain.Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded.Machines, 1)

	assert.Error(t, f.graph.Export(context.Background(), "xml", &buf))
}

// ============================================================================
// IngestService
// ============================================================================

func TestIngestAdd(t *testing.T) {
	f := newFixture(t, resolve.StaticLookup{
		"www.corp.local":  "web.corp.local",
		"web.corp.local":  "10.0.0.80",
		"loop-a.internal": "loop-b.internal",
		"loop-b.internal": "loop-a.internal",
	})
	ctx := context.Background()

	handles, err := f.ingest.Add(ctx, "www.corp.local")
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, domain.KindMachine, handles[0].Kind)

	domains, err := f.graph.MachineDomains(ctx, handles[0].ID)
	require.NoError(t, err)
	var names []string
	for _, d := range domains {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"www.corp.local", "web.corp.local"}, names)

	// a cycle is recorded as the names seen before it closed
	handles, err = f.ingest.Add(ctx, "loop-a.internal")
	require.NoError(t, err)
	require.Len(t, handles, 2)
	for _, h := range handles {
		assert.Equal(t, domain.KindDomain, h.Kind)
	}

	_, err = f.ingest.Add(ctx, "  ")
	assert.ErrorIs(t, err, resolve.ErrEmptyTarget)
}

func TestIngestAddressTarget(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ingest.AddTarget(context.Background(), "::ffff:10.0.0.9"))

	machines, err := f.graph.ListMachines(context.Background())
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, "10.0.0.9", machines[0].IP)
}

func TestIngestImport(t *testing.T) {
	f := newFixture(t, nil)
	input := `
machines:
  - ip: 10.0.0.5
    services:
      - port: 22
  - ip: not-an-address
users:
  - name: bob
`
	result, err := f.ingest.Import(context.Background(), "yaml", strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Reconciled)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "invalid observation")

	users, err := f.graph.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = f.ingest.Import(context.Background(), "xml", strings.NewReader(""))
	assert.Error(t, err)
}

// ============================================================================
// EventBus
// ============================================================================

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	fast := make(chan Event, 4)
	slow := make(chan Event)
	bus.Subscribe(fast)
	bus.Subscribe(slow)

	bus.Publish(Event{Type: EventImported})
	assert.Equal(t, EventImported, (<-fast).Type)
	assert.Equal(t, int64(1), bus.Dropped())

	bus.Unsubscribe(slow)
	bus.Publish(Event{Type: EventTargetAdded})
	assert.Equal(t, EventTargetAdded, (<-fast).Type)
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestEventBusPublishChanges(t *testing.T) {
	f := newFixture(t, nil)
	events := make(chan Event, 16)
	f.bus.Subscribe(events)

	_, err := f.engine.Reconcile(context.Background(), &domain.MachineObservation{
		IP:       "10.0.0.5",
		Services: []*domain.ServiceObservation{{Port: 22}},
	})
	require.NoError(t, err)

	created := drain(events)
	require.Len(t, created, 2)
	for _, ev := range created {
		assert.Equal(t, EventEntityCreated, ev.Type)
	}

	_, err = f.engine.Reconcile(context.Background(), &domain.MachineObservation{IP: "10.0.0.5"})
	require.NoError(t, err)
	updated := drain(events)
	require.Len(t, updated, 1)
	assert.Equal(t, EventEntityUpdated, updated[0].Type)
	assert.False(t, updated[0].Payload.(reconcile.Change).Created)
}

func drain(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// ============================================================================
// Scheduler
// ============================================================================

type submission struct {
	probe  string
	target adapter.Target
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []submission
	err   error
}

func (f *fakeSubmitter) ProbesFor(t adapter.Target) []string {
	switch t.Handle.Kind {
	case domain.KindMachine:
		return []string{"port_scan", "tcp_scan"}
	case domain.KindDomain:
		return []string{"scan_domain"}
	case domain.KindService:
		if t.Port == 22 {
			return []string{"ssh_login"}
		}
	}
	return nil
}

func (f *fakeSubmitter) Submit(_ context.Context, probe string, t adapter.Target) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, submission{probe, t})
	return probe + "-job", nil
}

func (f *fakeSubmitter) submitted() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.calls...)
}

func TestSchedulerSchedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	jobs := &fakeSubmitter{}
	sched := NewScheduler(f.repo, jobs, zaptest.NewLogger(t), "port_scan", "ssh_login", "scan_domain")

	machine, err := f.engine.Reconcile(ctx, &domain.MachineObservation{
		IP:       "10.0.0.5",
		Services: []*domain.ServiceObservation{{Port: 22}},
	})
	require.NoError(t, err)

	ids, err := sched.Schedule(ctx, machine)
	require.NoError(t, err)
	assert.Equal(t, []string{"port_scan-job"}, ids, "tcp_scan is not allowed")

	services, err := f.graph.MachineServices(ctx, machine.ID)
	require.NoError(t, err)
	ids, err = sched.Schedule(ctx, services[0].Handle())
	require.NoError(t, err)
	assert.Equal(t, []string{"ssh_login-job"}, ids)

	calls := jobs.submitted()
	require.Len(t, calls, 2)
	assert.Equal(t, "10.0.0.5", calls[1].target.IP)
	assert.Equal(t, 22, calls[1].target.Port)

	ids, err = sched.Schedule(ctx, domain.NewHandle(domain.KindUser, 1))
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = sched.Schedule(ctx, domain.NewHandle(domain.KindMachine, 99))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	jobs.err = errors.New("registry closed")
	_, err = sched.Schedule(ctx, machine)
	assert.Error(t, err)
}

func TestSchedulerRunFollowsCreatedEntities(t *testing.T) {
	f := newFixture(t, nil)
	jobs := &fakeSubmitter{}
	sched := NewScheduler(f.repo, jobs, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx, f.bus) }()

	// wait for the subscription before publishing
	require.Eventually(t, func() bool {
		f.bus.mu.RLock()
		defer f.bus.mu.RUnlock()
		return len(f.bus.subscribers) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := f.engine.Reconcile(context.Background(), &domain.DomainObservation{
		Name:     "corp.local",
		Machines: []*domain.MachineObservation{{IP: "10.0.0.5"}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(jobs.submitted()) == 3 }, time.Second, 5*time.Millisecond)

	probes := make(map[string]bool)
	for _, c := range jobs.submitted() {
		probes[c.probe] = true
	}
	assert.Equal(t, map[string]bool{"port_scan": true, "tcp_scan": true, "scan_domain": true}, probes)

	// updates are not scheduled again
	_, err = f.engine.Reconcile(context.Background(), &domain.MachineObservation{IP: "10.0.0.5"})
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, jobs.submitted(), 3)
}
