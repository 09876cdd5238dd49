package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"cartograph/internal/domain"
	"cartograph/internal/reconcile"
	"cartograph/internal/repository"
	"cartograph/internal/repository/sqlite"
	"cartograph/internal/service"
)

type apiFixture struct {
	mux     *http.ServeMux
	repo    *sqlite.Repository
	machine domain.Handle
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	repo, err := sqlite.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	engine := reconcile.New(repo, reconcile.WithLogger(logger), reconcile.WithRegisterer(prometheus.NewRegistry()))
	machine, err := engine.Reconcile(context.Background(), &domain.MachineObservation{
		IP:      "10.0.0.5",
		Domains: []*domain.DomainObservation{{Name: "dc01.corp.local"}},
		Services: []*domain.ServiceObservation{{
			Port: 22,
			Name: domain.String("ssh"),
			Notes: []*domain.NoteObservation{
				{Title: "Weak kex", Content: "diffie-hellman-group1-sha1", Interest: domain.InterestHigh},
				{Title: "Banner", Content: "SSH-2.0-OpenSSH_9.6", Interest: domain.InterestVerbose},
			},
			Credentials: []*domain.CredentialObservation{{Username: "root", Password: domain.String("toor")}},
		}},
		Users: []*domain.UserObservation{{
			Name:   "root",
			Groups: []*domain.GroupObservation{{Name: "wheel"}},
		}},
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewGraphHandler(service.NewGraphService(repo, nil, logger), logger).Register(mux)
	return &apiFixture{mux: mux, repo: repo, machine: machine}
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListMachines(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/machines")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	machines := decode[[]domain.Machine](t, rec)
	require.Len(t, machines, 1)
	assert.Equal(t, "10.0.0.5", machines[0].IP)
	assert.Equal(t, f.machine.ID, machines[0].ID)
}

func TestGetMachine(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"found", fmt.Sprintf("/api/machines/%d", f.machine.ID), http.StatusOK},
		{"missing", "/api/machines/999", http.StatusNotFound},
		{"not a number", "/api/machines/abc", http.StatusBadRequest},
		{"zero", "/api/machines/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				resp := decode[ErrorResponse](t, rec)
				assert.NotEmpty(t, resp.Error)
				assert.NotEmpty(t, resp.Details)
			}
		})
	}
}

func TestMachineRelations(t *testing.T) {
	f := newAPIFixture(t)
	base := fmt.Sprintf("/api/machines/%d", f.machine.ID)

	services := decode[[]domain.Service](t, f.get(t, base+"/services"))
	require.Len(t, services, 1)
	assert.Equal(t, 22, services[0].Port)

	domains := decode[[]domain.Domain](t, f.get(t, base+"/domains"))
	require.Len(t, domains, 1)
	assert.Equal(t, "dc01.corp.local", domains[0].Name)

	users := decode[[]domain.User](t, f.get(t, base+"/users"))
	require.Len(t, users, 1)
	assert.Equal(t, "root", users[0].Name)

	groups := decode[[]domain.Group](t, f.get(t, base+"/groups"))
	require.Len(t, groups, 1)
	assert.Equal(t, "wheel", groups[0].Name)

	machines := decode[[]domain.Machine](t, f.get(t, fmt.Sprintf("/api/domains/%d/machines", domains[0].ID)))
	require.Len(t, machines, 1)
	assert.Equal(t, f.machine.ID, machines[0].ID)

	creds := decode[[]domain.Credential](t, f.get(t, fmt.Sprintf("/api/services/%d/credentials", services[0].ID)))
	require.Len(t, creds, 1)
	assert.Equal(t, "root", creds[0].Username)

	members := decode[[]domain.User](t, f.get(t, fmt.Sprintf("/api/groups/%d/users", groups[0].ID)))
	require.Len(t, members, 1)
	assert.Equal(t, users[0].ID, members[0].ID)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/machines/999/services").Code)
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	f := newAPIFixture(t)

	users := decode[[]domain.User](t, f.get(t, "/api/users"))
	require.Len(t, users, 1)

	rec := f.get(t, fmt.Sprintf("/api/users/%d/aliases", users[0].ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.get(t, "/api/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListNotes(t *testing.T) {
	f := newAPIFixture(t)

	services := decode[[]domain.Service](t, f.get(t, "/api/services"))
	require.Len(t, services, 1)
	path := fmt.Sprintf("/api/notes/service/%d", services[0].ID)

	tests := []struct {
		name   string
		query  string
		code   int
		titles []string
	}{
		{"all tiers", "", http.StatusOK, []string{"Weak kex", "Banner"}},
		{"important only", "?max_interest=1", http.StatusOK, []string{"Weak kex"}},
		{"critical only", "?max_interest=0", http.StatusOK, []string{}},
		{"negative", "?max_interest=-1", http.StatusBadRequest, nil},
		{"garbage", "?max_interest=high", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, path+tt.query)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			notes := decode[[]domain.Note](t, rec)
			titles := []string{}
			for _, n := range notes {
				titles = append(titles, n.Title)
			}
			assert.Equal(t, tt.titles, titles)
		})
	}

	// machines own no notes
	assert.Equal(t, http.StatusBadRequest, f.get(t, fmt.Sprintf("/api/notes/machine/%d", f.machine.ID)).Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/notes/service/999").Code)
}

func TestListJobs(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	started := time.Now().UTC()
	require.NoError(t, f.repo.Update(ctx, func(tx repository.Tx) error {
		if err := tx.CreateJob(ctx, &domain.Job{ID: "job-1", Name: "nmap(10.0.0.5)", Status: domain.JobStatusRunning, StartedAt: started}); err != nil {
			return err
		}
		if err := tx.CreateJob(ctx, &domain.Job{ID: "job-2", Name: "ssh-login(10.0.0.5:22)", Status: domain.JobStatusRunning, StartedAt: started}); err != nil {
			return err
		}
		return tx.FinishJob(ctx, "job-2", domain.JobStatusFailed, "connection refused", started.Add(time.Second))
	}))

	all := decode[[]domain.Job](t, f.get(t, "/api/jobs"))
	assert.Len(t, all, 2)

	running := decode[[]domain.Job](t, f.get(t, "/api/jobs?status=RUNNING"))
	require.Len(t, running, 1)
	assert.Equal(t, "job-1", running[0].ID)

	failed := decode[[]domain.Job](t, f.get(t, "/api/jobs?status=FAILED"))
	require.Len(t, failed, 1)
	assert.Equal(t, "connection refused", failed[0].Error)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/jobs?status=paused").Code)
}

func TestGetSnapshot(t *testing.T) {
	f := newAPIFixture(t)

	snap := decode[domain.Snapshot](t, f.get(t, "/api/snapshot"))
	assert.Len(t, snap.Machines, 1)
	assert.Len(t, snap.Services, 1)
	assert.Len(t, snap.Notes, 2)
	assert.NotEmpty(t, snap.Edges)
	assert.Equal(t, []string{"dc01.corp.local"}, snap.MachineDomains(f.machine.ID))
}

func TestExport(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("yaml", func(t *testing.T) {
		rec := f.get(t, "/api/export/yaml")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/x-yaml", rec.Header().Get("Content-Type"))
		assert.Equal(t, "attachment; filename=cartograph.yaml", rec.Header().Get("Content-Disposition"))

		var snap domain.Snapshot
		require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Len(t, snap.Machines, 1)
	})

	t.Run("ansible inventory", func(t *testing.T) {
		rec := f.get(t, "/api/export/ansible-inventory")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "attachment; filename=inventory.yml", rec.Header().Get("Content-Disposition"))
		assert.Contains(t, rec.Body.String(), "dc01.corp.local")
	})

	t.Run("unsupported", func(t *testing.T) {
		rec := f.get(t, "/api/export/xml")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[ErrorResponse](t, rec).Details, "xml")
	})
}

func TestWritesAreNotRouted(t *testing.T) {
	f := newAPIFixture(t)

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/machines/%d", f.machine.ID), nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
