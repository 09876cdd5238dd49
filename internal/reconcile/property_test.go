package reconcile

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"cartograph/internal/domain"
	"cartograph/internal/repository/sqlite"
)

// opObservation decodes a generated integer into an observation. The
// observations only carry relations, notes with a fixed content per title
// and confidences, so any application order must give the same graph.
func opObservation(n int) domain.Observation {
	ip := fmt.Sprintf("10.0.0.%d", n%4+1)
	name := fmt.Sprintf("host%d.example", (n/4)%3)
	user := fmt.Sprintf("user%d", (n/12)%3)
	group := fmt.Sprintf("group%d", (n/36)%2)
	confidence := (n / 72) % 8 * 10

	if n%2 == 0 {
		return &domain.DomainObservation{
			Name:     name,
			Machines: []*domain.MachineObservation{{IP: ip}},
		}
	}
	return &domain.GroupObservation{
		Name: group,
		Users: []*domain.UserObservation{{
			Name:        user,
			Credentials: []*domain.CredentialObservation{{Username: user, Confidence: domain.Int(confidence)}},
			Notes:       []*domain.NoteObservation{{Title: "seen", Content: user}},
		}},
	}
}

// applyOps reconciles ops on a fresh graph and returns its snapshot
func applyOps(t *testing.T, ops []int) graphState {
	repo, err := sqlite.New(":memory:", nil)
	require.NoError(t, err)
	defer repo.Close()

	reg := prometheus.NewRegistry()
	f := &fixture{repo: repo, engine: New(repo, WithRegisterer(reg)), reg: reg}

	ctx := context.Background()
	for _, n := range ops {
		_, err := f.engine.Reconcile(ctx, opObservation(n))
		require.NoError(t, err)
	}
	return snapshot(t, f)
}

func reversed(ops []int) []int {
	out := make([]int, len(ops))
	for i, n := range ops {
		out[len(ops)-1-i] = n
	}
	return out
}

func TestMergeProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 40
	properties := gopter.NewProperties(params)

	opsGen := gen.SliceOf(gen.IntRange(0, 575), reflect.TypeOf(0))

	properties.Property("relation merges commute", prop.ForAll(
		func(ops []int) bool {
			return reflect.DeepEqual(applyOps(t, ops), applyOps(t, reversed(ops)))
		},
		opsGen,
	))

	properties.Property("reconciling twice equals reconciling once", prop.ForAll(
		func(ops []int) bool {
			return reflect.DeepEqual(applyOps(t, ops), applyOps(t, append(append([]int{}, ops...), ops...)))
		},
		opsGen,
	))

	properties.TestingRun(t)
}
