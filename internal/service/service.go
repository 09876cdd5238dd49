package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"cartograph/internal/annotation"
	"cartograph/internal/codec"
	"cartograph/internal/domain"
	"cartograph/internal/repository"
)

// GraphService answers the reporting layer's read queries. Every method runs
// in one read-only transaction.
type GraphService struct {
	graph  repository.Graph
	notes  *annotation.Store
	logger *zap.Logger
}

// NewGraphService creates a new graph service
func NewGraphService(graph repository.Graph, notes *annotation.Store, logger *zap.Logger) *GraphService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notes == nil {
		notes = annotation.New(logger)
	}
	return &GraphService{
		graph:  graph,
		notes:  notes,
		logger: logger.Named("graph"),
	}
}

// view runs fn in a read-only transaction and returns its result
func view[T any](ctx context.Context, g repository.Graph, fn func(tx repository.Tx) (T, error)) (T, error) {
	var out T
	err := g.View(ctx, func(tx repository.Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, err
}

// related loads the targets of owner's rel edges. owner must exist.
func related[T any](ctx context.Context, tx repository.Tx, owner domain.Handle, rel repository.Relation, get func(context.Context, int64) (*T, error)) ([]T, error) {
	if err := exists(ctx, tx, owner); err != nil {
		return nil, err
	}
	handles, err := tx.ListEdges(ctx, owner, rel)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(handles))
	for _, h := range handles {
		v, err := get(ctx, h.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// exists returns domain.ErrNotFound when h addresses no entity
func exists(ctx context.Context, tx repository.Tx, h domain.Handle) error {
	var err error
	switch h.Kind {
	case domain.KindMachine:
		_, err = tx.Machine(ctx, h.ID)
	case domain.KindDomain:
		_, err = tx.Domain(ctx, h.ID)
	case domain.KindService:
		_, err = tx.Service(ctx, h.ID)
	case domain.KindUser:
		_, err = tx.User(ctx, h.ID)
	case domain.KindGroup:
		_, err = tx.Group(ctx, h.ID)
	case domain.KindCredential:
		_, err = tx.Credential(ctx, h.ID)
	default:
		return fmt.Errorf("%s: %w", h, domain.ErrNotFound)
	}
	return err
}

// ListMachines returns every machine
func (s *GraphService) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Machine, error) {
		return tx.ListMachines(ctx)
	})
}

// GetMachine returns one machine
func (s *GraphService) GetMachine(ctx context.Context, id int64) (*domain.Machine, error) {
	return view(ctx, s.graph, func(tx repository.Tx) (*domain.Machine, error) {
		return tx.Machine(ctx, id)
	})
}

// MachineServices returns the services of a machine
func (s *GraphService) MachineServices(ctx context.Context, id int64) ([]domain.Service, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Service, error) {
		return related(ctx, tx, domain.NewHandle(domain.KindMachine, id), repository.RelMachineServices, tx.Service)
	})
}

// MachineDomains returns the domains that point at a machine
func (s *GraphService) MachineDomains(ctx context.Context, id int64) ([]domain.Domain, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Domain, error) {
		return related(ctx, tx, domain.NewHandle(domain.KindMachine, id), repository.RelMachineDomains, tx.Domain)
	})
}

// MachineUsers returns the users whose home is a machine
func (s *GraphService) MachineUsers(ctx context.Context, id int64) ([]domain.User, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.User, error) {
		return related(ctx, tx, domain.NewHandle(domain.KindMachine, id), repository.RelMachineUsers, tx.User)
	})
}

// MachineGroups returns the groups whose home is a machine
func (s *GraphService) MachineGroups(ctx context.Context, id int64) ([]domain.Group, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Group, error) {
		return related(ctx, tx, domain.NewHandle(domain.KindMachine, id), repository.RelMachineGroups, tx.Group)
	})
}

// ListDomains returns every domain
func (s *GraphService) ListDomains(ctx context.Context) ([]domain.Domain, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Domain, error) {
		return tx.ListDomains(ctx)
	})
}

// DomainMachines returns the machines a domain points at
func (s *GraphService) DomainMachines(ctx context.Context, id int64) ([]domain.Machine, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Machine, error) {
		return related(ctx, tx, domain.NewHandle(domain.KindDomain, id), repository.RelDomainMachines, tx.Machine)
	})
}

// ListServices returns every service
func (s *GraphService) ListServices(ctx context.Context) ([]domain.Service, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Service, error) {
		return tx.ListServices(ctx)
	})
}

// ServiceCredentials returns the credentials that work on a service
func (s *GraphService) ServiceCredentials(ctx context.Context, id int64) ([]domain.Credential, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Credential, error) {
		return related(ctx, tx, domain.NewHandle(domain.KindService, id), repository.RelServiceCredentials, tx.Credential)
	})
}

// ListUsers returns every user
func (s *GraphService) ListUsers(ctx context.Context) ([]domain.User, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.User, error) {
		return tx.ListUsers(ctx)
	})
}

// UserCredentials returns a user's credentials
func (s *GraphService) UserCredentials(ctx context.Context, id int64) ([]domain.Credential, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Credential, error) {
		return related(ctx, tx, domain.NewHandle(domain.KindUser, id), repository.RelUserCredentials, tx.Credential)
	})
}

// UserGroups returns the groups a user belongs to
func (s *GraphService) UserGroups(ctx context.Context, id int64) ([]domain.Group, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Group, error) {
		return related(ctx, tx, domain.NewHandle(domain.KindUser, id), repository.RelUserGroups, tx.Group)
	})
}

// UserAliases returns the other names a user was reported under
func (s *GraphService) UserAliases(ctx context.Context, id int64) ([]string, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]string, error) {
		if _, err := tx.User(ctx, id); err != nil {
			return nil, err
		}
		aliases, err := tx.UserAliases(ctx, id)
		if aliases == nil {
			aliases = []string{}
		}
		return aliases, err
	})
}

// ListGroups returns every group
func (s *GraphService) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Group, error) {
		return tx.ListGroups(ctx)
	})
}

// GroupUsers returns a group's members
func (s *GraphService) GroupUsers(ctx context.Context, id int64) ([]domain.User, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.User, error) {
		return related(ctx, tx, domain.NewHandle(domain.KindGroup, id), repository.RelGroupUsers, tx.User)
	})
}

// ListCredentials returns every credential. It also feeds the SSH login
// probe.
func (s *GraphService) ListCredentials(ctx context.Context) ([]domain.Credential, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Credential, error) {
		return tx.ListCredentials(ctx)
	})
}

// Notes returns owner's notes with Interest <= maxInterest, most important
// first. A negative maxInterest returns every note.
func (s *GraphService) Notes(ctx context.Context, owner domain.Handle, maxInterest int) ([]domain.Note, error) {
	if !owner.Kind.NoteOwner() {
		return nil, fmt.Errorf("%w: %s entities have no notes", domain.ErrInvalidObservation, owner.Kind)
	}
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Note, error) {
		if err := exists(ctx, tx, owner); err != nil {
			return nil, err
		}
		return s.notes.List(ctx, tx, owner, maxInterest)
	})
}

// Jobs returns the jobs with the given status, every job when status is
// empty
func (s *GraphService) Jobs(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	return view(ctx, s.graph, func(tx repository.Tx) ([]domain.Job, error) {
		return tx.ListJobs(ctx, status)
	})
}

// Snapshot copies the whole graph in one transaction
func (s *GraphService) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	return view(ctx, s.graph, func(tx repository.Tx) (*domain.Snapshot, error) {
		snap := &domain.Snapshot{GeneratedAt: time.Now().UTC()}
		var err error
		if snap.Machines, err = tx.ListMachines(ctx); err != nil {
			return nil, err
		}
		if snap.Domains, err = tx.ListDomains(ctx); err != nil {
			return nil, err
		}
		if snap.Services, err = tx.ListServices(ctx); err != nil {
			return nil, err
		}
		if snap.Users, err = tx.ListUsers(ctx); err != nil {
			return nil, err
		}
		if snap.Groups, err = tx.ListGroups(ctx); err != nil {
			return nil, err
		}
		if snap.Credentials, err = tx.ListCredentials(ctx); err != nil {
			return nil, err
		}
		if snap.Notes, err = tx.ListAllNotes(ctx); err != nil {
			return nil, err
		}

		for _, u := range snap.Users {
			aliases, err := tx.UserAliases(ctx, u.ID)
			if err != nil {
				return nil, err
			}
			if len(aliases) > 0 {
				if snap.Aliases == nil {
					snap.Aliases = make(map[int64][]string)
				}
				snap.Aliases[u.ID] = aliases
			}
		}

		owners := map[domain.Kind][]domain.Handle{}
		for _, m := range snap.Machines {
			owners[domain.KindMachine] = append(owners[domain.KindMachine], m.Handle())
		}
		for _, d := range snap.Domains {
			owners[domain.KindDomain] = append(owners[domain.KindDomain], d.Handle())
		}
		for _, sv := range snap.Services {
			owners[domain.KindService] = append(owners[domain.KindService], sv.Handle())
		}
		for _, u := range snap.Users {
			owners[domain.KindUser] = append(owners[domain.KindUser], u.Handle())
		}
		for _, g := range snap.Groups {
			owners[domain.KindGroup] = append(owners[domain.KindGroup], g.Handle())
		}
		for _, c := range snap.Credentials {
			owners[domain.KindCredential] = append(owners[domain.KindCredential], c.Handle())
		}

		for _, rel := range repository.Relations {
			for _, owner := range owners[rel.Owner()] {
				targets, err := tx.ListEdges(ctx, owner, rel)
				if err != nil {
					return nil, err
				}
				for _, target := range targets {
					snap.Edges = append(snap.Edges, domain.Edge{Owner: owner, Relation: string(rel), Target: target})
				}
			}
		}
		return snap, nil
	})
}

// Export writes a snapshot of the graph in format
func (s *GraphService) Export(ctx context.Context, format string, w io.Writer) error {
	exporter, err := codec.ExporterFor(format)
	if err != nil {
		return err
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot graph: %w", err)
	}
	s.logger.Debug("exporting graph",
		zap.String("format", format),
		zap.Int("machines", len(snap.Machines)),
		zap.Int("edges", len(snap.Edges)))
	return exporter.Export(snap, w)
}
