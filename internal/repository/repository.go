package repository

import (
	"context"
	"errors"
	"time"

	"cartograph/internal/domain"
)

// ErrConflict reports a uniqueness violation. The transaction was rolled back
// and can be retried.
var ErrConflict = errors.New("uniqueness conflict")

// Relation names a typed edge set owned by an entity
type Relation string

const (
	RelMachineDomains     Relation = "machine.domains"
	RelMachineServices    Relation = "machine.services"
	RelMachineUsers       Relation = "machine.users"
	RelMachineGroups      Relation = "machine.groups"
	RelDomainMachines     Relation = "domain.machines"
	RelUserGroups         Relation = "user.groups"
	RelUserCredentials    Relation = "user.credentials"
	RelGroupUsers         Relation = "group.users"
	RelServiceCredentials Relation = "service.credentials"
	RelCredentialServices Relation = "credential.services"
)

// Relations lists every relation the graph supports
var Relations = []Relation{
	RelMachineDomains, RelMachineServices, RelMachineUsers, RelMachineGroups,
	RelDomainMachines, RelUserGroups, RelUserCredentials, RelGroupUsers,
	RelServiceCredentials, RelCredentialServices,
}

// Graph is the keyed store of entities and edges
type Graph interface {
	// Update runs fn in a read-write transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction
	View(ctx context.Context, fn func(tx Tx) error) error

	// Close releases resources
	Close() error
}

// Tx is the per-transaction view of the graph
type Tx interface {
	// Identity lookups, (nil, nil) on a miss
	MachineByIP(ctx context.Context, ip string) (*domain.Machine, error)
	DomainByName(ctx context.Context, name string) (*domain.Domain, error)
	ServiceByPort(ctx context.Context, machineID int64, port int) (*domain.Service, error)
	GroupByName(ctx context.Context, name string) (*domain.Group, error)
	// UsersByKeys returns users whose name, alias or credential username is
	// one of keys, ordered by id
	UsersByKeys(ctx context.Context, keys []string) ([]domain.User, error)
	CredentialsByUsername(ctx context.Context, username string) ([]domain.Credential, error)
	NoteByTitle(ctx context.Context, owner domain.Handle, title string) (*domain.Note, error)

	// Lookups by id, domain.ErrNotFound on a miss
	Machine(ctx context.Context, id int64) (*domain.Machine, error)
	Domain(ctx context.Context, id int64) (*domain.Domain, error)
	Service(ctx context.Context, id int64) (*domain.Service, error)
	User(ctx context.Context, id int64) (*domain.User, error)
	Group(ctx context.Context, id int64) (*domain.Group, error)
	Credential(ctx context.Context, id int64) (*domain.Credential, error)

	// Create stores a new entity and sets its ID
	CreateMachine(ctx context.Context, m *domain.Machine) error
	CreateDomain(ctx context.Context, d *domain.Domain) error
	CreateService(ctx context.Context, s *domain.Service) error
	CreateUser(ctx context.Context, u *domain.User) error
	CreateGroup(ctx context.Context, g *domain.Group) error
	CreateCredential(ctx context.Context, c *domain.Credential) error
	CreateNote(ctx context.Context, n *domain.Note) error

	// Update overwrites the mutable attributes of an existing entity
	UpdateService(ctx context.Context, s *domain.Service) error
	UpdateUser(ctx context.Context, u *domain.User) error
	UpdateGroup(ctx context.Context, g *domain.Group) error
	UpdateCredential(ctx context.Context, c *domain.Credential) error

	// AddEdge links owner to target through rel. It reports whether a new
	// edge was created; adding an existing edge is a no-op.
	AddEdge(ctx context.Context, owner domain.Handle, rel Relation, target domain.Handle) (bool, error)
	// ListEdges returns the targets of owner's rel edges, ordered by id
	ListEdges(ctx context.Context, owner domain.Handle, rel Relation) ([]domain.Handle, error)

	AddUserAlias(ctx context.Context, userID int64, name string) error
	UserAliases(ctx context.Context, userID int64) ([]string, error)

	// ListNotes returns owner's notes with Interest <= maxInterest, ordered
	// by interest then id. A negative maxInterest returns every note.
	ListNotes(ctx context.Context, owner domain.Handle, maxInterest int) ([]domain.Note, error)

	// Listing for the reporting layer
	ListMachines(ctx context.Context) ([]domain.Machine, error)
	ListDomains(ctx context.Context) ([]domain.Domain, error)
	ListServices(ctx context.Context) ([]domain.Service, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)
	ListCredentials(ctx context.Context) ([]domain.Credential, error)
	ListAllNotes(ctx context.Context) ([]domain.Note, error)

	// Job records
	CreateJob(ctx context.Context, job *domain.Job) error
	FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string, at time.Time) error
	ListJobs(ctx context.Context, status domain.JobStatus) ([]domain.Job, error)
}

// Owner returns the entity kind that owns rel
func (r Relation) Owner() domain.Kind {
	switch r {
	case RelMachineDomains, RelMachineServices, RelMachineUsers, RelMachineGroups:
		return domain.KindMachine
	case RelDomainMachines:
		return domain.KindDomain
	case RelUserGroups, RelUserCredentials:
		return domain.KindUser
	case RelGroupUsers:
		return domain.KindGroup
	case RelServiceCredentials:
		return domain.KindService
	case RelCredentialServices:
		return domain.KindCredential
	}
	return ""
}

// Target returns the entity kind rel points at
func (r Relation) Target() domain.Kind {
	switch r {
	case RelMachineDomains:
		return domain.KindDomain
	case RelMachineServices:
		return domain.KindService
	case RelMachineUsers, RelGroupUsers:
		return domain.KindUser
	case RelMachineGroups, RelUserGroups:
		return domain.KindGroup
	case RelDomainMachines:
		return domain.KindMachine
	case RelUserCredentials, RelServiceCredentials:
		return domain.KindCredential
	case RelCredentialServices:
		return domain.KindService
	}
	return ""
}
