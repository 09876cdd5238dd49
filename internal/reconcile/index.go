package reconcile

import (
	"context"
	"fmt"

	"cartograph/internal/domain"
	"cartograph/internal/repository"
)

// Probe carries the identity fields of a candidate entity. Only the fields
// relevant to the kind being looked up are read.
type Probe struct {
	IP        string
	Name      string
	MachineID int64
	Port      int

	// Users
	CredentialUsernames []string

	// Credentials
	Username  string
	Password  *string
	UserID    int64
	ServiceID int64
}

// Index finds the canonical entity an observation refers to. A miss is
// reported as ok=false and is never an error.
type Index struct{}

// NewIndex creates an Index
func NewIndex() *Index {
	return &Index{}
}

// Find looks up the entity of the given kind matching probe
func (ix *Index) Find(ctx context.Context, tx repository.Tx, kind domain.Kind, probe Probe) (domain.Handle, bool, error) {
	switch kind {
	case domain.KindMachine:
		m, err := tx.MachineByIP(ctx, domain.NormalizeIP(probe.IP))
		if err != nil || m == nil {
			return domain.Handle{}, false, err
		}
		return m.Handle(), true, nil

	case domain.KindDomain:
		d, err := tx.DomainByName(ctx, domain.NormalizeDomainName(probe.Name))
		if err != nil || d == nil {
			return domain.Handle{}, false, err
		}
		return d.Handle(), true, nil

	case domain.KindService:
		s, err := tx.ServiceByPort(ctx, probe.MachineID, probe.Port)
		if err != nil || s == nil {
			return domain.Handle{}, false, err
		}
		return s.Handle(), true, nil

	case domain.KindGroup:
		g, err := tx.GroupByName(ctx, probe.Name)
		if err != nil || g == nil {
			return domain.Handle{}, false, err
		}
		return g.Handle(), true, nil

	case domain.KindUser:
		u, err := ix.findUser(ctx, tx, probe.Name, probe.CredentialUsernames)
		if err != nil || u == nil {
			return domain.Handle{}, false, err
		}
		return u.Handle(), true, nil

	case domain.KindCredential:
		c, err := ix.findCredential(ctx, tx, probe.Username, probe.Password, probe.UserID, probe.ServiceID)
		if err != nil || c == nil {
			return domain.Handle{}, false, err
		}
		return c.Handle(), true, nil
	}

	return domain.Handle{}, false, fmt.Errorf("no identity rule for kind %q", kind)
}

// findUser matches a user whose name, aliases or credential usernames share
// a key with {name} and the observed credential usernames. The lowest id wins.
func (ix *Index) findUser(ctx context.Context, tx repository.Tx, name string, credentialUsernames []string) (*domain.User, error) {
	keys := append([]string{name}, credentialUsernames...)
	users, err := tx.UsersByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to match user %q: %w", name, err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// findCredential matches a credential with the same username whose password
// is compatible. A credential already on the owning user wins, then one on
// the owning service, then the lowest id. A credential owned by a different
// user than userID is never matched.
func (ix *Index) findCredential(ctx context.Context, tx repository.Tx, username string, password *string, userID, serviceID int64) (*domain.Credential, error) {
	creds, err := tx.CredentialsByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to match credential %q: %w", username, err)
	}

	var candidates []domain.Credential
	for _, c := range creds {
		if !c.Matches(username, password) {
			continue
		}
		if userID != 0 && c.UserID != 0 && c.UserID != userID {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if userID != 0 {
		for i := range candidates {
			if candidates[i].UserID == userID {
				return &candidates[i], nil
			}
		}
	}

	if serviceID != 0 {
		linked, err := tx.ListEdges(ctx, domain.NewHandle(domain.KindService, serviceID), repository.RelServiceCredentials)
		if err != nil {
			return nil, fmt.Errorf("failed to list service credentials: %w", err)
		}
		onService := make(map[int64]bool, len(linked))
		for _, h := range linked {
			onService[h.ID] = true
		}
		for i := range candidates {
			if onService[candidates[i].ID] {
				return &candidates[i], nil
			}
		}
	}

	return &candidates[0], nil
}
