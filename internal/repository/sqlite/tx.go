package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cartograph/internal/domain"
	"cartograph/internal/repository"
)

// tx implements repository.Tx on top of a single sql.Tx
type tx struct {
	tx *sql.Tx
}

var _ repository.Tx = (*tx)(nil)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// ============================================================================
// Row Scanners
// ============================================================================
//
// Column order must match between the *Columns constants and the scan
// functions below.

const (
	machineColumns    = `id, ip`
	domainColumns     = `id, name`
	serviceColumns    = `id, machine_id, port, protocol, name, product, version, status, kind, url`
	accountColumns    = `id, name, machine_id, smb_rid`
	credentialColumns = `id, username, password, confidence, user_id`
	noteColumns       = `id, owner_type, owner_id, title, content, interest, source, confidence`
	jobColumns        = `id, name, status, error, started_at, finished_at`
)

func scanMachine(s rowScanner) (*domain.Machine, error) {
	var m domain.Machine
	if err := s.Scan(&m.ID, &m.IP); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanDomain(s rowScanner) (*domain.Domain, error) {
	var d domain.Domain
	if err := s.Scan(&d.ID, &d.Name); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanService(s rowScanner) (*domain.Service, error) {
	var (
		svc                                              domain.Service
		protocol, name, product, version, status, svcURL sql.NullString
		kind                                             string
	)
	if err := s.Scan(&svc.ID, &svc.MachineID, &svc.Port, &protocol, &name, &product, &version, &status, &kind, &svcURL); err != nil {
		return nil, err
	}
	svc.Protocol = nullToString(protocol)
	svc.Name = nullToString(name)
	svc.Product = nullToString(product)
	svc.Version = nullToString(version)
	svc.Status = domain.ServiceStatus(nullToString(status))
	svc.Kind = domain.ServiceKind(kind)
	if svc.Kind == domain.ServiceKindHTTP {
		svc.HTTP = &domain.HTTPDetails{URL: nullToString(svcURL)}
	}
	return &svc, nil
}

// scanAccount scans the shared user/group column set
func scanAccount(s rowScanner) (id int64, name string, machineID int64, smbRID string, err error) {
	var (
		machine sql.NullInt64
		rid     sql.NullString
	)
	if err = s.Scan(&id, &name, &machine, &rid); err != nil {
		return
	}
	return id, name, nullToID(machine), nullToString(rid), nil
}

func scanUser(s rowScanner) (*domain.User, error) {
	id, name, machineID, rid, err := scanAccount(s)
	if err != nil {
		return nil, err
	}
	return &domain.User{ID: id, Name: name, MachineID: machineID, SMBRID: rid}, nil
}

func scanGroup(s rowScanner) (*domain.Group, error) {
	id, name, machineID, rid, err := scanAccount(s)
	if err != nil {
		return nil, err
	}
	return &domain.Group{ID: id, Name: name, MachineID: machineID, SMBRID: rid}, nil
}

func scanCredential(s rowScanner) (*domain.Credential, error) {
	var (
		c        domain.Credential
		password sql.NullString
		userID   sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.Username, &password, &c.Confidence, &userID); err != nil {
		return nil, err
	}
	c.Password = nullToStringPtr(password)
	c.UserID = nullToID(userID)
	return &c, nil
}

func scanNote(s rowScanner) (*domain.Note, error) {
	var (
		n          domain.Note
		ownerType  string
		source     sql.NullString
		confidence sql.NullInt64
	)
	if err := s.Scan(&n.ID, &ownerType, &n.Owner.ID, &n.Title, &n.Content, &n.Interest, &source, &confidence); err != nil {
		return nil, err
	}
	n.Owner.Kind = domain.Kind(ownerType)
	n.Source = nullToString(source)
	n.Confidence = int(nullToID(confidence))
	return &n, nil
}

func scanJob(s rowScanner) (*domain.Job, error) {
	var (
		j                 domain.Job
		status, startedAt string
		errMsg, finished  sql.NullString
	)
	if err := s.Scan(&j.ID, &j.Name, &status, &errMsg, &startedAt, &finished); err != nil {
		return nil, err
	}
	j.Status = domain.JobStatus(status)
	j.Error = nullToString(errMsg)

	started, err := textToTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse job start time: %w", err)
	}
	j.StartedAt = started

	if j.FinishedAt, err = nullTextToTimePtr(finished); err != nil {
		return nil, fmt.Errorf("failed to parse job finish time: %w", err)
	}
	return &j, nil
}

// queryOne runs a single-row identity lookup. A missing row is (nil, nil).
func queryOne[T any](ctx context.Context, t *tx, op string, scan func(rowScanner) (*T, error), query string, args ...any) (*T, error) {
	v, err := scan(t.tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return v, nil
}

// queryAll collects every row of query
func queryAll[T any](ctx context.Context, t *tx, op string, scan func(rowScanner) (*T, error), query string, args ...any) ([]T, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

// getByID runs a by-id lookup, domain.ErrNotFound on a miss
func getByID[T any](ctx context.Context, t *tx, kind domain.Kind, scan func(rowScanner) (*T, error), query string, id int64) (*T, error) {
	v, err := scan(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(kind, id, err)
	}
	return v, nil
}

// insert runs an INSERT and returns the new row id
func (t *tx) insert(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr(op, err)
	}
	return id, nil
}

// exec runs a statement that must touch an existing row
func (t *tx) exec(ctx context.Context, kind domain.Kind, id int64, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr("update "+string(kind), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update "+string(kind), err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

// ============================================================================
// Identity Lookups
// ============================================================================

func (t *tx) MachineByIP(ctx context.Context, ip string) (*domain.Machine, error) {
	return queryOne(ctx, t, "get machine by ip", scanMachine,
		`SELECT `+machineColumns+` FROM machine WHERE ip = ?`, ip)
}

func (t *tx) DomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	return queryOne(ctx, t, "get domain by name", scanDomain,
		`SELECT `+domainColumns+` FROM domain WHERE name = ?`, name)
}

func (t *tx) ServiceByPort(ctx context.Context, machineID int64, port int) (*domain.Service, error) {
	return queryOne(ctx, t, "get service by port", scanService,
		`SELECT `+serviceColumns+` FROM service WHERE machine_id = ? AND port = ?`, machineID, port)
}

func (t *tx) GroupByName(ctx context.Context, name string) (*domain.Group, error) {
	return queryOne(ctx, t, "get group by name", scanGroup,
		`SELECT `+accountColumns+` FROM "group" WHERE name = ?`, name)
}

func (t *tx) UsersByKeys(ctx context.Context, keys []string) ([]domain.User, error) {
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return nil, nil
	}

	params := numberedParams(1, len(keys))
	query := `SELECT ` + accountColumns + ` FROM "user"
		WHERE name IN (` + params + `)
		   OR id IN (SELECT user_id FROM user_alias WHERE name IN (` + params + `))
		   OR id IN (SELECT user_id FROM credential WHERE user_id IS NOT NULL AND username IN (` + params + `))
		ORDER BY id`
	return queryAll(ctx, t, "get users by keys", scanUser, query, toArgs(keys)...)
}

func (t *tx) CredentialsByUsername(ctx context.Context, username string) ([]domain.Credential, error) {
	return queryAll(ctx, t, "get credentials by username", scanCredential,
		`SELECT `+credentialColumns+` FROM credential WHERE username = ? ORDER BY id`, username)
}

func (t *tx) NoteByTitle(ctx context.Context, owner domain.Handle, title string) (*domain.Note, error) {
	return queryOne(ctx, t, "get note by title", scanNote,
		`SELECT `+noteColumns+` FROM note WHERE owner_type = ? AND owner_id = ? AND title = ?`,
		string(owner.Kind), owner.ID, title)
}

// ============================================================================
// Lookups by ID
// ============================================================================

func (t *tx) Machine(ctx context.Context, id int64) (*domain.Machine, error) {
	return getByID(ctx, t, domain.KindMachine, scanMachine, `SELECT `+machineColumns+` FROM machine WHERE id = ?`, id)
}

func (t *tx) Domain(ctx context.Context, id int64) (*domain.Domain, error) {
	return getByID(ctx, t, domain.KindDomain, scanDomain, `SELECT `+domainColumns+` FROM domain WHERE id = ?`, id)
}

func (t *tx) Service(ctx context.Context, id int64) (*domain.Service, error) {
	return getByID(ctx, t, domain.KindService, scanService, `SELECT `+serviceColumns+` FROM service WHERE id = ?`, id)
}

func (t *tx) User(ctx context.Context, id int64) (*domain.User, error) {
	return getByID(ctx, t, domain.KindUser, scanUser, `SELECT `+accountColumns+` FROM "user" WHERE id = ?`, id)
}

func (t *tx) Group(ctx context.Context, id int64) (*domain.Group, error) {
	return getByID(ctx, t, domain.KindGroup, scanGroup, `SELECT `+accountColumns+` FROM "group" WHERE id = ?`, id)
}

func (t *tx) Credential(ctx context.Context, id int64) (*domain.Credential, error) {
	return getByID(ctx, t, domain.KindCredential, scanCredential, `SELECT `+credentialColumns+` FROM credential WHERE id = ?`, id)
}

// ============================================================================
// Create
// ============================================================================

func (t *tx) CreateMachine(ctx context.Context, m *domain.Machine) error {
	id, err := t.insert(ctx, "create machine", `INSERT INTO machine (ip) VALUES (?)`, m.IP)
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

func (t *tx) CreateDomain(ctx context.Context, d *domain.Domain) error {
	id, err := t.insert(ctx, "create domain", `INSERT INTO domain (name) VALUES (?)`, d.Name)
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

func (t *tx) CreateService(ctx context.Context, s *domain.Service) error {
	id, err := t.insert(ctx, "create service", `
		INSERT INTO service (machine_id, port, protocol, name, product, version, status, kind, url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.MachineID, s.Port, stringToNull(s.Protocol), stringToNull(s.Name), stringToNull(s.Product),
		stringToNull(s.Version), stringToNull(string(s.Status)), string(serviceKind(s)), stringToNull(serviceURL(s)))
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func (t *tx) CreateUser(ctx context.Context, u *domain.User) error {
	id, err := t.insert(ctx, "create user", `INSERT INTO "user" (name, machine_id, smb_rid) VALUES (?, ?, ?)`,
		u.Name, idToNull(u.MachineID), stringToNull(u.SMBRID))
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (t *tx) CreateGroup(ctx context.Context, g *domain.Group) error {
	id, err := t.insert(ctx, "create group", `INSERT INTO "group" (name, machine_id, smb_rid) VALUES (?, ?, ?)`,
		g.Name, idToNull(g.MachineID), stringToNull(g.SMBRID))
	if err != nil {
		return err
	}
	g.ID = id
	return nil
}

func (t *tx) CreateCredential(ctx context.Context, c *domain.Credential) error {
	id, err := t.insert(ctx, "create credential", `INSERT INTO credential (username, password, confidence, user_id) VALUES (?, ?, ?, ?)`,
		c.Username, stringPtrToNull(c.Password), c.Confidence, idToNull(c.UserID))
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (t *tx) CreateNote(ctx context.Context, n *domain.Note) error {
	id, err := t.insert(ctx, "create note", `
		INSERT INTO note (owner_type, owner_id, title, content, interest, source, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(n.Owner.Kind), n.Owner.ID, n.Title, n.Content, n.Interest, stringToNull(n.Source), n.Confidence)
	if err != nil {
		return err
	}
	n.ID = id
	return nil
}

func serviceKind(s *domain.Service) domain.ServiceKind {
	if s.Kind == "" {
		return domain.ServiceKindPlain
	}
	return s.Kind
}

func serviceURL(s *domain.Service) string {
	if s.HTTP == nil {
		return ""
	}
	return s.HTTP.URL
}

// ============================================================================
// Update
// ============================================================================

func (t *tx) UpdateService(ctx context.Context, s *domain.Service) error {
	return t.exec(ctx, domain.KindService, s.ID, `
		UPDATE service SET protocol = ?, name = ?, product = ?, version = ?, status = ?, kind = ?, url = ?
		WHERE id = ?`,
		stringToNull(s.Protocol), stringToNull(s.Name), stringToNull(s.Product), stringToNull(s.Version),
		stringToNull(string(s.Status)), string(serviceKind(s)), stringToNull(serviceURL(s)), s.ID)
}

func (t *tx) UpdateUser(ctx context.Context, u *domain.User) error {
	return t.exec(ctx, domain.KindUser, u.ID, `UPDATE "user" SET machine_id = ?, smb_rid = ? WHERE id = ?`,
		idToNull(u.MachineID), stringToNull(u.SMBRID), u.ID)
}

func (t *tx) UpdateGroup(ctx context.Context, g *domain.Group) error {
	return t.exec(ctx, domain.KindGroup, g.ID, `UPDATE "group" SET machine_id = ?, smb_rid = ? WHERE id = ?`,
		idToNull(g.MachineID), stringToNull(g.SMBRID), g.ID)
}

func (t *tx) UpdateCredential(ctx context.Context, c *domain.Credential) error {
	return t.exec(ctx, domain.KindCredential, c.ID, `UPDATE credential SET password = ?, confidence = ?, user_id = ? WHERE id = ?`,
		stringPtrToNull(c.Password), c.Confidence, idToNull(c.UserID), c.ID)
}

// ============================================================================
// Edges
// ============================================================================

// edgeSpec holds the statements for one relation. add takes ?1 = owner id
// and ?2 = target id and changes no row when the edge exists. list takes the
// owner id.
type edgeSpec struct {
	add  string
	list string
}

var edgeSpecs = map[repository.Relation]edgeSpec{
	repository.RelMachineDomains: {
		add:  `INSERT OR IGNORE INTO domain_machine (domain_id, machine_id) VALUES (?2, ?1)`,
		list: `SELECT domain_id FROM domain_machine WHERE machine_id = ? ORDER BY domain_id`,
	},
	repository.RelDomainMachines: {
		add:  `INSERT OR IGNORE INTO domain_machine (domain_id, machine_id) VALUES (?1, ?2)`,
		list: `SELECT machine_id FROM domain_machine WHERE domain_id = ? ORDER BY machine_id`,
	},
	repository.RelUserGroups: {
		add:  `INSERT OR IGNORE INTO user_group (user_id, group_id) VALUES (?1, ?2)`,
		list: `SELECT group_id FROM user_group WHERE user_id = ? ORDER BY group_id`,
	},
	repository.RelGroupUsers: {
		add:  `INSERT OR IGNORE INTO user_group (user_id, group_id) VALUES (?2, ?1)`,
		list: `SELECT user_id FROM user_group WHERE group_id = ? ORDER BY user_id`,
	},
	repository.RelServiceCredentials: {
		add:  `INSERT OR IGNORE INTO service_credential (service_id, credential_id) VALUES (?1, ?2)`,
		list: `SELECT credential_id FROM service_credential WHERE service_id = ? ORDER BY credential_id`,
	},
	repository.RelCredentialServices: {
		add:  `INSERT OR IGNORE INTO service_credential (service_id, credential_id) VALUES (?2, ?1)`,
		list: `SELECT service_id FROM service_credential WHERE credential_id = ? ORDER BY service_id`,
	},
	// One-to-many relations are foreign keys on the target row
	repository.RelMachineServices: {
		add:  `UPDATE service SET machine_id = ?1 WHERE id = ?2 AND machine_id IS NOT ?1`,
		list: `SELECT id FROM service WHERE machine_id = ? ORDER BY id`,
	},
	repository.RelMachineUsers: {
		add:  `UPDATE "user" SET machine_id = ?1 WHERE id = ?2 AND machine_id IS NOT ?1`,
		list: `SELECT id FROM "user" WHERE machine_id = ? ORDER BY id`,
	},
	repository.RelMachineGroups: {
		add:  `UPDATE "group" SET machine_id = ?1 WHERE id = ?2 AND machine_id IS NOT ?1`,
		list: `SELECT id FROM "group" WHERE machine_id = ? ORDER BY id`,
	},
	repository.RelUserCredentials: {
		add:  `UPDATE credential SET user_id = ?1 WHERE id = ?2 AND user_id IS NOT ?1`,
		list: `SELECT id FROM credential WHERE user_id = ? ORDER BY id`,
	},
}

func (t *tx) edgeSpec(owner domain.Handle, rel repository.Relation) (edgeSpec, error) {
	spec, ok := edgeSpecs[rel]
	if !ok {
		return edgeSpec{}, fmt.Errorf("unknown relation %q", rel)
	}
	if owner.Kind != rel.Owner() {
		return edgeSpec{}, fmt.Errorf("relation %s cannot be owned by %s", rel, owner)
	}
	return spec, nil
}

func (t *tx) AddEdge(ctx context.Context, owner domain.Handle, rel repository.Relation, target domain.Handle) (bool, error) {
	spec, err := t.edgeSpec(owner, rel)
	if err != nil {
		return false, err
	}
	if target.Kind != rel.Target() {
		return false, fmt.Errorf("relation %s cannot point at %s", rel, target)
	}

	res, err := t.tx.ExecContext(ctx, spec.add, owner.ID, target.ID)
	if err != nil {
		return false, wrapErr("add edge "+string(rel), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("add edge "+string(rel), err)
	}
	return n > 0, nil
}

func (t *tx) ListEdges(ctx context.Context, owner domain.Handle, rel repository.Relation) ([]domain.Handle, error) {
	spec, err := t.edgeSpec(owner, rel)
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx, spec.list, owner.ID)
	if err != nil {
		return nil, wrapErr("list edges "+string(rel), err)
	}
	defer rows.Close()

	var out []domain.Handle
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("list edges "+string(rel), err)
		}
		out = append(out, domain.NewHandle(rel.Target(), id))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list edges "+string(rel), err)
	}
	return out, nil
}

// ============================================================================
// Aliases and Notes
// ============================================================================

func (t *tx) AddUserAlias(ctx context.Context, userID int64, name string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_alias (user_id, name) VALUES (?, ?)`, userID, name)
	return wrapErr("add user alias", err)
}

func (t *tx) UserAliases(ctx context.Context, userID int64) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT name FROM user_alias WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, wrapErr("list user aliases", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr("list user aliases", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list user aliases", err)
	}
	return out, nil
}

func (t *tx) ListNotes(ctx context.Context, owner domain.Handle, maxInterest int) ([]domain.Note, error) {
	if maxInterest < 0 {
		return queryAll(ctx, t, "list notes", scanNote,
			`SELECT `+noteColumns+` FROM note WHERE owner_type = ? AND owner_id = ? ORDER BY interest, id`,
			string(owner.Kind), owner.ID)
	}
	return queryAll(ctx, t, "list notes", scanNote,
		`SELECT `+noteColumns+` FROM note WHERE owner_type = ? AND owner_id = ? AND interest <= ? ORDER BY interest, id`,
		string(owner.Kind), owner.ID, maxInterest)
}

// ============================================================================
// Listing
// ============================================================================

func (t *tx) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	return queryAll(ctx, t, "list machines", scanMachine, `SELECT `+machineColumns+` FROM machine ORDER BY id`)
}

func (t *tx) ListDomains(ctx context.Context) ([]domain.Domain, error) {
	return queryAll(ctx, t, "list domains", scanDomain, `SELECT `+domainColumns+` FROM domain ORDER BY id`)
}

func (t *tx) ListServices(ctx context.Context) ([]domain.Service, error) {
	return queryAll(ctx, t, "list services", scanService, `SELECT `+serviceColumns+` FROM service ORDER BY id`)
}

func (t *tx) ListUsers(ctx context.Context) ([]domain.User, error) {
	return queryAll(ctx, t, "list users", scanUser, `SELECT `+accountColumns+` FROM "user" ORDER BY id`)
}

func (t *tx) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return queryAll(ctx, t, "list groups", scanGroup, `SELECT `+accountColumns+` FROM "group" ORDER BY id`)
}

func (t *tx) ListCredentials(ctx context.Context) ([]domain.Credential, error) {
	return queryAll(ctx, t, "list credentials", scanCredential, `SELECT `+credentialColumns+` FROM credential ORDER BY id`)
}

func (t *tx) ListAllNotes(ctx context.Context) ([]domain.Note, error) {
	return queryAll(ctx, t, "list notes", scanNote, `SELECT `+noteColumns+` FROM note ORDER BY owner_type, owner_id, interest, id`)
}

// ============================================================================
// Jobs
// ============================================================================

func (t *tx) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO job (id, name, status, error, started_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Name, string(job.Status), stringToNull(job.Error), timeToText(job.StartedAt))
	return wrapErr("create job", err)
}

func (t *tx) FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE job SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), stringToNull(errMsg), timeToText(at), id)
	if err != nil {
		return wrapErr("finish job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("finish job", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) ListJobs(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	if status == "" {
		return queryAll(ctx, t, "list jobs", scanJob, `SELECT `+jobColumns+` FROM job ORDER BY started_at, id`)
	}
	return queryAll(ctx, t, "list jobs", scanJob,
		`SELECT `+jobColumns+` FROM job WHERE status = ? ORDER BY started_at, id`, string(status))
}
