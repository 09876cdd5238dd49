package domain

// Observation is a single fact reported by a probe
type Observation interface {
	ObservedKind() Kind
}

// MachineObservation reports a host and, optionally, what runs on it
type MachineObservation struct {
	IP     string `json:"ip" yaml:"ip" validate:"required,ip"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	Domains  []*DomainObservation  `json:"domains,omitempty" yaml:"domains,omitempty" validate:"-"`
	Services []*ServiceObservation `json:"services,omitempty" yaml:"services,omitempty" validate:"-"`
	Users    []*UserObservation    `json:"users,omitempty" yaml:"users,omitempty" validate:"-"`
	Groups   []*GroupObservation   `json:"groups,omitempty" yaml:"groups,omitempty" validate:"-"`
}

// DomainObservation reports a DNS name and the machines it points at
type DomainObservation struct {
	Name   string `json:"name" yaml:"name" validate:"required,max=253"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	Machines []*MachineObservation `json:"machines,omitempty" yaml:"machines,omitempty" validate:"-"`
	Notes    []*NoteObservation    `json:"notes,omitempty" yaml:"notes,omitempty" validate:"-"`
}

// ServiceObservation reports a port on a machine.
// Machine may be nil when the observation is nested under a machine.
type ServiceObservation struct {
	Machine *MachineObservation `json:"machine,omitempty" yaml:"machine,omitempty" validate:"-"`
	Port    int                 `json:"port" yaml:"port" validate:"min=1,max=65535"`

	Protocol *string     `json:"protocol,omitempty" yaml:"protocol,omitempty" validate:"omitempty,max=16"`
	Name     *string     `json:"name,omitempty" yaml:"name,omitempty" validate:"omitempty,max=128"`
	Product  *string     `json:"product,omitempty" yaml:"product,omitempty" validate:"omitempty,max=256"`
	Version  *string     `json:"version,omitempty" yaml:"version,omitempty" validate:"omitempty,max=128"`
	Status   *string     `json:"status,omitempty" yaml:"status,omitempty" validate:"omitempty,max=32"`
	Kind     ServiceKind `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=plain http"`
	URL      *string     `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	Source   string      `json:"source,omitempty" yaml:"source,omitempty"`

	Notes       []*NoteObservation       `json:"notes,omitempty" yaml:"notes,omitempty" validate:"-"`
	Credentials []*CredentialObservation `json:"credentials,omitempty" yaml:"credentials,omitempty" validate:"-"`
}

// UserObservation reports an account. Two observations with different
// names that share a credential username describe the same user.
type UserObservation struct {
	Name    string              `json:"name" yaml:"name" validate:"required,max=256"`
	Machine *MachineObservation `json:"machine,omitempty" yaml:"machine,omitempty" validate:"-"`
	SMBRID  *string             `json:"smb_rid,omitempty" yaml:"smb_rid,omitempty" validate:"omitempty,max=32"`
	Source  string              `json:"source,omitempty" yaml:"source,omitempty"`

	Groups      []*GroupObservation      `json:"groups,omitempty" yaml:"groups,omitempty" validate:"-"`
	Credentials []*CredentialObservation `json:"credentials,omitempty" yaml:"credentials,omitempty" validate:"-"`
	Notes       []*NoteObservation       `json:"notes,omitempty" yaml:"notes,omitempty" validate:"-"`
}

// GroupObservation reports a group and its members
type GroupObservation struct {
	Name    string              `json:"name" yaml:"name" validate:"required,max=256"`
	Machine *MachineObservation `json:"machine,omitempty" yaml:"machine,omitempty" validate:"-"`
	SMBRID  *string             `json:"smb_rid,omitempty" yaml:"smb_rid,omitempty" validate:"omitempty,max=32"`
	Source  string              `json:"source,omitempty" yaml:"source,omitempty"`

	Users []*UserObservation `json:"users,omitempty" yaml:"users,omitempty" validate:"-"`
	Notes []*NoteObservation `json:"notes,omitempty" yaml:"notes,omitempty" validate:"-"`
}

// CredentialObservation reports a username and optionally its password
type CredentialObservation struct {
	Username   string  `json:"username" yaml:"username" validate:"required,max=256"`
	Password   *string `json:"password,omitempty" yaml:"password,omitempty"`
	Confidence *int    `json:"confidence,omitempty" yaml:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
	Source     string  `json:"source,omitempty" yaml:"source,omitempty"`
}

// NoteObservation reports a titled annotation
type NoteObservation struct {
	Title      string `json:"title" yaml:"title" validate:"required,max=256"`
	Content    string `json:"content" yaml:"content"`
	Interest   int    `json:"interest" yaml:"interest" validate:"min=0"`
	Source     string `json:"source,omitempty" yaml:"source,omitempty"`
	Confidence *int   `json:"confidence,omitempty" yaml:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
}

func (*MachineObservation) ObservedKind() Kind    { return KindMachine }
func (*DomainObservation) ObservedKind() Kind     { return KindDomain }
func (*ServiceObservation) ObservedKind() Kind    { return KindService }
func (*UserObservation) ObservedKind() Kind       { return KindUser }
func (*GroupObservation) ObservedKind() Kind      { return KindGroup }
func (*CredentialObservation) ObservedKind() Kind { return KindCredential }
func (*NoteObservation) ObservedKind() Kind       { return KindNote }

// CredentialUsernames returns the usernames of the user's credentials
func (o *UserObservation) CredentialUsernames() []string {
	names := make([]string, 0, len(o.Credentials))
	for _, c := range o.Credentials {
		if c != nil && c.Username != "" {
			names = append(names, c.Username)
		}
	}
	return names
}

// String returns a pointer to s, for optional observation fields
func String(s string) *string {
	return &s
}

// Int returns a pointer to v, for optional observation fields
func Int(v int) *int {
	return &v
}

// Deref returns the pointed-to string or "" for nil
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
