package domain

import "fmt"

// Kind identifies the entity type a handle or observation refers to
type Kind string

const (
	KindMachine    Kind = "machine"
	KindDomain     Kind = "domain"
	KindService    Kind = "service"
	KindUser       Kind = "user"
	KindGroup      Kind = "group"
	KindCredential Kind = "credential"
	KindNote       Kind = "note"
)

// Valid reports whether k is a known entity kind
func (k Kind) Valid() bool {
	switch k {
	case KindMachine, KindDomain, KindService, KindUser, KindGroup, KindCredential, KindNote:
		return true
	}
	return false
}

// NoteOwner reports whether entities of this kind can own notes
func (k Kind) NoteOwner() bool {
	switch k {
	case KindService, KindDomain, KindUser, KindGroup:
		return true
	}
	return false
}

// Handle addresses a stored entity
type Handle struct {
	Kind Kind  `json:"kind" yaml:"kind"`
	ID   int64 `json:"id" yaml:"id"`
}

// NewHandle creates a handle
func NewHandle(kind Kind, id int64) Handle {
	return Handle{Kind: kind, ID: id}
}

// IsZero reports whether the handle points at nothing
func (h Handle) IsZero() bool {
	return h.ID == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.Kind, h.ID)
}
