package domain

// User is a directory-service or local account.
// MachineID is the home scope, zero when unknown.
type User struct {
	ID        int64  `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	MachineID int64  `json:"machine_id,omitempty" yaml:"machine_id,omitempty"`
	SMBRID    string `json:"smb_rid,omitempty" yaml:"smb_rid,omitempty"`
}

// Handle returns the user's handle
func (u User) Handle() Handle {
	return NewHandle(KindUser, u.ID)
}

// Group is a set of users. Identity is the name alone; MachineID is the
// machine the group was first or last reported on.
type Group struct {
	ID        int64  `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	MachineID int64  `json:"machine_id,omitempty" yaml:"machine_id,omitempty"`
	SMBRID    string `json:"smb_rid,omitempty" yaml:"smb_rid,omitempty"`
}

// Handle returns the group's handle
func (g Group) Handle() Handle {
	return NewHandle(KindGroup, g.ID)
}
