package domain

// Confidence bounds
const (
	MinConfidence = 0
	MaxConfidence = 100
)

// Credential is a username with an optional password.
// Password is nil when only the username is known.
type Credential struct {
	ID         int64   `json:"id" yaml:"id"`
	Username   string  `json:"username" yaml:"username"`
	Password   *string `json:"password,omitempty" yaml:"password,omitempty"`
	Confidence int     `json:"confidence" yaml:"confidence"`
	UserID     int64   `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

// Handle returns the credential's handle
func (c Credential) Handle() Handle {
	return NewHandle(KindCredential, c.ID)
}

// Matches reports whether a credential with the given username and password
// is the same credential: usernames are equal and either side has no
// password or both passwords are equal.
func (c Credential) Matches(username string, password *string) bool {
	if c.Username != username {
		return false
	}
	if c.Password == nil || password == nil {
		return true
	}
	return *c.Password == *password
}

// ClampConfidence bounds a confidence score to [MinConfidence, MaxConfidence]
func ClampConfidence(v int) int {
	if v < MinConfidence {
		return MinConfidence
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}
