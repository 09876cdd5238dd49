package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		obs     Observation
		wantErr bool
	}{
		{"valid machine", &MachineObservation{IP: "10.0.0.1"}, false},
		{"valid ipv6 machine", &MachineObservation{IP: "fe80::1"}, false},
		{"machine without ip", &MachineObservation{}, true},
		{"machine with hostname as ip", &MachineObservation{IP: "example.com"}, true},
		{"valid service", &ServiceObservation{Port: 80, Kind: ServiceKindHTTP, URL: String("http://10.0.0.1/")}, false},
		{"service port zero", &ServiceObservation{Port: 0}, true},
		{"service port too large", &ServiceObservation{Port: 70000}, true},
		{"service bad kind", &ServiceObservation{Port: 22, Kind: "smtp"}, true},
		{"credential confidence too high", &CredentialObservation{Username: "bob", Confidence: Int(101)}, true},
		{"credential without confidence", &CredentialObservation{Username: "bob"}, false},
		{"note without title", &NoteObservation{Content: "x"}, true},
		{"note negative interest", &NoteObservation{Title: "t", Interest: -1}, true},
		{"user without name", &UserObservation{}, true},
		{"valid domain", &DomainObservation{Name: "Example.COM."}, false},
		{"domain root only", &DomainObservation{Name: "."}, true},
		{"domain blank", &DomainObservation{Name: "   "}, true},
		{"nil observation", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.obs)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidObservation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateIgnoresCycles(t *testing.T) {
	group := &GroupObservation{Name: "admins"}
	user := &UserObservation{Name: "bob", Groups: []*GroupObservation{group}}
	group.Users = []*UserObservation{user}

	assert.NoError(t, Validate(group))
	assert.NoError(t, Validate(user))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "10.0.0.1", NormalizeIP(" 10.0.0.1 "))
	assert.Equal(t, "10.0.0.1", NormalizeIP("::ffff:10.0.0.1"))
	assert.Equal(t, "not-an-ip", NormalizeIP("not-an-ip"))
	assert.Equal(t, "www.example.com", NormalizeDomainName("WWW.Example.COM."))
	assert.True(t, IsIP("192.168.1.1"))
	assert.False(t, IsIP("host.local"))
}

func TestUserCredentialUsernames(t *testing.T) {
	obs := &UserObservation{
		Name: "robert",
		Credentials: []*CredentialObservation{
			{Username: "bob"},
			nil,
			{Username: ""},
			{Username: "rob"},
		},
	}
	assert.Equal(t, []string{"bob", "rob"}, obs.CredentialUsernames())
}
