package adapter

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"

	"cartograph/internal/domain"
)

type staticCredentials []domain.Credential

func (s staticCredentials) ListCredentials(context.Context) ([]domain.Credential, error) {
	return s, nil
}

type failingCredentials struct{ err error }

func (f failingCredentials) ListCredentials(context.Context) ([]domain.Credential, error) {
	return nil, f.err
}

// startSSHServer serves password auth on a random local port. Only
// root/toor is accepted. It returns the port and a counter of
// authentication attempts.
func startSSHServer(t *testing.T) (int, *atomic.Int32) {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	attempts := &atomic.Int32{}
	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			attempts.Add(1)
			if c.User() == "root" && string(pass) == "toor" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	config.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, chans, reqs, err := ssh.NewServerConn(conn, config)
				if err != nil {
					return
				}
				go ssh.DiscardRequests(reqs)
				for ch := range chans {
					ch.Reject(ssh.Prohibited, "no channels")
				}
			}()
		}
	}()

	return l.Addr().(*net.TCPAddr).Port, attempts
}

func sshTarget(port int) Target {
	return ServiceTarget(domain.Machine{ID: 1, IP: "127.0.0.1"}, domain.Service{ID: 2, Port: port})
}

func TestSSHLoginProbe_Run(t *testing.T) {
	port, attempts := startSSHServer(t)

	known := staticCredentials{
		{ID: 1, Username: "admin", Password: domain.String("admin")},
		{ID: 2, Username: "root", Password: domain.String("toor")},
		{ID: 3, Username: "root"},
	}
	probe := NewSSHLoginProbe(known,
		WithSSHPorts(port),
		WithSSHTimeout(5*time.Second),
		WithExtraCredentials(domain.Credential{Username: "root", Password: domain.String("toor")}),
		WithSSHLogger(zaptest.NewLogger(t)),
	)
	sink := &recordingSink{}

	require.NoError(t, probe.Run(context.Background(), sshTarget(port), sink))

	// admin/admin and root/toor, the duplicate and the passwordless one are skipped
	assert.Equal(t, int32(2), attempts.Load())

	require.Len(t, sink.observations, 1)
	obs, ok := sink.observations[0].(*domain.ServiceObservation)
	require.True(t, ok)
	assert.Equal(t, port, obs.Port)
	require.NotNil(t, obs.Machine)
	assert.Equal(t, "127.0.0.1", obs.Machine.IP)

	require.Len(t, obs.Credentials, 1)
	cred := obs.Credentials[0]
	assert.Equal(t, "root", cred.Username)
	assert.Equal(t, "toor", domain.Deref(cred.Password))
	require.NotNil(t, cred.Confidence)
	assert.Equal(t, domain.MaxConfidence, *cred.Confidence)
}

func TestSSHLoginProbe_AllRejected(t *testing.T) {
	port, _ := startSSHServer(t)

	known := staticCredentials{{ID: 1, Username: "admin", Password: domain.String("admin")}}
	probe := NewSSHLoginProbe(known, WithSSHPorts(port), WithSSHTimeout(5*time.Second))
	sink := &recordingSink{}

	require.NoError(t, probe.Run(context.Background(), sshTarget(port), sink))
	assert.Empty(t, sink.observations)
}

func TestSSHLoginProbe_NoCandidates(t *testing.T) {
	dialed := false
	probe := NewSSHLoginProbe(staticCredentials{{ID: 1, Username: "root"}},
		WithDialFunc(func(context.Context, string, string) (net.Conn, error) {
			dialed = true
			return nil, errors.New("unexpected dial")
		}))

	require.NoError(t, probe.Run(context.Background(), sshTarget(22), &recordingSink{}))
	assert.False(t, dialed)
}

func TestSSHLoginProbe_DialError(t *testing.T) {
	refused := errors.New("connection refused")
	probe := NewSSHLoginProbe(
		staticCredentials{{ID: 1, Username: "root", Password: domain.String("toor")}},
		WithDialFunc(func(context.Context, string, string) (net.Conn, error) {
			return nil, refused
		}))
	sink := &recordingSink{}

	err := probe.Run(context.Background(), sshTarget(22), sink)
	require.ErrorIs(t, err, refused)
	assert.Empty(t, sink.observations)
}

func TestSSHLoginProbe_CredentialSourceError(t *testing.T) {
	boom := errors.New("database locked")
	probe := NewSSHLoginProbe(failingCredentials{err: boom})

	err := probe.Run(context.Background(), sshTarget(22), &recordingSink{})
	assert.ErrorIs(t, err, boom)
}

func TestSSHLoginProbe_Accepts(t *testing.T) {
	probe := NewSSHLoginProbe(nil)

	assert.Equal(t, "ssh_login", probe.Name())
	assert.True(t, probe.Accepts(sshTarget(22)))
	assert.False(t, probe.Accepts(sshTarget(2222)))
	assert.False(t, probe.Accepts(MachineTarget(domain.Machine{ID: 1, IP: "127.0.0.1"})))

	custom := NewSSHLoginProbe(nil, WithSSHPorts(22, 2222))
	assert.True(t, custom.Accepts(sshTarget(2222)))
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, isAuthFailure(&ssh.ServerAuthError{}))
	assert.True(t, isAuthFailure(errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]")))
	assert.False(t, isAuthFailure(errors.New("ssh: handshake failed: EOF")))
}
