package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"cartograph/internal/domain"
)

const sshSource = "ssh"

// CredentialSource lists the credentials known so far
type CredentialSource interface {
	ListCredentials(ctx context.Context) ([]domain.Credential, error)
}

// DialFunc opens a network connection
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SSHLoginProbe tries known username and password pairs against SSH
// services. A successful login is recorded as a credential of the service
// with full confidence.
type SSHLoginProbe struct {
	known   CredentialSource
	extra   []domain.Credential
	ports   map[int]bool
	timeout time.Duration
	dial    DialFunc
	logger  *zap.Logger
}

// SSHOption configures an SSHLoginProbe
type SSHOption func(*SSHLoginProbe)

// WithSSHPorts sets the ports treated as SSH
func WithSSHPorts(ports ...int) SSHOption {
	return func(s *SSHLoginProbe) {
		if len(ports) == 0 {
			return
		}
		s.ports = make(map[int]bool, len(ports))
		for _, p := range ports {
			s.ports[p] = true
		}
	}
}

// WithSSHTimeout bounds each connection attempt
func WithSSHTimeout(d time.Duration) SSHOption {
	return func(s *SSHLoginProbe) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithExtraCredentials adds pairs to try besides the known credentials
func WithExtraCredentials(creds ...domain.Credential) SSHOption {
	return func(s *SSHLoginProbe) {
		s.extra = append(s.extra, creds...)
	}
}

// WithDialFunc replaces the network dialer
func WithDialFunc(fn DialFunc) SSHOption {
	return func(s *SSHLoginProbe) {
		if fn != nil {
			s.dial = fn
		}
	}
}

// WithSSHLogger sets the logger
func WithSSHLogger(logger *zap.Logger) SSHOption {
	return func(s *SSHLoginProbe) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSSHLoginProbe creates an SSH login probe
func NewSSHLoginProbe(known CredentialSource, opts ...SSHOption) *SSHLoginProbe {
	s := &SSHLoginProbe{
		known:   known,
		ports:   map[int]bool{22: true},
		timeout: 10 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		dialer := &net.Dialer{Timeout: s.timeout}
		s.dial = dialer.DialContext
	}
	s.logger = s.logger.Named("ssh")
	return s
}

// Name returns the probe identifier
func (s *SSHLoginProbe) Name() string {
	return "ssh_login"
}

// Accepts reports whether t is a service on an SSH port
func (s *SSHLoginProbe) Accepts(t Target) bool {
	return t.Handle.Kind == domain.KindService && t.IP != "" && s.ports[t.Port]
}

// Run tries every candidate pair against t. Rejected logins are not errors;
// a connection failure aborts the run.
func (s *SSHLoginProbe) Run(ctx context.Context, t Target, sink Sink) error {
	candidates, err := s.candidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		s.logger.Info("no credential to try", zap.String("target", t.String()))
		return nil
	}

	addr := net.JoinHostPort(t.IP, strconv.Itoa(t.Port))
	var valid []*domain.CredentialObservation
	for _, c := range candidates {
		ok, err := s.login(ctx, addr, c.Username, *c.Password)
		if err != nil {
			return fmt.Errorf("ssh %s: %w", addr, err)
		}
		if !ok {
			s.logger.Debug("login rejected", zap.String("addr", addr), zap.String("username", c.Username))
			continue
		}
		s.logger.Info("login accepted", zap.String("addr", addr), zap.String("username", c.Username))
		valid = append(valid, &domain.CredentialObservation{
			Username:   c.Username,
			Password:   domain.String(*c.Password),
			Confidence: domain.Int(domain.MaxConfidence),
			Source:     sshSource,
		})
	}

	if len(valid) == 0 {
		return nil
	}
	_, err = sink.Reconcile(ctx, &domain.ServiceObservation{
		Machine:     &domain.MachineObservation{IP: t.IP, Source: sshSource},
		Port:        t.Port,
		Source:      sshSource,
		Credentials: valid,
	})
	if err != nil {
		return fmt.Errorf("failed to record credentials for %s: %w", addr, err)
	}
	return nil
}

// candidates returns the distinct username and password pairs to try.
// Credentials without a password are skipped.
func (s *SSHLoginProbe) candidates(ctx context.Context) ([]domain.Credential, error) {
	var all []domain.Credential
	if s.known != nil {
		known, err := s.known.ListCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list credentials: %w", err)
		}
		all = append(all, known...)
	}
	all = append(all, s.extra...)

	type pair struct{ user, pass string }
	seen := make(map[pair]bool)
	var out []domain.Credential
	for _, c := range all {
		if c.Password == nil || c.Username == "" {
			continue
		}
		k := pair{c.Username, *c.Password}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out, nil
}

// login reports whether the server accepts the password. Errors are
// reserved for failures to reach the server.
func (s *SSHLoginProbe) login(ctx context.Context, addr, username, password string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.timeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if isAuthFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	ssh.NewClient(sshConn, chans, reqs).Close()
	return true, nil
}

func isAuthFailure(err error) bool {
	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) {
		return true
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}
