package adapter

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cartograph/internal/domain"
)

// listen accepts connections on a random local port and greets each one
// with banner
func listen(t *testing.T, banner string) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			if banner != "" {
				conn.Write([]byte(banner))
			}
			conn.Close()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

// closedPort returns a local port nothing listens on
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestConnectScanProbe_Run(t *testing.T) {
	sshPort := listen(t, "SSH-2.0-OpenSSH_9.6\r\nextra")
	quietPort := listen(t, "")
	closed := closedPort(t)

	probe := NewConnectScanProbe(ConnectScanConfig{
		Ports:         []int{sshPort, closed, quietPort},
		Timeout:       time.Second,
		BannerTimeout: 200 * time.Millisecond,
	}, nil, zaptest.NewLogger(t))
	sink := &recordingSink{}

	target := MachineTarget(domain.Machine{ID: 1, IP: "127.0.0.1"})
	require.NoError(t, probe.Run(context.Background(), target, sink))

	machines := sink.machines()
	require.Len(t, machines, 1)
	assert.Equal(t, "127.0.0.1", machines[0].IP)

	services := machines[0].Services
	require.Len(t, services, 2)
	for i := 1; i < len(services); i++ {
		assert.Less(t, services[i-1].Port, services[i].Port)
	}

	byPort := make(map[int]*domain.ServiceObservation)
	for _, s := range services {
		byPort[s.Port] = s
		assert.Equal(t, "open", domain.Deref(s.Status))
		assert.Equal(t, "tcp", domain.Deref(s.Protocol))
	}
	assert.NotContains(t, byPort, closed)

	require.Len(t, byPort[sshPort].Notes, 1)
	note := byPort[sshPort].Notes[0]
	assert.Equal(t, NoteBanner, note.Title)
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", note.Content)
	assert.Equal(t, domain.InterestVerbose, note.Interest)

	assert.Empty(t, byPort[quietPort].Notes)
}

func TestConnectScanProbe_NothingOpen(t *testing.T) {
	probe := NewConnectScanProbe(ConnectScanConfig{Ports: []int{closedPort(t)}}, nil, nil)
	sink := &recordingSink{}

	target := MachineTarget(domain.Machine{ID: 1, IP: "127.0.0.1"})
	require.NoError(t, probe.Run(context.Background(), target, sink))
	assert.Empty(t, sink.observations)
}

func TestConnectScanProbe_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probe := NewConnectScanProbe(ConnectScanConfig{Ports: []int{listen(t, "")}}, nil, nil)
	target := MachineTarget(domain.Machine{ID: 1, IP: "127.0.0.1"})
	assert.ErrorIs(t, probe.Run(ctx, target, &recordingSink{}), context.Canceled)
}

func TestConnectScanProbe_LongBanner(t *testing.T) {
	port := listen(t, strings.Repeat("x", 200))
	probe := NewConnectScanProbe(ConnectScanConfig{Ports: []int{port}}, nil, nil)
	sink := &recordingSink{}

	target := MachineTarget(domain.Machine{ID: 1, IP: "127.0.0.1"})
	require.NoError(t, probe.Run(context.Background(), target, sink))

	machines := sink.machines()
	require.Len(t, machines, 1)
	require.Len(t, machines[0].Services[0].Notes, 1)
	assert.Len(t, machines[0].Services[0].Notes[0].Content, 103)
}

func TestDefaultConnectScanConfig(t *testing.T) {
	cfg := DefaultConnectScanConfig()

	assert.Len(t, cfg.Ports, len(wellKnownPorts))
	assert.IsIncreasing(t, cfg.Ports)
	assert.Equal(t, 32, cfg.MaxConcurrent)

	probe := NewConnectScanProbe(ConnectScanConfig{}, nil, nil)
	assert.Equal(t, cfg.Ports, probe.config.Ports)
	assert.Equal(t, "tcp_scan", probe.Name())
	assert.True(t, probe.Accepts(MachineTarget(domain.Machine{ID: 1, IP: "10.0.0.1"})))
	assert.False(t, probe.Accepts(DomainTarget(domain.Domain{ID: 1, Name: "example.com"})))
}
