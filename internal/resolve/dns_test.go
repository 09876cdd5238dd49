package resolve

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startTestServer serves zone answers on a loopback UDP port
func startTestServer(t *testing.T, zone map[string][]dns.RR) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			resp := new(dns.Msg)
			resp.SetReply(req)
			q := req.Question[0]
			answers, ok := zone[q.Name]
			if !ok {
				resp.SetRcode(req, dns.RcodeNameError)
			}
			for _, rr := range answers {
				if rr.Header().Rrtype == q.Qtype || rr.Header().Rrtype == dns.TypeCNAME {
					resp.Answer = append(resp.Answer, rr)
				}
			}
			w.WriteMsg(resp)
		}),
	}

	go srv.ActivateAndServe()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns test server did not start")
	}
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestDNSLookupChain(t *testing.T) {
	addr := startTestServer(t, map[string][]dns.RR{
		"a.example.com.": {mustRR(t, "a.example.com. 60 IN CNAME b.example.com.")},
		"b.example.com.": {mustRR(t, "b.example.com. 60 IN A 9.9.9.9")},
		"empty.example.": {},
		"mail.example.":  {mustRR(t, "mail.example. 60 IN MX 10 mx1.example.")},
	})

	lookup, err := NewDNSLookup(DNSConfig{Servers: []string{addr}, Timeout: 2 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()

	hop, err := lookup.LookupHop(ctx, "a.example.com")
	require.NoError(t, err)
	assert.Equal(t, "b.example.com.", hop.Name)

	hop, err = lookup.LookupHop(ctx, "b.example.com")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("9.9.9.9"), hop.IP)

	hop, err = lookup.LookupHop(ctx, "missing.example")
	require.NoError(t, err, "NXDOMAIN is an empty answer")
	assert.True(t, hop.IsEmpty())

	hop, err = lookup.LookupHop(ctx, "empty.example")
	require.NoError(t, err)
	assert.True(t, hop.IsEmpty())

	mx, err := lookup.Query(ctx, "mail.example", dns.TypeMX)
	require.NoError(t, err)
	require.Len(t, mx, 1)
	assert.Equal(t, "mx1.example.", mx[0].(*dns.MX).Mx)

	res, err := New(lookup).Resolve(ctx, "a.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, res.Aliases)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("9.9.9.9")}, res.IPs)
}

func TestDNSLookupServerUnreachable(t *testing.T) {
	// Reserve a port and close it so nothing answers
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	pc.Close()

	lookup, err := NewDNSLookup(DNSConfig{Servers: []string{addr}, Timeout: 200 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = lookup.LookupHop(context.Background(), "a.example.com")
	assert.Error(t, err)
}

func TestNameservers(t *testing.T) {
	servers, err := nameservers(DNSConfig{Servers: []string{"10.0.0.53", "10.0.0.54:5353"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.53:53", "10.0.0.54:5353"}, servers)

	_, err = nameservers(DNSConfig{ResolvConf: t.TempDir() + "/missing.conf"})
	assert.Error(t, err)
}

func TestDNSLookupRateLimit(t *testing.T) {
	addr := startTestServer(t, map[string][]dns.RR{})
	lookup, err := NewDNSLookup(DNSConfig{Servers: []string{addr}, QueriesPerSecond: 1, Burst: 1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = lookup.Query(ctx, "x.example", dns.TypeA)
	require.NoError(t, err, "burst allows the first query")

	_, err = lookup.Query(ctx, "y.example", dns.TypeA)
	assert.Error(t, err, "second query waits past the deadline")
}
