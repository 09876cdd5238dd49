package codec

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"cartograph/internal/domain"
)

func sampleSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		GeneratedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Machines: []domain.Machine{
			{ID: 1, IP: "10.0.0.5"},
			{ID: 2, IP: "10.0.0.6"},
		},
		Domains: []domain.Domain{{ID: 1, Name: "dc01.corp.local"}},
		Services: []domain.Service{
			{ID: 1, MachineID: 1, Port: 2222, Name: "ssh", Status: domain.ServiceStatusOpen, Kind: domain.ServiceKindPlain},
			{ID: 2, MachineID: 1, Port: 445, Name: "microsoft-ds", Status: domain.ServiceStatusOpen, Kind: domain.ServiceKindPlain},
			{ID: 3, MachineID: 2, Port: 80, Name: "http", Status: domain.ServiceStatusClosed, Kind: domain.ServiceKindHTTP,
				HTTP: &domain.HTTPDetails{URL: "http://10.0.0.6/"}},
		},
		Users:       []domain.User{{ID: 1, Name: "alice", MachineID: 1}},
		Credentials: []domain.Credential{{ID: 1, Username: "alice", Password: domain.String("s3cret"), Confidence: 80, UserID: 1}},
		Notes: []domain.Note{
			{ID: 1, Owner: domain.NewHandle(domain.KindService, 1), Title: "Banner", Content: "SSH-2.0", Interest: domain.InterestVerbose},
		},
		Aliases: map[int64][]string{1: {"CORP\\alice"}},
		Edges: []domain.Edge{
			{Owner: domain.NewHandle(domain.KindMachine, 1), Relation: "machine.domains", Target: domain.NewHandle(domain.KindDomain, 1)},
		},
	}
}

func TestLookupFormats(t *testing.T) {
	for _, format := range []string{"json", "yaml", "ansible-inventory"} {
		_, err := ImporterFor(format)
		assert.NoError(t, err, format)
		_, err = ExporterFor(format)
		assert.NoError(t, err, format)
	}

	_, err := ImporterFor("xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "[ansible-inventory json yaml]")

	_, err = ExporterFor("csv")
	assert.Error(t, err)
}

func TestJSONParse(t *testing.T) {
	input := `{
		"machines": [{
			"ip": "10.0.0.5",
			"source": "manual",
			"domains": [{"name": "dc01.corp.local"}],
			"services": [{"port": 445, "name": "microsoft-ds"}]
		}],
		"users": [{
			"name": "alice",
			"credentials": [{"username": "alice", "password": "s3cret", "confidence": 80}],
			"notes": [{"title": "Kerberoastable", "content": "SPN set", "interest": 0}]
		}]
	}`

	doc, err := NewJSONCodec().Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Len())

	obs := doc.Observations()
	require.Len(t, obs, 2)
	m, ok := obs[0].(*domain.MachineObservation)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", m.IP)
	require.Len(t, m.Services, 1)
	assert.Equal(t, "microsoft-ds", domain.Deref(m.Services[0].Name))

	u, ok := obs[1].(*domain.UserObservation)
	require.True(t, ok)
	require.Len(t, u.Credentials, 1)
	assert.Equal(t, 80, *u.Credentials[0].Confidence)
	assert.Equal(t, "Kerberoastable", u.Notes[0].Title)
}

func TestJSONParseMachineArray(t *testing.T) {
	input := `
	[{"ip": "10.0.0.5", "services": [{"port": 22}]}, {"ip": "10.0.0.6"}]`

	doc, err := NewJSONCodec().Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, doc.Machines, 2)
	assert.Equal(t, "10.0.0.6", doc.Machines[1].IP)
	assert.Equal(t, 22, doc.Machines[0].Services[0].Port)

	_, err = NewJSONCodec().Parse(strings.NewReader("   "))
	assert.Error(t, err)
}

func TestJSONParseRejectsUnknownFields(t *testing.T) {
	_, err := NewJSONCodec().Parse(strings.NewReader(`{"machines": [{"ip": "10.0.0.5", "hostnames": ["a"]}]}`))
	assert.Error(t, err)
}

func TestJSONExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONCodec().Export(sampleSnapshot(), &buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["generated_at"])
	assert.Len(t, decoded["machines"], 2)

	services := decoded["services"].([]any)
	web := services[2].(map[string]any)
	assert.Equal(t, "http", web["kind"])
	assert.Equal(t, map[string]any{"url": "http://10.0.0.6/"}, web["http"])

	edge := decoded["edges"].([]any)[0].(map[string]any)
	assert.Equal(t, "machine.domains", edge["relation"])
	assert.Equal(t, map[string]any{"kind": "machine", "id": float64(1)}, edge["owner"])
}

func TestYAMLParseMultiDocument(t *testing.T) {
	input := `
machines:
  - ip: 10.0.0.5
    services:
      - port: 22
        kind: plain
---
groups:
  - name: Domain Admins
    users:
      - name: alice
`
	doc, err := NewYAMLCodec().Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, doc.Machines, 1)
	require.Len(t, doc.Groups, 1)
	assert.Equal(t, "alice", doc.Groups[0].Users[0].Name)
	assert.Equal(t, domain.ServiceKindPlain, doc.Machines[0].Services[0].Kind)
}

func TestYAMLParseRejectsUnknownFields(t *testing.T) {
	_, err := NewYAMLCodec().Parse(strings.NewReader("hosts:\n  - ip: 10.0.0.5\n"))
	assert.Error(t, err)
}

func TestYAMLExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewYAMLCodec().Export(sampleSnapshot(), &buf))

	var decoded struct {
		Machines []domain.Machine    `yaml:"machines"`
		Notes    []domain.Note       `yaml:"notes"`
		Aliases  map[int64][]string `yaml:"aliases"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded.Machines, 2)
	assert.Equal(t, domain.NewHandle(domain.KindService, 1), decoded.Notes[0].Owner)
	assert.Equal(t, []string{"CORP\\alice"}, decoded.Aliases[1])
}

func TestAnsibleParse(t *testing.T) {
	input := `
all:
  hosts:
    10.0.0.9: {}
  children:
    linux:
      hosts:
        web01:
          ansible_host: 10.0.0.5
          ansible_port: "2222"
          ansible_user: deploy
          ansible_ssh_pass: hunter2
        db01:
          ansible_host: 10.0.0.6
        printer.corp.local: {}
`
	doc, err := NewAnsibleCodec().Parse(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, doc.Machines, 3)
	// Sorted by inventory name: 10.0.0.9, db01, web01
	assert.Equal(t, "10.0.0.9", doc.Machines[0].IP)
	assert.Empty(t, doc.Machines[0].Domains)

	db := doc.Machines[1]
	assert.Equal(t, "10.0.0.6", db.IP)
	require.Len(t, db.Domains, 1)
	assert.Equal(t, "db01", db.Domains[0].Name)
	assert.Empty(t, db.Services)

	web := doc.Machines[2]
	require.Len(t, web.Services, 1)
	assert.Equal(t, 2222, web.Services[0].Port)
	require.Len(t, web.Services[0].Credentials, 1)
	cred := web.Services[0].Credentials[0]
	assert.Equal(t, "deploy", cred.Username)
	assert.Equal(t, "hunter2", domain.Deref(cred.Password))

	require.Len(t, doc.Domains, 1)
	assert.Equal(t, "printer.corp.local", doc.Domains[0].Name)

	for _, o := range doc.Observations() {
		assert.NoError(t, domain.Validate(o))
	}
}

func TestAnsibleParseInvalidPort(t *testing.T) {
	input := `
all:
  hosts:
    web01:
      ansible_host: 10.0.0.5
      ansible_port: ssh
`
	_, err := NewAnsibleCodec().Parse(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web01")
}

func TestAnsibleExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewAnsibleCodec().Export(sampleSnapshot(), &buf))

	var inv ansibleInventory
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &inv))

	machines := inv.All.Children["machines"].Hosts
	require.Len(t, machines, 2)
	assert.Equal(t, "10.0.0.5", machines["dc01.corp.local"].AnsibleHost)
	assert.Equal(t, 2222, machines["dc01.corp.local"].AnsiblePort)
	assert.Equal(t, "10.0.0.6", machines["10.0.0.6"].AnsibleHost)

	assert.Contains(t, inv.All.Children["svc_ssh"].Hosts, "dc01.corp.local")
	assert.Contains(t, inv.All.Children["svc_microsoft_ds"].Hosts, "dc01.corp.local")
	// closed services are not grouped
	assert.NotContains(t, inv.All.Children, "svc_http")
}
