package codec

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"cartograph/internal/domain"
)

const ansibleSource = "ansible"

// AnsibleCodec handles Ansible inventory import/export
type AnsibleCodec struct{}

// NewAnsibleCodec creates a new Ansible codec
func NewAnsibleCodec() *AnsibleCodec {
	return &AnsibleCodec{}
}

// Format returns the codec format identifier
func (c *AnsibleCodec) Format() string {
	return "ansible-inventory"
}

// ansibleInventory represents the Ansible inventory structure
type ansibleInventory struct {
	All ansibleGroup `yaml:"all"`
}

type ansibleGroup struct {
	Children map[string]ansibleGroupDef `yaml:"children,omitempty"`
	Hosts    map[string]ansibleHost     `yaml:"hosts,omitempty"`
	Vars     map[string]interface{}     `yaml:"vars,omitempty"`
}

type ansibleGroupDef struct {
	Hosts map[string]ansibleHost `yaml:"hosts,omitempty"`
	Vars  map[string]interface{} `yaml:"vars,omitempty"`
}

type ansibleHost struct {
	AnsibleHost     string                 `yaml:"ansible_host,omitempty"`
	AnsiblePort     interface{}            `yaml:"ansible_port,omitempty"`
	AnsibleUser     string                 `yaml:"ansible_user,omitempty"`
	AnsiblePassword string                 `yaml:"ansible_password,omitempty"`
	Vars            map[string]interface{} `yaml:",inline"`
}

// Parse turns every inventory host into a machine observation. A host
// without an address becomes a domain observation. Connection variables
// become an SSH service and, with ansible_user, a credential on it.
func (c *AnsibleCodec) Parse(r io.Reader) (*Document, error) {
	var inv ansibleInventory
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&inv); err != nil {
		return nil, fmt.Errorf("failed to parse Ansible inventory: %w", err)
	}

	hosts := make(map[string]ansibleHost)
	for _, group := range inv.All.Children {
		for name, host := range group.Hosts {
			hosts[name] = host
		}
	}
	for name, host := range inv.All.Hosts {
		hosts[name] = host
	}

	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := &Document{}
	for _, name := range names {
		host := hosts[name]
		ip := host.AnsibleHost
		if ip == "" && domain.IsIP(name) {
			ip = name
		}

		if ip == "" || !domain.IsIP(ip) {
			// ansible_host may itself be a DNS name
			target := name
			if ip != "" {
				target = ip
			}
			doc.Domains = append(doc.Domains, &domain.DomainObservation{Name: target, Source: ansibleSource})
			continue
		}

		obs := &domain.MachineObservation{IP: ip, Source: ansibleSource}
		if !domain.IsIP(name) {
			obs.Domains = append(obs.Domains, &domain.DomainObservation{Name: name, Source: ansibleSource})
		}
		svc, err := c.sshService(name, host)
		if err != nil {
			return nil, err
		}
		if svc != nil {
			obs.Services = append(obs.Services, svc)
		}
		doc.Machines = append(doc.Machines, obs)
	}

	return doc, nil
}

// sshService returns the connection endpoint described by the host's
// variables, nil when the inventory sets none
func (c *AnsibleCodec) sshService(name string, host ansibleHost) (*domain.ServiceObservation, error) {
	if host.AnsiblePort == nil && host.AnsibleUser == "" {
		return nil, nil
	}

	port := 22
	if host.AnsiblePort != nil {
		p, err := strconv.Atoi(strings.TrimSpace(fmt.Sprint(host.AnsiblePort)))
		if err != nil {
			return nil, fmt.Errorf("host %s: invalid ansible_port %v", name, host.AnsiblePort)
		}
		port = p
	}

	svc := &domain.ServiceObservation{
		Port:     port,
		Protocol: domain.String("tcp"),
		Name:     domain.String("ssh"),
		Source:   ansibleSource,
	}
	if host.AnsibleUser != "" {
		cred := &domain.CredentialObservation{Username: host.AnsibleUser, Source: ansibleSource}
		password := host.AnsiblePassword
		if password == "" {
			if p, ok := host.Vars["ansible_ssh_pass"].(string); ok {
				password = p
			}
		}
		if password != "" {
			cred.Password = domain.String(password)
		}
		svc.Credentials = append(svc.Credentials, cred)
	}
	return svc, nil
}

var groupNameInvalid = regexp.MustCompile(`[^a-z0-9_]+`)

// Export writes every machine under the "machines" group and, for each
// open service name, under a "svc_<name>" group
func (c *AnsibleCodec) Export(snapshot *domain.Snapshot, w io.Writer) error {
	inv := ansibleInventory{
		All: ansibleGroup{
			Children: make(map[string]ansibleGroupDef),
		},
	}

	servicesByMachine := make(map[int64][]domain.Service)
	for _, s := range snapshot.Services {
		servicesByMachine[s.MachineID] = append(servicesByMachine[s.MachineID], s)
	}

	groups := map[string]map[string]ansibleHost{"machines": {}}
	for _, m := range snapshot.Machines {
		hostName := m.IP
		if names := snapshot.MachineDomains(m.ID); len(names) > 0 {
			sort.Strings(names)
			hostName = names[0]
		}

		host := ansibleHost{AnsibleHost: m.IP}
		for _, s := range servicesByMachine[m.ID] {
			if !s.IsOpen() || s.Name == "" {
				continue
			}
			if s.Name == "ssh" && s.Port != 22 {
				host.AnsiblePort = s.Port
			}
			group := "svc_" + strings.Trim(groupNameInvalid.ReplaceAllString(strings.ToLower(s.Name), "_"), "_")
			if groups[group] == nil {
				groups[group] = make(map[string]ansibleHost)
			}
			groups[group][hostName] = ansibleHost{}
		}
		groups["machines"][hostName] = host
	}

	for groupName, hosts := range groups {
		inv.All.Children[groupName] = ansibleGroupDef{
			Hosts: hosts,
		}
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&inv); err != nil {
		return fmt.Errorf("failed to encode Ansible inventory: %w", err)
	}

	return nil
}
