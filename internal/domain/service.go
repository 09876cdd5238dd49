package domain

// ServiceKind selects the variant payload carried by a service
type ServiceKind string

const (
	ServiceKindPlain ServiceKind = "plain"
	ServiceKindHTTP  ServiceKind = "http"
)

// ServiceStatus is the port state reported by a scanner
type ServiceStatus string

const (
	ServiceStatusOpen     ServiceStatus = "open"
	ServiceStatusClosed   ServiceStatus = "closed"
	ServiceStatusFiltered ServiceStatus = "filtered"
)

// HTTPDetails is the payload of an HTTP service
type HTTPDetails struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Service is a port on a machine. Identity is (MachineID, Port).
type Service struct {
	ID        int64         `json:"id" yaml:"id"`
	MachineID int64         `json:"machine_id" yaml:"machine_id"`
	Port      int           `json:"port" yaml:"port"`
	Protocol  string        `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Name      string        `json:"name,omitempty" yaml:"name,omitempty"`
	Product   string        `json:"product,omitempty" yaml:"product,omitempty"`
	Version   string        `json:"version,omitempty" yaml:"version,omitempty"`
	Status    ServiceStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Kind      ServiceKind   `json:"kind" yaml:"kind"`
	HTTP      *HTTPDetails  `json:"http,omitempty" yaml:"http,omitempty"`
}

// Handle returns the service's handle
func (s Service) Handle() Handle {
	return NewHandle(KindService, s.ID)
}

// IsOpen reports whether the port was last seen open
func (s Service) IsOpen() bool {
	return s.Status == ServiceStatusOpen
}
