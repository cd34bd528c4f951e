package registry

import (
	"fmt"
	"time"

	"github.com/commercekit/eventrelay/health"
)

/* Instance represents one registered copy of a logical service.
 * Identity (name, host, port) is immutable once registered; only the
 * probe loop mutates the health fields. Instances are never removed
 * during process lifetime, only marked unhealthy.
 */
type Instance struct {
	ServiceName string
	Version     string
	Host        string
	Port        int
	Transport   string // "http" or "https"
	HealthState health.State
	LastProbeAt time.Time
}

// ID returns the unique identity of the instance.
func (i Instance) ID() string {
	return fmt.Sprintf("%s@%s:%d", i.ServiceName, i.Host, i.Port)
}

// BaseURL returns the address calls and probes are issued against.
func (i Instance) BaseURL() string {
	transport := i.Transport
	if transport == "" {
		transport = "http"
	}
	return fmt.Sprintf("%s://%s:%d", transport, i.Host, i.Port)
}

// Validate checks the instance is well-formed for registration.
func (i Instance) Validate() error {
	if i.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if i.Host == "" {
		return fmt.Errorf("host cannot be empty for service %s", i.ServiceName)
	}
	if i.Port <= 0 || i.Port > 65535 {
		return fmt.Errorf("invalid port %d for service %s", i.Port, i.ServiceName)
	}
	if i.Transport != "" && i.Transport != "http" && i.Transport != "https" {
		return fmt.Errorf("invalid transport %q for service %s", i.Transport, i.ServiceName)
	}
	return nil
}
