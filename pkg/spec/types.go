// Package spec defines the inputs of a migration run: the device list and the
// migration plan, with YAML loading, defaults, and validation.
package spec

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// DeviceTarget identifies one device to migrate. Immutable once a run starts.
type DeviceTarget struct {
	Name        string            `yaml:"name" json:"name"`
	Address     string            `yaml:"address" json:"address"`
	Port        int               `yaml:"port,omitempty" json:"port,omitempty"`
	Platform    string            `yaml:"platform" json:"platform"`
	Credentials Credentials       `yaml:"credentials" json:"-"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Credentials is the opaque login handle for a device. The password is a
// secret reference (see ResolveSecret), never the literal value.
type Credentials struct {
	Username    string `yaml:"username"`
	PasswordRef string `yaml:"password_ref"`
}

// Addr returns the host:port to dial.
func (d *DeviceTarget) Addr() string {
	port := d.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(d.Address, strconv.Itoa(port))
}

// DeviceList is the on-disk shape of the device list file.
type DeviceList struct {
	Devices []*DeviceTarget `yaml:"devices"`
}

// Policy selects how probe results decide retirement of the old server.
type Policy string

const (
	// PolicyKeepIfAnyPass retires the old server when at least one candidate passes.
	PolicyKeepIfAnyPass Policy = "keep-if-any-pass"
	// PolicyRequireAllPass retires the old server only when every candidate passes.
	PolicyRequireAllPass Policy = "require-all-pass"
)

// ParsePolicy validates a policy name. Empty selects the default.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "":
		return PolicyKeepIfAnyPass, nil
	case PolicyKeepIfAnyPass, PolicyRequireAllPass:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown policy %q (want %s or %s)", s, PolicyKeepIfAnyPass, PolicyRequireAllPass)
}

// Protocol is the AAA server protocol of a group.
type Protocol string

const (
	ProtocolTACACS Protocol = "tacacs+"
	ProtocolRADIUS Protocol = "radius"
)

// ServerSpec describes one candidate server to introduce.
type ServerSpec struct {
	Name      string `yaml:"name" json:"name"`
	Address   string `yaml:"address" json:"address"`
	SecretRef string `yaml:"secret_ref" json:"-"`
}

// GroupPlan lists the candidates to add to one AAA group. Retire names the
// existing servers to retire; when empty, every existing member of the group
// that is not a candidate is retiring.
type GroupPlan struct {
	Name       string       `yaml:"name"`
	Protocol   Protocol     `yaml:"protocol"`
	Candidates []ServerSpec `yaml:"candidates"`
	Retire     []string     `yaml:"retire,omitempty"`
}

// ProbeSpec is the synthetic credential used for authentication probes.
type ProbeSpec struct {
	Username    string `yaml:"username"`
	PasswordRef string `yaml:"password_ref"`
}

// Timeouts bounds every blocking device interaction.
type Timeouts struct {
	Connect time.Duration `yaml:"connect,omitempty"`
	Command time.Duration `yaml:"command,omitempty"`
	Probe   time.Duration `yaml:"probe,omitempty"`
}

// Default timeouts.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultCommandTimeout = 15 * time.Second
	DefaultProbeTimeout   = 30 * time.Second
)

// Plan is the per-run migration plan applied to every device.
type Plan struct {
	Policy     Policy      `yaml:"policy"`
	DryRun     bool        `yaml:"dry_run"`
	SaveConfig bool        `yaml:"save_config"`
	Groups     []GroupPlan `yaml:"groups"`
	Probe      ProbeSpec   `yaml:"probe"`
	Timeouts   Timeouts    `yaml:"timeouts"`
}

// Group returns the plan for the named group, or nil.
func (p *Plan) Group(name string) *GroupPlan {
	for i := range p.Groups {
		if p.Groups[i].Name == name {
			return &p.Groups[i]
		}
	}
	return nil
}

// ApplyDefaults fills unset policy and timeouts.
func (p *Plan) ApplyDefaults() {
	if p.Policy == "" {
		p.Policy = PolicyKeepIfAnyPass
	}
	if p.Timeouts.Connect == 0 {
		p.Timeouts.Connect = DefaultConnectTimeout
	}
	if p.Timeouts.Command == 0 {
		p.Timeouts.Command = DefaultCommandTimeout
	}
	if p.Timeouts.Probe == 0 {
		p.Timeouts.Probe = DefaultProbeTimeout
	}
}
