package spec

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtauth/pkg/util"
)

// LoadDevices reads and validates a YAML device list.
func LoadDevices(path string) ([]*DeviceTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device list %s: %w", path, err)
	}
	return ParseDevices(data)
}

// ParseDevices decodes and validates a device list document.
func ParseDevices(data []byte) ([]*DeviceTarget, error) {
	var list DeviceList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing device list: %w", err)
	}
	if err := ValidateDevices(list.Devices); err != nil {
		return nil, err
	}
	return list.Devices, nil
}

// ValidateDevices checks that every device has a unique name, an address,
// and a platform tag.
func ValidateDevices(devices []*DeviceTarget) error {
	v := &util.ValidationBuilder{}
	v.Add(len(devices) > 0, "device list is empty")

	seen := make(map[string]bool, len(devices))
	for i, d := range devices {
		if d == nil {
			v.AddErrorf("devices[%d]: empty entry", i)
			continue
		}
		if d.Name == "" {
			v.AddErrorf("devices[%d]: name is required", i)
		} else if seen[d.Name] {
			v.AddErrorf("devices[%d]: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = true
		v.Add(d.Address != "", fmt.Sprintf("device %q: address is required", d.Name))
		v.Add(d.Platform != "", fmt.Sprintf("device %q: platform is required", d.Name))
		v.Add(d.Port >= 0 && d.Port <= 65535, fmt.Sprintf("device %q: port %d out of range", d.Name, d.Port))
	}
	return v.Build()
}

// LoadPlan reads a YAML migration plan, applies defaults, and validates it.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a plan document, applies defaults, and validates it.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the plan for structural errors. A plan that fails
// validation must stop the run before any device is touched.
func (p *Plan) Validate() error {
	v := &util.ValidationBuilder{}

	if _, err := ParsePolicy(string(p.Policy)); err != nil {
		v.AddError(err.Error())
	}
	v.Add(len(p.Groups) > 0, "plan has no groups")

	groups := make(map[string]bool, len(p.Groups))
	for i, g := range p.Groups {
		prefix := fmt.Sprintf("groups[%d]", i)
		if g.Name == "" {
			v.AddErrorf("%s: name is required", prefix)
		} else {
			prefix = fmt.Sprintf("group %q", g.Name)
			if groups[g.Name] {
				v.AddErrorf("%s: duplicate group", prefix)
			}
			groups[g.Name] = true
		}
		if g.Protocol != ProtocolTACACS && g.Protocol != ProtocolRADIUS {
			v.AddErrorf("%s: protocol must be %s or %s, got %q", prefix, ProtocolTACACS, ProtocolRADIUS, g.Protocol)
		}
		v.Add(len(g.Candidates) > 0, prefix+": at least one candidate is required")

		names := make(map[string]bool, len(g.Candidates))
		for j, c := range g.Candidates {
			cp := fmt.Sprintf("%s candidates[%d]", prefix, j)
			if c.Name == "" {
				v.AddErrorf("%s: name is required", cp)
			} else if names[c.Name] {
				v.AddErrorf("%s: duplicate candidate %q", cp, c.Name)
			}
			names[c.Name] = true
			if net.ParseIP(c.Address) == nil {
				v.AddErrorf("%s: address %q is not an IP address", cp, c.Address)
			}
			v.Add(c.SecretRef != "", cp+": secret_ref is required")
		}
		for _, r := range g.Retire {
			if names[r] {
				v.AddErrorf("%s: %q cannot be both candidate and retiring", prefix, r)
			}
		}
	}

	v.Add(p.Probe.Username != "", "probe.username is required")
	v.Add(p.Probe.PasswordRef != "", "probe.password_ref is required")
	v.Add(p.Timeouts.Command > 0 && p.Timeouts.Probe > 0 && p.Timeouts.Connect > 0, "timeouts must be positive")

	return v.Build()
}
