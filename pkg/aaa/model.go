// Package aaa models a device's AAA server groups and computes the
// add-only and retirement change sets used by the migration engine.
package aaa

import (
	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/spec"
)

// Role tags a server entry with its part in the migration.
type Role string

const (
	RoleExisting  Role = "existing"
	RoleCandidate Role = "candidate"
	RoleRetiring  Role = "retiring"
)

// ServerEntry is one authentication server, unique by name+address.
type ServerEntry struct {
	Name      string        `json:"name"`
	Address   string        `json:"address"`
	Protocol  spec.Protocol `json:"protocol"`
	SecretRef string        `json:"-"`
	Role      Role          `json:"role"`
	// HasKey is set by the parser when the definition carries a key line.
	HasKey bool `json:"-"`
}

// ID returns the entry identity used in ledger keys and reports.
func (e *ServerEntry) ID() string {
	return e.Name + "@" + e.Address
}

// Server returns the template view of the entry.
func (e *ServerEntry) Server() platform.Server {
	return platform.Server{Name: e.Name, Address: e.Address}
}

// Matches reports whether e and o denote the same server. Address is the
// primary identity; the name is used when either side has no address.
func (e *ServerEntry) Matches(o *ServerEntry) bool {
	if e.Address != "" && o.Address != "" {
		return e.Address == o.Address
	}
	return e.Name != "" && e.Name == o.Name
}

// Group is a named, ordered AAA server group. Order is significant: the
// device tries members first to last.
type Group struct {
	Name     string         `json:"name"`
	Protocol spec.Protocol  `json:"protocol"`
	Servers  []*ServerEntry `json:"servers"`
}

// Find returns the member matching e, or nil.
func (g *Group) Find(e *ServerEntry) *ServerEntry {
	for _, s := range g.Servers {
		if s.Matches(e) {
			return s
		}
	}
	return nil
}

// FindName returns the member whose name or address equals key, or nil.
func (g *Group) FindName(key string) *ServerEntry {
	for _, s := range g.Servers {
		if s.Name == key || s.Address == key {
			return s
		}
	}
	return nil
}

// Config is the parsed AAA view of a device configuration.
type Config struct {
	Groups     map[string]*Group `json:"groups"`
	GroupOrder []string          `json:"group_order"`
	// Servers holds server definitions keyed by name (address for
	// platforms that identify servers by address).
	Servers map[string]*ServerEntry `json:"servers"`
	// Opaque preserves every line the parser did not recognize.
	Opaque []string `json:"-"`
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{
		Groups:  make(map[string]*Group),
		Servers: make(map[string]*ServerEntry),
	}
}

// Group returns the named group, or nil.
func (c *Config) Group(name string) *Group {
	if c == nil {
		return nil
	}
	return c.Groups[name]
}

// IsMember reports whether e is a working member of the named group. When e
// has an address the member must resolve to it: a name-only member with no
// definition behind it authenticates nothing.
func (c *Config) IsMember(group string, e *ServerEntry) bool {
	g := c.Group(group)
	if g == nil {
		return false
	}
	if e.Address == "" {
		return g.Find(e) != nil
	}
	for _, s := range g.Servers {
		if s.Address == e.Address {
			return true
		}
	}
	return false
}

// Mentions reports whether any member of the named group refers to e, by
// address or by name, resolved or not.
func (c *Config) Mentions(group string, e *ServerEntry) bool {
	g := c.Group(group)
	if g == nil {
		return false
	}
	if g.Find(e) != nil {
		return true
	}
	return e.Name != "" && g.FindName(e.Name) != nil
}

// FindServer returns the definition matching e, or nil.
func (c *Config) FindServer(e *ServerEntry) *ServerEntry {
	if c == nil {
		return nil
	}
	if s, ok := c.Servers[e.Name]; ok && (e.Address == "" || s.Address == "" || s.Address == e.Address) {
		return s
	}
	for _, s := range c.Servers {
		if s.Matches(e) && s.Protocol == e.Protocol {
			return s
		}
	}
	return nil
}

// ReferencedElsewhere reports whether any group other than except has e as a member.
func (c *Config) ReferencedElsewhere(except string, e *ServerEntry) bool {
	for name, g := range c.Groups {
		if name == except {
			continue
		}
		if g.Find(e) != nil {
			return true
		}
	}
	return false
}

func (c *Config) ensureGroup(name string, proto spec.Protocol) *Group {
	if g, ok := c.Groups[name]; ok {
		return g
	}
	g := &Group{Name: name, Protocol: proto}
	c.Groups[name] = g
	c.GroupOrder = append(c.GroupOrder, name)
	return g
}
