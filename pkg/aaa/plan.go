package aaa

import (
	"fmt"
	"strings"

	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/spec"
)

// GroupState is one group's working model for a migration: the candidates
// to introduce and the entries to retire, with roles assigned.
type GroupState struct {
	Name       string         `json:"name"`
	Protocol   spec.Protocol  `json:"protocol"`
	Candidates []*ServerEntry `json:"candidates"`
	Retiring   []*ServerEntry `json:"retiring"`
	// Reclassified names candidates that were already members before the
	// run and were re-tagged instead of re-added.
	Reclassified []string `json:"reclassified,omitempty"`
	// Aliased maps candidates whose address the device already defines
	// under another name to that name.
	Aliased map[string]string `json:"aliased,omitempty"`
}

// Candidate returns the candidate matching e, or nil.
func (gs *GroupState) Candidate(e *ServerEntry) *ServerEntry {
	for _, c := range gs.Candidates {
		if c.Matches(e) {
			return c
		}
	}
	return nil
}

// Classify assigns roles for one planned group against the current config.
// A candidate already present as a member is reclassified as candidate. The
// retiring set is the plan's explicit list, or every existing member that is
// not a candidate.
func Classify(cfg *Config, gp spec.GroupPlan) *GroupState {
	gs := &GroupState{Name: gp.Name, Protocol: gp.Protocol}
	g := cfg.Group(gp.Name)

	for _, c := range gp.Candidates {
		e := &ServerEntry{
			Name:      c.Name,
			Address:   c.Address,
			Protocol:  gp.Protocol,
			SecretRef: c.SecretRef,
			Role:      RoleCandidate,
		}
		if def := cfg.FindServer(e); def != nil && def.Address == e.Address && def.Name != e.Name && def.Name != def.Address {
			if gs.Aliased == nil {
				gs.Aliased = make(map[string]string)
			}
			gs.Aliased[e.Name] = def.Name
		}
		if g != nil {
			if m := g.Find(e); m != nil && m.Role != RoleCandidate {
				m.Role = RoleCandidate
				gs.Reclassified = append(gs.Reclassified, e.Name)
			}
		}
		gs.Candidates = append(gs.Candidates, e)
	}

	if g == nil {
		return gs
	}

	if len(gp.Retire) > 0 {
		for _, key := range gp.Retire {
			m := g.FindName(key)
			if m == nil || gs.Candidate(m) != nil {
				continue
			}
			m.Role = RoleRetiring
			gs.Retiring = append(gs.Retiring, m)
		}
		return gs
	}

	for _, m := range g.Servers {
		if gs.Candidate(m) != nil {
			continue
		}
		m.Role = RoleRetiring
		gs.Retiring = append(gs.Retiring, m)
	}
	return gs
}

// SecretFunc resolves a secret reference to its value.
type SecretFunc func(ref string) (string, error)

// PlanAdditions computes the minimal ordered add-only command set that makes
// every candidate a member of its group. Candidates already present are
// skipped, so replanning against a migrated device yields an empty set. It
// never emits a removal command.
func PlanAdditions(p *platform.Platform, device string, current *Config, desired []*GroupState, secret SecretFunc) (*ChangeSet, error) {
	cs := NewChangeSet(device, OpAdd)
	defined := make(map[string]bool)

	for _, gs := range desired {
		for _, c := range gs.Candidates {
			if current.IsMember(gs.Name, c) {
				continue
			}

			if s, ok := current.Servers[c.Name]; ok && s.Protocol == c.Protocol && s.Address != "" && s.Address != c.Address {
				return nil, fmt.Errorf("%s: server %s is already defined with address %s", device, c.Name, s.Address)
			}

			// A definition at the candidate's address under another name is
			// reused as is; the group member must name it as the device does.
			member := c.Server()
			if def := current.FindServer(c); def != nil && def.Address == c.Address {
				member = def.Server()
			} else if key := string(gs.Protocol) + "|" + c.Address; !defined[key] {
				value, err := secret(c.SecretRef)
				if err != nil {
					return nil, fmt.Errorf("resolving secret for %s: %w", c.ID(), err)
				}
				cs.AddSecret(value, p.Templates.DefineServer(gs.Protocol, c.Server(), value)...)
				defined[key] = true
			}
			cs.Add(p.Templates.AddMember(gs.Protocol, gs.Name, member)...)
		}
	}

	for _, c := range cs.Commands {
		if isRemoval(c.Text) {
			return nil, fmt.Errorf("add-only plan for %s contains removal %q", device, c.Display)
		}
	}
	return cs, nil
}

// PlanRetirement returns the commands that remove entry from group, and the
// server definition too when no other group references it.
func PlanRetirement(p *platform.Platform, device string, current *Config, group string, proto spec.Protocol, entry *ServerEntry) *ChangeSet {
	cs := NewChangeSet(device, OpRetire)
	cs.Add(p.Templates.RemoveMember(proto, group, entry.Server())...)

	if def := current.FindServer(entry); def != nil && !current.ReferencedElsewhere(group, entry) {
		cs.Add(p.Templates.RemoveServer(proto, def.Server())...)
	}
	return cs
}

func isRemoval(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "no ")
}
