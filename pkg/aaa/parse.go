package aaa

import (
	"regexp"
	"strings"

	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/spec"
)

// Parse extracts AAA groups and server definitions from configuration text.
// Parsing is tolerant: lines the platform grammar does not recognize are kept
// in Config.Opaque and never stop extraction. Every parsed entry has role
// RoleExisting.
func Parse(p *platform.Platform, text string) *Config {
	gr := p.Grammar
	cfg := NewConfig()

	var (
		curServer *ServerEntry
		curGroup  *Group
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r \t")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !isChild(line) {
			curServer, curGroup = nil, nil

			if m := match(gr.ServerBlock, line); m != nil {
				curServer = &ServerEntry{
					Name:     m[2],
					Protocol: platform.ProtocolFromWord(m[1]),
					Role:     RoleExisting,
				}
				cfg.Servers[curServer.Name] = curServer
				continue
			}
			if m := match(gr.ServerLine, line); m != nil {
				s := &ServerEntry{
					Name:     m[2],
					Address:  m[2],
					Protocol: platform.ProtocolFromWord(m[1]),
					Role:     RoleExisting,
					HasKey:   strings.Contains(line, " key "),
				}
				cfg.Servers[s.Name] = s
				continue
			}
			if m := match(gr.GroupHeader, line); m != nil {
				curGroup = cfg.ensureGroup(m[2], spec.Protocol(m[1]))
				continue
			}
			cfg.Opaque = append(cfg.Opaque, line)
			continue
		}

		switch {
		case curServer != nil:
			if m := match(gr.ServerAddress, line); m != nil {
				curServer.Address = m[1]
				continue
			}
			if gr.ServerKey != nil && gr.ServerKey.MatchString(line) {
				curServer.HasKey = true
				continue
			}
		case curGroup != nil:
			if m := match(gr.MemberByName, line); m != nil {
				addMember(curGroup, &ServerEntry{Name: m[1]})
				continue
			}
			if m := match(gr.MemberByAddress, line); m != nil {
				addMember(curGroup, &ServerEntry{Address: m[1]})
				continue
			}
		}
		cfg.Opaque = append(cfg.Opaque, line)
	}

	resolveMembers(cfg)
	return cfg
}

func addMember(g *Group, e *ServerEntry) {
	e.Protocol = g.Protocol
	e.Role = RoleExisting
	if g.Find(e) != nil {
		return
	}
	g.Servers = append(g.Servers, e)
}

// resolveMembers fills in the missing half of each member's identity from
// the server definitions. Definitions may appear after the groups that use them.
func resolveMembers(cfg *Config) {
	for _, g := range cfg.Groups {
		for _, m := range g.Servers {
			switch {
			case m.Address == "":
				if def, ok := cfg.Servers[m.Name]; ok {
					m.Address = def.Address
				}
			case m.Name == "":
				m.Name = m.Address
				for _, def := range cfg.Servers {
					if def.Address == m.Address && def.Protocol == m.Protocol {
						m.Name = def.Name
						break
					}
				}
			}
		}
	}
}

func isChild(line string) bool {
	return line[0] == ' ' || line[0] == '\t'
}

func match(re *regexp.Regexp, line string) []string {
	if re == nil {
		return nil
	}
	return re.FindStringSubmatch(line)
}
