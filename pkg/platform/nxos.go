package platform

import (
	"fmt"
	"regexp"

	"github.com/newtron-network/newtauth/pkg/spec"
)

// NXOS is the Cisco NX-OS dialect: servers are single "-server host" lines
// identified by address, and groups reference them by address.
var NXOS = &Platform{
	Name:   "nxos",
	Prompt: regexp.MustCompile(`[\w.\-@/:]+(\(config[^)]*\))?#\s*$`),
	ErrorTokens: []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*% ?(Invalid|Incomplete|Ambiguous)`),
		regexp.MustCompile(`(?m)^\s*ERROR:`),
	},
	SetupCommands: []string{"terminal length 0", "terminal width 511"},
	ConfigEnter:   "configure terminal",
	ConfigExit:    "end",
	BlockExit:     "exit",
	ShowAAA:       "show running-config | include tacacs|radius|aaa|server",
	ShowRunning:   "show running-config",
	SaveCommand:   "copy running-config startup-config",
	Indent:        "  ",
	NamedServers:  false,
	SkipLines: []*regexp.Regexp{
		regexp.MustCompile(`^\s*!`),
		regexp.MustCompile(`^version `),
		regexp.MustCompile(`^\s*$`),
	},
	Grammar: Grammar{
		ServerLine:      regexp.MustCompile(`^(tacacs|radius)-server host (\S+)`),
		GroupHeader:     regexp.MustCompile(`^aaa group server (tacacs\+|radius) (\S+)\s*$`),
		MemberByAddress: regexp.MustCompile(`^\s+server (\S+)\s*$`),
	},
	Templates: Templates{
		DefineServer: func(proto spec.Protocol, s Server, secret string) []string {
			line := fmt.Sprintf("%s-server host %s key %s", ProtocolWord(proto), s.Address, secret)
			if proto == spec.ProtocolRADIUS {
				line += " authentication accounting"
			}
			return []string{line}
		},
		AddMember: func(proto spec.Protocol, group string, s Server) []string {
			return []string{
				fmt.Sprintf("aaa group server %s %s", proto, group),
				"server " + s.Address,
				"exit",
			}
		},
		RemoveMember: func(proto spec.Protocol, group string, s Server) []string {
			return []string{
				fmt.Sprintf("aaa group server %s %s", proto, group),
				"no server " + s.Address,
				"exit",
			}
		},
		RemoveServer: func(proto spec.Protocol, s Server) []string {
			return []string{fmt.Sprintf("no %s-server host %s", ProtocolWord(proto), s.Address)}
		},
	},
	Probe: ProbeDialect{
		Command: func(proto spec.Protocol, s Server, username, password string) string {
			return fmt.Sprintf("test aaa server %s %s %s %s", proto, s.Address, username, password)
		},
		Pass: []*regexp.Regexp{
			regexp.MustCompile(`(?i)user has been authenticated`),
		},
		Fail: []*regexp.Regexp{
			regexp.MustCompile(`(?i)user has failed authentication`),
			regexp.MustCompile(`(?i)authentication (failed|rejected)`),
		},
	},
}

func init() {
	Register(NXOS)
}
