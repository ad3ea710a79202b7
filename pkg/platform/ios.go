package platform

import (
	"fmt"
	"regexp"

	"github.com/newtron-network/newtauth/pkg/spec"
)

// IOS is the Cisco IOS / IOS-XE dialect: named server blocks referenced from
// groups with "server name".
var IOS = &Platform{
	Name:   "ios",
	Prompt: regexp.MustCompile(`[\w.\-@/:]+(\(config[^)]*\))?[#>]\s*$`),
	ErrorTokens: []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*% ?(Invalid|Incomplete|Ambiguous|Unknown|Unrecognized)`),
		regexp.MustCompile(`(?m)^\s*%.*\b([Ee]rror|not found|[Ff]ailed)\b`),
	},
	SetupCommands: []string{"terminal length 0", "terminal width 0"},
	ConfigEnter:   "configure terminal",
	ConfigExit:    "end",
	BlockExit:     "exit",
	ShowAAA:       "show running-config | section tacacs|radius|aaa group",
	ShowRunning:   "show running-config",
	SaveCommand:   "write memory",
	Indent:        " ",
	NamedServers:  true,
	SkipLines: []*regexp.Regexp{
		regexp.MustCompile(`^\s*!`),
		regexp.MustCompile(`^Building configuration`),
		regexp.MustCompile(`^Current configuration`),
		regexp.MustCompile(`^\s*end\s*$`),
		regexp.MustCompile(`^\s*$`),
	},
	Grammar: Grammar{
		ServerBlock:     regexp.MustCompile(`^(tacacs|radius) server (\S+)\s*$`),
		ServerAddress:   regexp.MustCompile(`^\s+address ipv4 (\S+)`),
		ServerKey:       regexp.MustCompile(`^\s+key\s`),
		ServerLine:      regexp.MustCompile(`^(tacacs|radius)-server host (\S+)`),
		GroupHeader:     regexp.MustCompile(`^aaa group server (tacacs\+|radius) (\S+)\s*$`),
		MemberByName:    regexp.MustCompile(`^\s+server name (\S+)\s*$`),
		MemberByAddress: regexp.MustCompile(`^\s+server (\d[\d.]*|[0-9a-fA-F:]+:[0-9a-fA-F:]*)\s*$`),
	},
	Templates: Templates{
		DefineServer: func(proto spec.Protocol, s Server, secret string) []string {
			addr := "address ipv4 " + s.Address
			if proto == spec.ProtocolRADIUS {
				addr += " auth-port 1812 acct-port 1813"
			}
			return []string{
				fmt.Sprintf("%s server %s", ProtocolWord(proto), s.Name),
				addr,
				"key " + secret,
				"exit",
			}
		},
		AddMember: func(proto spec.Protocol, group string, s Server) []string {
			return []string{
				fmt.Sprintf("aaa group server %s %s", proto, group),
				"server name " + s.Name,
				"exit",
			}
		},
		RemoveMember: func(proto spec.Protocol, group string, s Server) []string {
			return []string{
				fmt.Sprintf("aaa group server %s %s", proto, group),
				"no server name " + s.Name,
				"exit",
			}
		},
		RemoveServer: func(proto spec.Protocol, s Server) []string {
			return []string{fmt.Sprintf("no %s server %s", ProtocolWord(proto), s.Name)}
		},
	},
	Probe: ProbeDialect{
		Command: func(proto spec.Protocol, s Server, username, password string) string {
			return fmt.Sprintf("test aaa group %s server %s %s %s new-code", proto, s.Address, username, password)
		},
		Pass: []*regexp.Regexp{
			regexp.MustCompile(`(?i)user (was )?successfully authenticated`),
		},
		Fail: []*regexp.Regexp{
			regexp.MustCompile(`(?i)user (authentication request was )?rejected`),
			regexp.MustCompile(`(?i)authentication failed`),
		},
	},
}

func init() {
	Register(IOS)
}
