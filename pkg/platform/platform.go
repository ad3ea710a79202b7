// Package platform defines the per-family CLI dialects: prompt and error
// detection, AAA configuration grammar, command templates, and probe
// response patterns. The session adapter, the differ, and the probe receive
// a *Platform instead of branching on the family themselves.
package platform

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/newtron-network/newtauth/pkg/spec"
)

// Server is the minimal view of a server entry the command templates need.
type Server struct {
	Name    string
	Address string
}

// Grammar holds the patterns used to extract AAA groups and servers from
// running-config text. Header patterns open a block whose indented child
// lines are matched against the child patterns; Line patterns stand alone.
type Grammar struct {
	// ServerBlock matches a server definition block header.
	// Submatches: 1=protocol word ("tacacs"|"radius"), 2=name.
	ServerBlock *regexp.Regexp
	// ServerAddress matches the address child of a server block. Submatch 1=address.
	ServerAddress *regexp.Regexp
	// ServerKey matches the key child of a server block.
	ServerKey *regexp.Regexp
	// ServerLine matches a single-line server definition.
	// Submatches: 1=protocol word, 2=address. The rest of the line may carry the key.
	ServerLine *regexp.Regexp
	// GroupHeader matches a group block header. Submatches: 1=protocol, 2=name.
	GroupHeader *regexp.Regexp
	// MemberByName matches a group child that references a server by name.
	MemberByName *regexp.Regexp
	// MemberByAddress matches a group child that references a server by address.
	MemberByAddress *regexp.Regexp
}

// Templates renders configuration commands. Every template returns lines to
// send inside configuration mode, in order.
type Templates struct {
	DefineServer func(proto spec.Protocol, s Server, secret string) []string
	AddMember    func(proto spec.Protocol, group string, s Server) []string
	RemoveMember func(proto spec.Protocol, group string, s Server) []string
	RemoveServer func(proto spec.Protocol, s Server) []string
}

// ProbeDialect describes the device-mediated authentication test.
type ProbeDialect struct {
	// Command renders the test command addressed at one server.
	Command func(proto spec.Protocol, s Server, username, password string) string
	Pass    []*regexp.Regexp
	Fail    []*regexp.Regexp
}

// Platform is one device family's CLI dialect.
type Platform struct {
	Name string

	// Prompt matches the CLI prompt at the end of a response.
	Prompt *regexp.Regexp
	// ErrorTokens match responses that mean a command was rejected.
	ErrorTokens []*regexp.Regexp
	// SetupCommands run once after login (paging off, width).
	SetupCommands []string

	ConfigEnter string
	ConfigExit  string
	// BlockExit leaves a configuration sub-mode.
	BlockExit string

	ShowAAA     string
	ShowRunning string
	SaveCommand string

	// Indent prefixes child lines in rendered running-config output.
	Indent string
	// NamedServers is true when servers are referenced by name in groups.
	// When false, the address is the server's identity.
	NamedServers bool

	// SkipLines match running-config lines that must not be replayed on
	// restore (banners, comments, build headers).
	SkipLines []*regexp.Regexp

	Grammar   Grammar
	Templates Templates
	Probe     ProbeDialect
}

// IsError reports whether output contains one of the platform's error tokens.
func (p *Platform) IsError(output string) bool {
	for _, re := range p.ErrorTokens {
		if re.MatchString(output) {
			return true
		}
	}
	return false
}

// Expect returns the completion patterns for any command on this platform.
// Completion is always the returning prompt; error tokens and probe tokens
// are evaluated on the completed output so no trailing prompt is left
// unread for the next command.
func (p *Platform) Expect() []*regexp.Regexp {
	return []*regexp.Regexp{p.Prompt}
}

// ShouldSkip reports whether a running-config line is not replayable.
func (p *Platform) ShouldSkip(line string) bool {
	for _, re := range p.SkipLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// ProtocolWord returns the word used in server definitions ("tacacs"/"radius").
func ProtocolWord(proto spec.Protocol) string {
	if proto == spec.ProtocolRADIUS {
		return "radius"
	}
	return "tacacs"
}

// ProtocolFromWord maps a config keyword to a protocol.
func ProtocolFromWord(word string) spec.Protocol {
	switch word {
	case "radius":
		return spec.ProtocolRADIUS
	default:
		return spec.ProtocolTACACS
	}
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Platform{}
)

// Register adds a platform to the registry. Registering a name twice
// replaces the earlier definition.
func Register(p *Platform) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name] = p
}

// Lookup returns the platform registered under name.
func Lookup(name string) (*Platform, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q (known: %v)", name, namesLocked())
	}
	return p, nil
}

// Names returns the registered platform names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
