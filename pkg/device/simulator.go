package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
)

// Probe outcomes a simulated device can be told to produce.
const (
	SimPass      = "pass"
	SimFail      = "fail"
	SimAmbiguous = "ambiguous"
	SimTimeout   = "timeout"
)

// SimConfigKey is the target metadata key holding an initial running config
// for devices the simulator has not been told about.
const SimConfigKey = "sim_config"

// SimDevice describes one simulated device.
type SimDevice struct {
	// Config is the initial running configuration.
	Config string
	// ProbeOutcomes maps a server address to its probe outcome. Unlisted
	// addresses pass.
	ProbeOutcomes map[string]string
	// Reject makes configuration lines matching it fail with an error token.
	Reject *regexp.Regexp
	// IgnoreRemovals accepts "no ..." lines without changing anything.
	IgnoreRemovals bool
	// ConnectFailures is the number of Open calls that fail before one succeeds.
	ConnectFailures int
	// FailAfter drops the session after this many commands (0 = never).
	FailAfter int
}

// Simulator is an in-memory Opener used for dry runs and tests. Each device
// keeps a block-structured running configuration interpreted with the
// platform's grammar.
type Simulator struct {
	mu      sync.Mutex
	devices map[string]*simState
}

type simBlock struct {
	line     string
	children []string
}

type simState struct {
	SimDevice
	blocks   []*simBlock
	history  []string
	opens    int
	commands int
}

// NewSimulator creates an empty simulator.
func NewSimulator() *Simulator {
	return &Simulator{devices: make(map[string]*simState)}
}

// Add registers a simulated device under name, replacing any earlier one.
func (s *Simulator) Add(name string, d SimDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[name] = &simState{SimDevice: d, blocks: parseBlocks(d.Config)}
}

// Config renders the current running configuration of a device.
func (s *Simulator) Config(name string, p *platform.Platform) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.devices[name]
	if !ok {
		return ""
	}
	return render(st.blocks, p.Indent)
}

// History returns every command a device has received, in order.
func (s *Simulator) History(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.devices[name]
	if !ok {
		return nil
	}
	out := make([]string, len(st.history))
	copy(out, st.history)
	return out
}

// Opens returns how many times a session to name was requested.
func (s *Simulator) Opens(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.devices[name]; ok {
		return st.opens
	}
	return 0
}

// Open returns a session to the simulated device.
func (s *Simulator) Open(ctx context.Context, target *spec.DeviceTarget) (Session, error) {
	p, err := platform.Lookup(target.Platform)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.devices[target.Name]
	if !ok {
		st = &simState{SimDevice: SimDevice{Config: target.Metadata[SimConfigKey]}}
		st.blocks = parseBlocks(st.Config)
		s.devices[target.Name] = st
	}
	st.opens++
	if st.ConnectFailures > 0 {
		st.ConnectFailures--
		return nil, util.NewConnectError(target.Name, target.Addr(), errors.New("connection refused"))
	}
	return &simSession{sim: s, state: st, platform: p, device: target.Name, addr: target.Addr()}, nil
}

type simSession struct {
	sim      *Simulator
	state    *simState
	platform *platform.Platform
	device   string
	addr     string

	cmdMu      sync.Mutex
	configMode bool
	cur        *simBlock
	closed     bool
}

func (ss *simSession) Execute(ctx context.Context, command string, expect []*regexp.Regexp, timeout time.Duration) (*RawOutput, error) {
	ss.cmdMu.Lock()
	defer ss.cmdMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ss.closed {
		return nil, util.NewConnectError(ss.device, ss.addr, util.ErrNotConnected)
	}

	ss.sim.mu.Lock()
	defer ss.sim.mu.Unlock()

	st := ss.state
	st.commands++
	if st.FailAfter > 0 && st.commands > st.FailAfter {
		ss.closed = true
		return nil, util.NewConnectError(ss.device, ss.addr, errors.New("connection reset by peer"))
	}
	st.history = append(st.history, command)

	return ss.interpret(strings.TrimSpace(command)), nil
}

func (ss *simSession) interpret(cmd string) *RawOutput {
	p := ss.platform
	st := ss.state

	switch {
	case cmd == p.ShowAAA || cmd == p.ShowRunning:
		return &RawOutput{Text: render(st.blocks, p.Indent)}
	case strings.HasPrefix(cmd, "test aaa"):
		return ss.probe(cmd)
	case cmd == p.SaveCommand:
		return &RawOutput{Text: "[OK]"}
	case cmd == p.ConfigEnter:
		ss.configMode = true
		ss.cur = nil
		return &RawOutput{}
	case !ss.configMode:
		return &RawOutput{}
	case cmd == p.ConfigExit:
		ss.configMode = false
		ss.cur = nil
		return &RawOutput{}
	}

	if st.Reject != nil && st.Reject.MatchString(cmd) {
		return &RawOutput{Text: "% Invalid input detected at '^' marker."}
	}

	if cmd == p.BlockExit {
		ss.cur = nil
		return &RawOutput{}
	}

	if rest, ok := strings.CutPrefix(cmd, "no "); ok {
		if !st.IgnoreRemovals {
			ss.remove(rest)
		}
		return &RawOutput{}
	}

	if isHeader(p, cmd) {
		ss.cur = findOrAddBlock(st, cmd)
		return &RawOutput{}
	}
	if ss.cur != nil {
		for _, c := range ss.cur.children {
			if c == cmd {
				return &RawOutput{}
			}
		}
		ss.cur.children = append(ss.cur.children, cmd)
		return &RawOutput{}
	}
	findOrAddBlock(st, cmd)
	return &RawOutput{}
}

func (ss *simSession) remove(target string) {
	matches := func(line string) bool {
		return line == target || strings.HasPrefix(line, target+" ")
	}

	if ss.cur != nil {
		kept := ss.cur.children[:0]
		for _, c := range ss.cur.children {
			if !matches(c) {
				kept = append(kept, c)
			}
		}
		ss.cur.children = kept
		return
	}

	st := ss.state
	kept := st.blocks[:0]
	for _, b := range st.blocks {
		if !matches(b.line) {
			kept = append(kept, b)
		}
	}
	st.blocks = kept
}

var simProbeText = map[string]map[string]string{
	"ios": {
		SimPass:      "Attempting authentication test to server-group using tacacs+\nUser was successfully authenticated.",
		SimFail:      "Attempting authentication test to server-group using tacacs+\nUser rejected",
		SimAmbiguous: "Attempting authentication test to server-group using tacacs+\nNo authoritative response from any server.",
		SimTimeout:   "Attempting authentication test to server-group using tacacs+",
	},
	"nxos": {
		SimPass:      "user has been authenticated",
		SimFail:      "user has failed authentication",
		SimAmbiguous: "server not responding",
		SimTimeout:   "",
	},
}

func (ss *simSession) probe(cmd string) *RawOutput {
	addr := ""
	for _, f := range strings.Fields(cmd) {
		if net.ParseIP(f) != nil {
			addr = f
			break
		}
	}

	outcome := ss.state.ProbeOutcomes[addr]
	if outcome == "" {
		outcome = SimPass
	}
	texts, ok := simProbeText[ss.platform.Name]
	if !ok {
		texts = simProbeText["ios"]
	}
	return &RawOutput{Text: texts[outcome], TimedOut: outcome == SimTimeout}
}

func isHeader(p *platform.Platform, line string) bool {
	gr := p.Grammar
	return (gr.ServerBlock != nil && gr.ServerBlock.MatchString(line)) ||
		(gr.GroupHeader != nil && gr.GroupHeader.MatchString(line))
}

func findOrAddBlock(st *simState, line string) *simBlock {
	for _, b := range st.blocks {
		if b.line == line {
			return b
		}
	}
	b := &simBlock{line: line}
	st.blocks = append(st.blocks, b)
	return b
}

func parseBlocks(text string) []*simBlock {
	var blocks []*simBlock
	var cur *simBlock
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if isChild(line) {
			if cur != nil {
				cur.children = append(cur.children, strings.TrimSpace(line))
			}
			continue
		}
		cur = &simBlock{line: line}
		blocks = append(blocks, cur)
	}
	return blocks
}

func isChild(line string) bool {
	return line[0] == ' ' || line[0] == '\t'
}

func render(blocks []*simBlock, indent string) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.line)
		sb.WriteByte('\n')
		for _, c := range b.children {
			sb.WriteString(indent)
			sb.WriteString(c)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (ss *simSession) Close() error {
	ss.cmdMu.Lock()
	defer ss.cmdMu.Unlock()
	ss.closed = true
	return nil
}

// String describes the simulator for logs.
func (s *Simulator) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("simulator(%d devices)", len(s.devices))
}
