package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
)

// SSHOpener opens interactive shell sessions over SSH with password auth.
type SSHOpener struct {
	// Secrets resolves the target's password reference.
	Secrets *spec.SecretCache
	// KnownHosts is an OpenSSH known_hosts file. Empty disables host key
	// checking (lab use).
	KnownHosts     string
	ConnectTimeout time.Duration
}

// NewSSHOpener creates an opener with the given connect timeout.
func NewSSHOpener(secrets *spec.SecretCache, knownHosts string, connectTimeout time.Duration) *SSHOpener {
	if connectTimeout <= 0 {
		connectTimeout = spec.DefaultConnectTimeout
	}
	return &SSHOpener{Secrets: secrets, KnownHosts: knownHosts, ConnectTimeout: connectTimeout}
}

// Open dials the target, requests a PTY, starts a shell, waits for the first
// prompt, and runs the platform's session setup commands.
func (o *SSHOpener) Open(ctx context.Context, target *spec.DeviceTarget) (Session, error) {
	addr := target.Addr()
	fail := func(err error) (Session, error) {
		return nil, util.NewConnectError(target.Name, addr, err)
	}

	p, err := platform.Lookup(target.Platform)
	if err != nil {
		return nil, err
	}

	pass, err := o.Secrets.Get(target.Credentials.PasswordRef)
	if err != nil {
		return nil, fmt.Errorf("credentials for %s: %w", target.Name, err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if o.KnownHosts != "" {
		hostKey, err = knownhosts.New(o.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts %s: %w", o.KnownHosts, err)
		}
	}

	config := &ssh.ClientConfig{
		User: target.Credentials.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(pass),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pass
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         o.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fail(err)
	}
	conn.SetDeadline(time.Now().Add(o.ConnectTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return fail(err)
	}
	conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)

	s, err := newShellSession(target.Name, addr, client)
	if err != nil {
		client.Close()
		return fail(err)
	}

	// First prompt after login.
	out, err := s.wait(ctx, "", p.Expect(), o.ConnectTimeout)
	if err != nil {
		s.Close()
		return nil, err
	}
	if out.TimedOut {
		s.Close()
		return fail(errors.New("no prompt after login"))
	}

	for _, cmd := range p.SetupCommands {
		if _, err := s.Execute(ctx, cmd, p.Expect(), o.ConnectTimeout); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// shellSession is an SSH interactive shell. A reader goroutine collects
// output into buf; Execute waits on notify for new data.
type shellSession struct {
	device string
	addr   string
	stdin  io.Writer
	closer func() error

	cmdMu sync.Mutex
	// pending holds the echo and prompt patterns of a command that timed
	// out. Its reply may still arrive and must not be read as the next
	// command's output.
	pending *pendingReply

	mu      sync.Mutex
	buf     strings.Builder
	readErr error
	notify  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

type pendingReply struct {
	echo   string
	expect []*regexp.Regexp
}

func newShellSession(device, addr string, client *ssh.Client) (*shellSession, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("SSH session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := sess.RequestPty("vt100", 0, 511, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("requesting PTY: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("starting shell: %w", err)
	}

	return newShell(device, addr, stdin, stdout, func() error {
		sess.Close()
		return client.Close()
	}), nil
}

// newShell starts collecting stdout. closer must make stdout return an error
// so the reader goroutine exits.
func newShell(device, addr string, stdin io.Writer, stdout io.Reader, closer func() error) *shellSession {
	s := &shellSession{
		device: device,
		addr:   addr,
		stdin:  stdin,
		closer: closer,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop(stdout)
	return s
}

func (s *shellSession) readLoop(r io.Reader) {
	defer s.wg.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf.Write(chunk[:n])
			s.mu.Unlock()
			s.signal()
		}
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			close(s.done)
			return
		}
	}
}

func (s *shellSession) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Execute sends command and waits for its echo followed by one of expect.
// A timed-out command leaves the session waiting for its prompt; the next
// Execute first waits up to timeout for that prompt and fails with a
// ConnectError if it never comes.
func (s *shellSession) Execute(ctx context.Context, command string, expect []*regexp.Regexp, timeout time.Duration) (*RawOutput, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if p := s.pending; p != nil {
		out, err := s.wait(ctx, p.echo, p.expect, timeout)
		if err != nil {
			return nil, err
		}
		if out.TimedOut {
			return nil, util.NewConnectError(s.device, s.addr, errors.New("session out of sync: no prompt after timed-out command"))
		}
		s.pending = nil
	}

	// Discard anything left over from earlier commands.
	s.mu.Lock()
	s.buf.Reset()
	readErr := s.readErr
	s.mu.Unlock()
	if readErr != nil {
		return nil, util.NewConnectError(s.device, s.addr, readErr)
	}

	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return nil, util.NewConnectError(s.device, s.addr, err)
	}

	echo := echoOf(command)
	out, err := s.wait(ctx, echo, expect, timeout)
	if err != nil {
		return nil, err
	}
	if out.TimedOut {
		s.pending = &pendingReply{echo: echo, expect: expect}
	}
	out.Text = cleanOutput(out.Text, command, !out.TimedOut)
	return out, nil
}

// echoLen caps how much of a command must be echoed back. Long lines may be
// scrolled or wrapped by the device.
const echoLen = 40

func echoOf(command string) string {
	echo := strings.TrimSpace(command)
	if len(echo) > echoLen {
		echo = echo[:echoLen]
	}
	return echo
}

// wait blocks until one of expect matches the buffered output. When echo is
// set, only output from the echo onward is considered and returned.
func (s *shellSession) wait(ctx context.Context, echo string, expect []*regexp.Regexp, timeout time.Duration) (*RawOutput, error) {
	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		text := normalize(s.buf.String())
		s.mu.Unlock()

		echoed := true
		if echo != "" {
			if i := strings.Index(text, echo); i >= 0 {
				text = text[i:]
			} else {
				echoed = false
			}
		}
		if echoed {
			for _, re := range expect {
				if re.MatchString(text) {
					return &RawOutput{Text: text, Duration: time.Since(start)}, nil
				}
			}
		}

		select {
		case <-s.notify:
		case <-timer.C:
			return &RawOutput{Text: text, TimedOut: true, Duration: time.Since(start)}, nil
		case <-s.done:
			s.mu.Lock()
			err := s.readErr
			s.mu.Unlock()
			return nil, util.NewConnectError(s.device, s.addr, fmt.Errorf("session closed: %w", err))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close ends the shell and the SSH connection.
func (s *shellSession) Close() error {
	err := s.closer()
	s.wg.Wait()
	return err
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

func normalize(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// cleanOutput drops the echoed command line, and the trailing prompt line
// when prompted is set. Without a prompt the last line is partial output.
func cleanOutput(text, command string, prompted bool) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && strings.Contains(lines[0], echoOf(command)) {
		lines = lines[1:]
	}
	if prompted && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
