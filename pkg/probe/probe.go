// Package probe runs device-mediated authentication tests against single
// AAA servers and classifies the responses.
package probe

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/newtron-network/newtauth/pkg/aaa"
	"github.com/newtron-network/newtauth/pkg/device"
	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
)

// Outcome is the classification of one probe.
type Outcome string

const (
	Pass      Outcome = "pass"
	Fail      Outcome = "fail"
	Ambiguous Outcome = "ambiguous"
	Timeout   Outcome = "timeout"
)

// Passed reports whether the outcome counts toward a retire decision.
// Only Pass does; Ambiguous and Timeout fail closed.
func (o Outcome) Passed() bool {
	return o == Pass
}

// MaxExcerpt bounds the raw response kept in a Result.
const MaxExcerpt = 512

// Result is the outcome of probing one candidate server.
type Result struct {
	Group    string        `json:"group"`
	Server   string        `json:"server"`
	Address  string        `json:"address"`
	Outcome  Outcome       `json:"outcome"`
	Excerpt  string        `json:"excerpt,omitempty"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration"`
}

// Credential is the synthetic login used for probes.
type Credential struct {
	Username string
	Password string
}

// Prober issues probes. A shared Limiter paces probes across all devices of
// a run so authentication services under test are not flooded.
type Prober struct {
	Timeout time.Duration
	// Attempts is the number of tries per candidate. Only the first attempt
	// is used today; later attempts are reserved for a retry policy.
	Attempts int

	limiter *rate.Limiter
}

// New creates a prober. limiter may be nil for unpaced probing.
func New(timeout time.Duration, limiter *rate.Limiter) *Prober {
	if timeout <= 0 {
		timeout = spec.DefaultProbeTimeout
	}
	return &Prober{Timeout: timeout, Attempts: 1, limiter: limiter}
}

// NewLimiter returns a limiter allowing perSecond probes with burst 1, or nil
// when perSecond is not positive.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Probe tests entry through the device behind cli. The command is addressed
// at the entry's own address, never the group, so the outcome is
// attributable to exactly one server. A lost session is returned as an
// error; every response, including none, is a Result.
func (p *Prober) Probe(ctx context.Context, cli *device.CLI, group string, proto spec.Protocol, entry *aaa.ServerEntry, cred Credential) (*Result, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	cli.Transcript.AddSecret(cred.Password)
	cmd := cli.Platform.Probe.Command(proto, entry.Server(), cred.Username, cred.Password)

	start := time.Now()
	out, err := cli.Run(ctx, cmd, p.Timeout)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Group:    group,
		Server:   entry.ID(),
		Address:  entry.Address,
		Outcome:  Classify(cli.Platform.Probe, out),
		Excerpt:  util.Truncate(cli.Transcript.Redact(out.Text), MaxExcerpt),
		Time:     start,
		Duration: time.Since(start),
	}
	util.WithDevice(cli.Device).WithField("server", r.Server).Infof("probe %s", r.Outcome)
	return r, nil
}

// Classify maps a probe response to an outcome. A recognized success token
// is a pass and a recognized failure token is a fail, even if the response
// arrived just before the deadline. A failure token wins over a success
// token. No token and a timeout is a timeout;
// no token otherwise is ambiguous.
func Classify(d platform.ProbeDialect, out *device.RawOutput) Outcome {
	for _, re := range d.Fail {
		if re.MatchString(out.Text) {
			return Fail
		}
	}
	for _, re := range d.Pass {
		if re.MatchString(out.Text) {
			return Pass
		}
	}
	if out.TimedOut {
		return Timeout
	}
	return Ambiguous
}
