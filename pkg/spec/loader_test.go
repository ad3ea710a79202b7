package spec

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/newtauth/pkg/util"
)

const testPlan = `
policy: require-all-pass
save_config: true
groups:
  - name: ISE
    protocol: tacacs+
    candidates:
      - name: S1
        address: 10.1.0.1
        secret_ref: env:S1_KEY
      - name: S2
        address: 10.1.0.2
        secret_ref: plain:k2
    retire: [S0]
probe:
  username: probe-user
  password_ref: env:PROBE_PASS
timeouts:
  probe: 45s
`

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan([]byte(testPlan))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if p.Policy != PolicyRequireAllPass {
		t.Errorf("Policy = %q", p.Policy)
	}
	if !p.SaveConfig {
		t.Error("SaveConfig should be true")
	}
	if p.Timeouts.Probe != 45*time.Second {
		t.Errorf("Probe timeout = %v, want 45s", p.Timeouts.Probe)
	}
	if p.Timeouts.Command != DefaultCommandTimeout {
		t.Errorf("Command timeout default not applied: %v", p.Timeouts.Command)
	}
	g := p.Group("ISE")
	if g == nil {
		t.Fatal("group ISE not found")
	}
	if len(g.Candidates) != 2 || g.Candidates[1].Name != "S2" {
		t.Errorf("candidates = %+v", g.Candidates)
	}
	if p.Group("missing") != nil {
		t.Error("Group(missing) should be nil")
	}
}

func TestParsePlan_DefaultPolicy(t *testing.T) {
	doc := strings.Replace(testPlan, "policy: require-all-pass\n", "", 1)
	p, err := ParsePlan([]byte(doc))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if p.Policy != PolicyKeepIfAnyPass {
		t.Errorf("default policy = %q, want %q", p.Policy, PolicyKeepIfAnyPass)
	}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Plan)
		wantMsg string
	}{
		{"unknown policy", func(p *Plan) { p.Policy = "first-wins" }, "unknown policy"},
		{"no groups", func(p *Plan) { p.Groups = nil }, "no groups"},
		{"bad protocol", func(p *Plan) { p.Groups[0].Protocol = "ldap" }, "protocol must be"},
		{"no candidates", func(p *Plan) { p.Groups[0].Candidates = nil }, "at least one candidate"},
		{"bad address", func(p *Plan) { p.Groups[0].Candidates[0].Address = "host.example" }, "not an IP address"},
		{"missing secret", func(p *Plan) { p.Groups[0].Candidates[0].SecretRef = "" }, "secret_ref is required"},
		{"retire candidate", func(p *Plan) { p.Groups[0].Retire = []string{"S1"} }, "both candidate and retiring"},
		{"duplicate group", func(p *Plan) { p.Groups = append(p.Groups, p.Groups[0]) }, "duplicate group"},
		{"no probe user", func(p *Plan) { p.Probe.Username = "" }, "probe.username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePlan([]byte(testPlan))
			if err != nil {
				t.Fatalf("ParsePlan: %v", err)
			}
			tt.mutate(p)
			err = p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("error should wrap ErrValidationFailed: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoadDevices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.yaml")
	doc := `
devices:
  - name: edge1
    address: 192.0.2.10
    platform: ios
    credentials:
      username: netops
      password_ref: env:EDGE_PASS
  - name: edge2
    address: 2001:db8::2
    port: 2222
    platform: nxos
    metadata:
      site: nyc
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	devices, err := LoadDevices(path)
	if err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if got := devices[0].Addr(); got != "192.0.2.10:22" {
		t.Errorf("Addr() = %q, want default port 22", got)
	}
	if got := devices[1].Addr(); got != "[2001:db8::2]:2222" {
		t.Errorf("Addr() = %q", got)
	}
	if devices[0].Credentials.PasswordRef != "env:EDGE_PASS" {
		t.Errorf("credentials not decoded: %+v", devices[0].Credentials)
	}
	if devices[1].Metadata["site"] != "nyc" {
		t.Errorf("metadata not decoded: %+v", devices[1].Metadata)
	}
}

func TestValidateDevices(t *testing.T) {
	err := ValidateDevices([]*DeviceTarget{
		{Name: "a", Address: "192.0.2.1", Platform: "ios"},
		{Name: "a", Address: "192.0.2.2", Platform: "ios"},
		{Name: "c", Platform: "ios"},
		{Name: "d", Address: "192.0.2.4"},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"duplicate name", "address is required", "platform is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}

	if err := ValidateDevices(nil); err == nil {
		t.Error("empty device list should fail validation")
	}
}

func TestResolveSecret(t *testing.T) {
	t.Setenv("NEWTAUTH_TEST_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	if err := os.WriteFile(path, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{"env:NEWTAUTH_TEST_SECRET", "from-env", false},
		{"env:NEWTAUTH_TEST_UNSET_VAR", "", true},
		{"file:" + path, "from-file", false},
		{"file:" + filepath.Join(dir, "missing"), "", true},
		{"plain:literal", "literal", false},
		{"vault:secret/x", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ResolveSecret(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveSecret(%q) err = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveSecret(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolveSecret_Prompt(t *testing.T) {
	orig := promptPassword
	defer func() { promptPassword = orig }()
	promptPassword = func(label string) (string, error) { return "typed", nil }

	got, err := ResolveSecret(SecretPrompt)
	if err != nil || got != "typed" {
		t.Errorf("ResolveSecret(prompt) = %q, %v", got, err)
	}
}

func TestSecretCache(t *testing.T) {
	calls := 0
	c := NewSecretCache()
	c.resolve = func(ref string) (string, error) {
		calls++
		return "v-" + ref, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.Get("prompt")
		if err != nil || v != "v-prompt" {
			t.Fatalf("Get = %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("resolver called %d times, want 1", calls)
	}
}
