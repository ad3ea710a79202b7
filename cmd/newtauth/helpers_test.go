package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtauth/pkg/backup"
	"github.com/newtron-network/newtauth/pkg/cli"
	"github.com/newtron-network/newtauth/pkg/device"
	"github.com/newtron-network/newtauth/pkg/ledger"
	"github.com/newtron-network/newtauth/pkg/spec"
)

const edgeConfig = `hostname edge1
tacacs server OLD1
 address ipv4 10.0.0.1
 key 7 0822455D0A16
aaa group server tacacs+ TAC
 server name OLD1
`

func testPlan() *spec.Plan {
	p := &spec.Plan{
		Groups: []spec.GroupPlan{{
			Name:       "TAC",
			Protocol:   spec.ProtocolTACACS,
			Candidates: []spec.ServerSpec{{Name: "NEW1", Address: "10.9.0.1", SecretRef: "env:NEWTAUTH_TEST_UNSET"}},
		}},
		Probe: spec.ProbeSpec{Username: "probe", PasswordRef: "prompt"},
	}
	p.ApplyDefaults()
	return p
}

func TestPreviewDevice(t *testing.T) {
	t.Run("from sim_config", func(t *testing.T) {
		target := &spec.DeviceTarget{
			Name: "edge1", Address: "192.0.2.1", Platform: "ios",
			Metadata: map[string]string{device.SimConfigKey: edgeConfig},
		}
		var buf bytes.Buffer
		if err := previewDevice(&buf, backup.NewManager(t.TempDir()), target, testPlan()); err != nil {
			t.Fatalf("previewDevice: %v", err)
		}
		out := buf.String()
		for _, want := range []string{
			cli.Bold("edge1") + " (ios, config from sim_config)",
			"[ADD] tacacs server NEW1",
			"[ADD] key <redacted>",
			"[ADD] server name NEW1",
			"group TAC: after a passing probe (keep-if-any-pass)",
			"[DEL] no server name OLD1",
			"[DEL] no tacacs server OLD1",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("preview missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("newest snapshot wins", func(t *testing.T) {
		bm := backup.NewManager(t.TempDir())
		migrated := edgeConfig + "tacacs server NEW1\n address ipv4 10.9.0.1\n key 7 0822455D0A17\naaa group server tacacs+ TAC\n server name NEW1\n"
		if _, err := bm.Save("edge1", "ios", "run-1", backup.KindPost, migrated); err != nil {
			t.Fatal(err)
		}
		target := &spec.DeviceTarget{Name: "edge1", Address: "192.0.2.1", Platform: "ios"}

		var buf bytes.Buffer
		if err := previewDevice(&buf, bm, target, testPlan()); err != nil {
			t.Fatalf("previewDevice: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, "post snapshot of run run-1") {
			t.Errorf("expected snapshot source:\n%s", out)
		}
		if strings.Contains(out, "[ADD]") {
			t.Errorf("candidate already present, expected no additions:\n%s", out)
		}
	})

	t.Run("no known config", func(t *testing.T) {
		target := &spec.DeviceTarget{Name: "edge9", Address: "192.0.2.9", Platform: "ios"}
		var buf bytes.Buffer
		err := previewDevice(&buf, backup.NewManager(t.TempDir()), target, testPlan())
		if err == nil || !strings.Contains(err.Error(), "edge9") {
			t.Errorf("previewDevice() error = %v, want an edge9 error", err)
		}
	})
}

func TestIsSettingsOrVersion(t *testing.T) {
	root := &cobra.Command{Use: "newtauth"}
	settingsCmd := &cobra.Command{Use: "settings"}
	showCmd := &cobra.Command{Use: "show"}
	runCmd := &cobra.Command{Use: "run"}
	settingsCmd.AddCommand(showCmd)
	root.AddCommand(settingsCmd, runCmd)

	tests := []struct {
		cmd  *cobra.Command
		want bool
	}{
		{showCmd, true},
		{settingsCmd, true},
		{runCmd, false},
	}
	for _, tt := range tests {
		if got := isSettingsOrVersion(tt.cmd); got != tt.want {
			t.Errorf("isSettingsOrVersion(%s) = %v, want %v", tt.cmd.Name(), got, tt.want)
		}
	}
}

func TestSeedDryRunLedger(t *testing.T) {
	dir := t.TempDir()
	live, err := ledger.Open(filepath.Join(dir, "ledger.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	for _, dev := range []string{"edge1", "edge2"} {
		rec := &ledger.Record{
			Device: dev, Platform: "ios", Group: "TAC", Protocol: spec.ProtocolTACACS,
			Entry: ledger.Server{Name: "OLD1", Address: "10.0.0.1"},
			Added: []ledger.Server{{Name: "NEW1", Address: "10.9.0.1"}},
			RunID: "run-1",
		}
		if err := live.Record(rec); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := live.Resolve("edge2", "OLD1@10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(live.Path())
	if err != nil {
		t.Fatal(err)
	}

	dry, err := ledger.Open(filepath.Join(dir, "runs", "run-2", "ledger.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	n, err := seedDryRunLedger(live, dry)
	if err != nil {
		t.Fatalf("seedDryRunLedger: %v", err)
	}
	if n != 1 {
		t.Errorf("seeded %d records, want 1", n)
	}

	open, err := dry.Unresolved()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].Device != "edge1" || open[0].Entry.ID() != "OLD1@10.0.0.1" {
		t.Errorf("dry-run ledger = %+v, want the edge1 record", open)
	}

	if _, err := dry.Resolve("edge1", "OLD1@10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	after, err := os.ReadFile(live.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("live ledger changed during a dry run")
	}
}

func TestLockHolder(t *testing.T) {
	h := lockHolder("run-1")
	if !strings.HasPrefix(h, "newtauth/") || !strings.HasSuffix(h, "/run-1") {
		t.Errorf("lockHolder() = %q", h)
	}
}

func TestSelectDevices(t *testing.T) {
	targets := []*spec.DeviceTarget{{Name: "edge1"}, {Name: "edge2"}, {Name: "edge3"}}

	tests := []struct {
		name    string
		only    string
		want    []string
		wantErr bool
	}{
		{"empty selects all", "", []string{"edge1", "edge2", "edge3"}, false},
		{"subset in given order", "edge3, edge1", []string{"edge3", "edge1"}, false},
		{"unknown device", "edge1,edge9", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectDevices(targets, tt.only)
			if (err != nil) != tt.wantErr {
				t.Fatalf("selectDevices() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("selectDevices() = %d devices, want %d", len(got), len(tt.want))
			}
			for i, name := range tt.want {
				if got[i].Name != name {
					t.Errorf("selectDevices()[%d] = %s, want %s", i, got[i].Name, name)
				}
			}
		})
	}
}
