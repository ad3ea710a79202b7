// Package backup snapshots full device configurations before and after a
// migration and replays a snapshot onto a device on operator request.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/newtron-network/newtauth/pkg/device"
	"github.com/newtron-network/newtauth/pkg/util"
)

// SchemaVersion is the manifest format version.
const SchemaVersion = 1

// Kind tells a pre-change snapshot from a post-change one.
type Kind string

const (
	KindPre  Kind = "pre"
	KindPost Kind = "post"
)

// Backup is the manifest of one configuration snapshot. The configuration
// text lives next to it in ConfigPath.
type Backup struct {
	SchemaVersion int       `json:"schema_version"`
	Device        string    `json:"device"`
	Platform      string    `json:"platform"`
	RunID         string    `json:"run_id"`
	Kind          Kind      `json:"kind"`
	ConfigPath    string    `json:"config_path"`
	SHA256        string    `json:"sha256"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"created_at"`

	// ManifestPath is where this manifest was written or read from.
	ManifestPath string `json:"-"`
}

// Manager stores snapshots under <dir>/<device>/.
type Manager struct {
	dir string
}

// NewManager creates a manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the root directory.
func (m *Manager) Dir() string {
	return m.dir
}

// DeviceDir returns the directory holding a device's artifacts.
func (m *Manager) DeviceDir(deviceName string) string {
	return filepath.Join(m.dir, util.SanitizeName(deviceName))
}

// Snapshot reads the full running configuration through cli and stores it.
func (m *Manager) Snapshot(ctx context.Context, cli *device.CLI, runID string, kind Kind) (*Backup, error) {
	text, err := cli.RunningConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading running config of %s: %w", cli.Device, err)
	}
	return m.Save(cli.Device, cli.Platform.Name, runID, kind, text)
}

// Save writes content and its manifest as <run>-<kind>.cfg / .json.
func (m *Manager) Save(deviceName, platformName, runID string, kind Kind, content string) (*Backup, error) {
	dir := m.DeviceDir(deviceName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	base := filepath.Join(dir, fmt.Sprintf("%s-%s", runID, kind))
	b := &Backup{
		SchemaVersion: SchemaVersion,
		Device:        deviceName,
		Platform:      platformName,
		RunID:         runID,
		Kind:          kind,
		ConfigPath:    base + ".cfg",
		SHA256:        checksum([]byte(content)),
		Size:          int64(len(content)),
		CreatedAt:     time.Now().UTC(),
		ManifestPath:  base + ".json",
	}

	if err := os.WriteFile(b.ConfigPath, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("writing backup: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(b.ManifestPath, data, 0644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	util.WithDevice(deviceName).Debugf("saved %s snapshot %s (%d bytes)", kind, b.ConfigPath, b.Size)
	return b, nil
}

// TranscriptPath returns where a run's transcript for a device is written.
func (m *Manager) TranscriptPath(deviceName, runID string) string {
	return filepath.Join(m.DeviceDir(deviceName), runID+"-transcript.log")
}

// Load reads a manifest and its configuration, verifying the checksum.
func Load(manifestPath string) (*Backup, string, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading manifest: %w", err)
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, "", fmt.Errorf("parsing manifest %s: %w", manifestPath, err)
	}
	b.ManifestPath = manifestPath

	content, err := os.ReadFile(b.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading backup: %w", err)
	}
	if sum := checksum(content); sum != b.SHA256 {
		return nil, "", fmt.Errorf("%s: expected %s, got %s: %w", b.ConfigPath, b.SHA256, sum, util.ErrChecksumMismatch)
	}
	return &b, string(content), nil
}

// List returns the manifests stored for a device, oldest first.
func (m *Manager) List(deviceName string) ([]*Backup, error) {
	matches, err := filepath.Glob(filepath.Join(m.DeviceDir(deviceName), "*.json"))
	if err != nil {
		return nil, err
	}

	var out []*Backup
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		var b Backup
		if err := json.Unmarshal(data, &b); err != nil {
			util.Warnf("backup: skipping unreadable manifest %s: %v", path, err)
			continue
		}
		b.ManifestPath = path
		out = append(out, &b)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Kind == KindPre && out[j].Kind != KindPre
	})
	return out, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReplayLines returns the configuration commands a restore would send.
// Lines the platform marks as not replayable are dropped, and a block exit is
// inserted whenever a top-level line follows an indented one.
func ReplayLines(content string, skip func(string) bool, blockExit string) []string {
	var out []string
	inBlock := false
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimRight(raw, "\r \t")
		if strings.TrimSpace(line) == "" || skip(line) {
			continue
		}
		child := line[0] == ' ' || line[0] == '\t'
		if !child && inBlock && blockExit != "" {
			out = append(out, blockExit)
		}
		inBlock = child
		out = append(out, strings.TrimSpace(line))
	}
	if inBlock && blockExit != "" {
		out = append(out, blockExit)
	}
	return out
}
