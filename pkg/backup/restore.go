package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/newtron-network/newtauth/pkg/device"
	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
)

// RestorePlan loads a snapshot, verifies it, and returns the commands a
// restore onto target would send. Nothing is sent.
func RestorePlan(manifestPath string, target *spec.DeviceTarget) (*Backup, []string, error) {
	b, content, err := Load(manifestPath)
	if err != nil {
		return nil, nil, err
	}
	if b.Device != target.Name {
		return nil, nil, fmt.Errorf("backup belongs to %s, not %s", b.Device, target.Name)
	}
	if b.Platform != target.Platform {
		return nil, nil, fmt.Errorf("backup platform %s does not match %s platform %s", b.Platform, target.Name, target.Platform)
	}
	p, err := platform.Lookup(b.Platform)
	if err != nil {
		return nil, nil, err
	}
	return b, ReplayLines(content, p.ShouldSkip, p.BlockExit), nil
}

// Restore replays a verified snapshot onto target in configuration mode.
// It is never called by the migration flow; operators invoke it for incident
// recovery. A checksum mismatch refuses the restore before any session opens.
func Restore(ctx context.Context, opener device.Opener, target *spec.DeviceTarget, manifestPath string, timeout time.Duration) (*Backup, error) {
	b, lines, err := RestorePlan(manifestPath, target)
	if err != nil {
		return nil, err
	}
	p, err := platform.Lookup(target.Platform)
	if err != nil {
		return nil, err
	}

	s, err := device.OpenWithRetry(ctx, opener, target, device.ConnectAttempts)
	if err != nil {
		return nil, err
	}
	cli := device.NewCLI(target.Name, p, s, nil, timeout)
	defer cli.Close()

	logger := util.WithDevice(target.Name)
	logger.Infof("restoring %s snapshot from run %s (%d lines)", b.Kind, b.RunID, len(lines))
	if err := cli.Configure(ctx, lines); err != nil {
		return nil, fmt.Errorf("restoring %s: %w", target.Name, err)
	}
	logger.Info("restore complete")
	return b, nil
}
