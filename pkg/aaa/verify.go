package aaa

import (
	"github.com/newtron-network/newtauth/pkg/util"
)

// VerifyPresent checks that every candidate is a member of its group in a
// freshly re-read configuration.
func VerifyPresent(device string, cfg *Config, gs *GroupState) error {
	for _, c := range gs.Candidates {
		if !cfg.IsMember(gs.Name, c) {
			return util.NewVerificationError(device, gs.Name, c.ID(), "present")
		}
	}
	return nil
}

// VerifyRetired checks that nothing in group still refers to entry in a
// freshly re-read configuration. A command that returned success is not
// proof: devices can silently ignore a removal.
func VerifyRetired(device string, cfg *Config, group string, entry *ServerEntry) error {
	if cfg.Mentions(group, entry) {
		return util.NewVerificationError(device, group, entry.ID(), "absent")
	}
	return nil
}
