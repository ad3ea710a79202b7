package device

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
)

// ConnectAttempts is the number of session attempts per device: the first
// try plus one retry.
const ConnectAttempts = 2

// ConnectBackoff is the wait before the first retry.
var ConnectBackoff = 2 * time.Second

const connectMaxBackoff = 10 * time.Second

// OpenWithRetry opens a session, retrying connect failures with exponential
// backoff up to attempts times. Errors that are not connect failures (unknown
// platform, unresolvable credentials) are not retried.
func OpenWithRetry(ctx context.Context, opener Opener, target *spec.DeviceTarget, attempts uint) (Session, error) {
	if attempts == 0 {
		attempts = ConnectAttempts
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ConnectBackoff
	bo.MaxInterval = connectMaxBackoff
	bo.RandomizationFactor = 0.2

	operation := func() (Session, error) {
		s, err := opener.Open(ctx, target)
		if err != nil {
			if errors.Is(err, util.ErrConnect) {
				util.WithDevice(target.Name).Debugf("connect attempt failed: %v", err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return s, nil
	}

	return backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(attempts))
}
