// Package sessionjanitor periodically purges expired sessions.
package sessionjanitor

import (
	"context"
	"time"

	"github.com/patric-chuzhbe/sinkgate/internal/logger"
)

type expiredPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

type SessionJanitor struct {
	sessions      expiredPurger
	sweepInterval time.Duration
	errorChannel  chan error
	done          chan struct{}
}

func New(
	sessions expiredPurger,
	sweepInterval time.Duration,
	errorChannelCapacity int,
) *SessionJanitor {
	return &SessionJanitor{
		sessions:      sessions,
		sweepInterval: sweepInterval,
		errorChannel:  make(chan error, errorChannelCapacity),
		done:          make(chan struct{}),
	}
}

// ListenErrors delivers sweep errors to callback on a separate goroutine.
func (j *SessionJanitor) ListenErrors(callback func(error)) {
	go func() {
		for err := range j.errorChannel {
			callback(err)
		}
	}()
}

// Run sweeps every sweepInterval until ctx is canceled.
func (j *SessionJanitor) Run(ctx context.Context) {
	go func() {
		defer close(j.done)
		defer close(j.errorChannel)

		ticker := time.NewTicker(j.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				purged, err := j.sessions.PurgeExpired(ctx, now)
				if err != nil {
					select {
					case j.errorChannel <- err:
					default:
						logger.Log.Warnln("session janitor error dropped:", err)
					}
					continue
				}
				if purged > 0 {
					logger.Log.Infof("purged %d expired sessions", purged)
				}
			}
		}
	}()
}

// Done is closed once Run has stopped.
func (j *SessionJanitor) Done() <-chan struct{} {
	return j.done
}
