// Package retry implements the fixed-attempt, fixed-delay retry policy
// used for downloads, exports, and uploads: three attempts total, a
// 7-second delay between attempts, retrying only on transient remote
// conditions (ClassTransient) and generic local I/O errors (ClassLocalIO).
package retry

import (
	"context"
	"time"

	jujuretry "github.com/juju/retry"

	"drivearchive/pkg/driveport"
)

// Attempts and Delay are fixed, not configurable: 3 attempts total with a
// 7-second inter-attempt delay.
const (
	Attempts = 3
	Delay    = 7 * time.Second
)

// Do runs fn up to Attempts times with Delay between attempts. It retries
// when fn's error classifies as ClassTransient or ClassLocalIO; DiskFull,
// Permanent, and Cancelled errors are returned immediately without retry.
// Between attempts, cleanup is invoked so the caller can delete any
// partial output before the next attempt.
func Do(ctx context.Context, fn func() error, cleanup func()) error {
	isFatal := func(err error) bool {
		class := driveport.Classify(err)
		return class != driveport.ClassTransient && class != driveport.ClassLocalIO
	}
	attempt := 0
	err := jujuretry.Call(jujuretry.CallArgs{
		Func: func() error {
			attempt++
			err := fn()
			if err != nil && attempt < Attempts && !isFatal(err) {
				cleanup()
			}
			return err
		},
		IsFatalError: isFatal,
		Attempts:     Attempts,
		Delay:        Delay,
		Clock:        wallClock{},
		Stop:         ctx.Done(),
	})
	return err
}

// wallClock is the real-time clock jujuretry.Call waits on between attempts.
type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
