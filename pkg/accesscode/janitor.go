package accesscode

import (
	"context"
	"time"

	"github.com/csremote/broker/pkg/logger"
)

// Janitor prunes expired codes in the background.
type Janitor struct {
	store    *Store
	interval time.Duration
	log      *logger.Logger

	stop chan struct{}
	done chan struct{}
}

func NewJanitor(store *Store, interval time.Duration, log *logger.Logger) *Janitor {
	return &Janitor{store: store, interval: interval, log: log,
		stop: make(chan struct{}), done: make(chan struct{})}
}

func (j *Janitor) Run() {
	if j.interval <= 0 {
		close(j.done)
		return
	}
	go func() {
		defer close(j.done)
		t := time.NewTicker(j.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if n := j.store.Sweep(); n > 0 {
					j.log.Debug().Msgf("swept %v expired codes", n)
				}
			case <-j.stop:
				return
			}
		}
	}()
}

func (j *Janitor) Shutdown(ctx context.Context) error {
	select {
	case <-j.stop:
	default:
		close(j.stop)
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) String() string { return "accesscode janitor" }
