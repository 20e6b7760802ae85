// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package hotplug

import (
	"time"

	"github.com/go-kit/log"
)

// tickerSource degrades to pure timer polling at KeepaliveInterval on
// platforms without a native hotplug facility, per spec.md section
// 4.J. The agent's main loop still wakes every keepalive interval and
// re-scans regardless of source, so this is a legal (if less
// responsive) Source.
type tickerSource struct {
	ticker *time.Ticker
	signal chan struct{}
	done   chan struct{}
}

// New returns a timer-driven fallback Source. logger is accepted for
// interface symmetry with the Linux implementation but unused: a
// ticker has nothing to log errors about.
func New(logger log.Logger) (Source, error) {
	s := &tickerSource{
		ticker: time.NewTicker(KeepaliveInterval),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *tickerSource) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			select {
			case s.signal <- struct{}{}:
			default:
			}
		}
	}
}

func (s *tickerSource) Signal() <-chan struct{} { return s.signal }

func (s *tickerSource) Close() error {
	s.ticker.Stop()
	close(s.done)
	return nil
}
