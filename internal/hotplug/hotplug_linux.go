// SPDX-License-Identifier: Apache-2.0

//go:build linux

package hotplug

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// linuxSource watches /dev for tty create/remove events via inotify.
type linuxSource struct {
	watcher *fsnotify.Watcher
	signal  chan struct{}
	done    chan struct{}
}

// New opens an inotify watch on /dev, coalescing tty hotplug events
// into a single signal channel, grounded on the fsnotify idiom used
// for the same purpose elsewhere in the example corpus.
func New(logger log.Logger) (Source, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add("/dev"); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	s := &linuxSource{
		watcher: watcher,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run(logger)
	return s, nil
}

func (s *linuxSource) run(logger log.Logger) {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !strings.HasPrefix(name, "tty") && !strings.HasPrefix(name, "cu.") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			s.raise()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			_ = level.Warn(logger).Log("msg", "fsnotify error watching /dev", "err", err)
		}
	}
}

func (s *linuxSource) raise() {
	select {
	case s.signal <- struct{}{}:
	default:
		// Already signaled and not yet consumed; events are coalesced.
	}
}

func (s *linuxSource) Signal() <-chan struct{} { return s.signal }

func (s *linuxSource) Close() error {
	close(s.done)
	return s.watcher.Close()
}
