// SPDX-License-Identifier: Apache-2.0

// Package probe implements the synchronous bootloader handshake
// described in spec.md section 4.L: open the device at 115200 baud
// with DTR asserted, send a framed synchronization packet, and
// classify the device by whether (and how) it answers.
package probe

import (
	"time"

	"github.com/go-kit/log"
	"go.bug.st/serial"
)

// State is the classification produced by a single handshake.
type State string

const (
	Running    State = "running"
	Bootloader State = "bootloader"
	Unknown    State = "unknown"
)

const (
	baudRate    = 115200
	readTimeout = 150 * time.Millisecond
)

// transport is the minimal serial port surface Probe needs, narrowed
// so tests can supply an in-memory fake instead of opening real
// hardware.
type transport interface {
	SetDTR(bool) error
	SetReadTimeout(time.Duration) error
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Close() error
}

// Prober performs bootloader handshakes and remembers the result per
// identifier, so a device is probed at most once per appearance
// (spec.md section 4.L), avoiding contention with whatever else might
// be using the port.
type Prober struct {
	Logger log.Logger

	cache map[string]State
	open  func(path string) (transport, error)
}

// New returns a ready-to-use Prober.
func New(logger log.Logger) *Prober {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Prober{
		Logger: logger,
		cache:  make(map[string]State),
		open: func(path string) (transport, error) {
			return serial.Open(path, &serial.Mode{BaudRate: baudRate})
		},
	}
}

// Forget clears any cached result for identifier, so the next Probe
// call for it performs a fresh handshake. Call this when a device
// disappears, so its next appearance is treated as new.
func (p *Prober) Forget(identifier string) {
	delete(p.cache, identifier)
}

// Probe classifies the device at path, identified by identifier.
// Subsequent calls for the same identifier return the cached result
// without touching the port again.
func (p *Prober) Probe(identifier, path string) State {
	if state, ok := p.cache[identifier]; ok {
		return state
	}
	state := p.handshake(path)
	p.cache[identifier] = state
	return state
}

func (p *Prober) handshake(path string) State {
	port, err := p.open(path)
	if err != nil {
		return Unknown
	}
	defer func() { _ = port.Close() }()

	if err := port.SetDTR(true); err != nil {
		return Unknown
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return Unknown
	}
	if _, err := port.Write(buildSyncFrame()); err != nil {
		return Unknown
	}

	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		n, err := port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if payload, ok := extractFrame(buf); ok {
				return classify(payload)
			}
		}
		if err != nil {
			// A read timeout with no bytes at all means no reply
			// arrived in time: the device is presumed to be running
			// its application firmware, not the bootloader.
			break
		}
	}
	return Running
}

// classify inspects an unescaped response payload's command byte
// (offset 1), per spec.md section 4.L.
func classify(payload []byte) State {
	if len(payload) > 1 && payload[1] == 0x08 {
		return Bootloader
	}
	return Unknown
}
