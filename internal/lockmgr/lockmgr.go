// SPDX-License-Identifier: Apache-2.0

package lockmgr

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/efficientgo/core/errors"
)

// Manager owns a lock root directory, one subdirectory per locked
// device slug.
type Manager struct {
	Root string
}

// New returns a Manager rooted at root. The root is created lazily on
// first Checkout.
func New(root string) *Manager {
	return &Manager{Root: root}
}

// ConflictError is returned by Checkout when a live holder already
// exists, and by Checkin when refusing to release another live
// holder's lock without force.
type ConflictError struct {
	Name string
	Info Info
}

func (e *ConflictError) Error() string {
	purpose := e.Info.Purpose
	if purpose == "" {
		purpose = "(no purpose given)"
	}
	return fmt.Sprintf("%q is locked by %s since %s: %s", e.Name, e.Info.Owner, e.Info.Timestamp.Format(time.RFC3339), purpose)
}

// CheckoutOptions configures Checkout. Zero values mean "use the
// spec-mandated default" (TTL) or "none" (Owner/Purpose/Wait).
type CheckoutOptions struct {
	Owner       string
	Purpose     string
	TTL         time.Duration
	Wait        bool
	WaitTimeout time.Duration
}

// Checkout acquires the lock for name, reclaiming a stale holder if
// present. It fails with *ConflictError if a live holder exists and
// Wait is false, or if Wait is true and WaitTimeout elapses first.
func (m *Manager) Checkout(ctx context.Context, name string, opts CheckoutOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	owner := opts.Owner
	if owner == "" {
		owner = defaultOwner()
	}

	deadline := time.Now().Add(opts.WaitTimeout)
	for {
		err := m.tryAcquire(name, Info{
			PID:       os.Getpid(),
			Owner:     owner,
			Timestamp: time.Now(),
			Purpose:   opts.Purpose,
			TTL:       ttl,
		})
		if err == nil {
			return nil
		}
		if _, ok := err.(*ConflictError); !ok || !opts.Wait || time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// tryAcquire makes a single reclaim-then-acquire attempt.
func (m *Manager) tryAcquire(name string, info Info) error {
	slug := Slug(name)
	dir := filepath.Join(m.Root, slug)

	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create lock root %s", m.Root)
	}

	if existing, ok, err := readInfo(dir); err != nil {
		return err
	} else if ok {
		if !isStale(existing) {
			return &ConflictError{Name: name, Info: existing}
		}
		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrapf(err, "failed to reclaim stale lock %s", dir)
		}
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			// Lost a race with another acquirer; report whatever is
			// there now as a conflict rather than looping forever.
			if existing, ok, rerr := readInfo(dir); rerr == nil && ok {
				return &ConflictError{Name: name, Info: existing}
			}
			return errors.Wrapf(err, "failed to acquire lock %s", dir)
		}
		return errors.Wrapf(err, "failed to create lock directory %s", dir)
	}

	return writeInfo(dir, info)
}

// Checkin releases the lock for name. Releasing a non-existent lock
// succeeds silently. Releasing another live holder's lock fails unless
// force is set.
func (m *Manager) Checkin(name string, force bool) error {
	dir := filepath.Join(m.Root, Slug(name))

	info, ok, err := readInfo(dir)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if !force && isAlive(info.PID) && info.PID != os.Getpid() {
		return &ConflictError{Name: name, Info: info}
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to remove lock %s", dir)
	}
	return nil
}

// List enumerates all locks under the root, flagging stale ones. The
// Name field is the slug, since the directory name is the only record
// kept on disk of which device a lock belongs to.
func (m *Manager) List() ([]Status, error) {
	entries, err := os.ReadDir(m.Root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list lock root %s", m.Root)
	}

	var out []Status
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(m.Root, e.Name())
		info, ok, err := readInfo(dir)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, Status{Name: e.Name(), Slug: e.Name(), Info: info, Stale: isStale(info)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func isStale(info Info) bool {
	if !isAlive(info.PID) {
		return true
	}
	return time.Now().After(info.Timestamp.Add(info.TTL))
}

func defaultOwner() string {
	owner := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		owner = u.Username
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		owner += "@" + host
	}
	return owner
}

func infoPath(dir string) string { return filepath.Join(dir, "info") }

func readInfo(dir string) (Info, bool, error) {
	data, err := os.ReadFile(infoPath(dir))
	if os.IsNotExist(err) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, errors.Wrapf(err, "failed to read lock info %s", dir)
	}

	var info Info
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch key {
		case "PID":
			info.PID, _ = strconv.Atoi(value)
		case "OWNER":
			info.Owner = value
		case "TIMESTAMP":
			info.Timestamp, _ = time.Parse(time.RFC3339, value)
		case "PURPOSE":
			info.Purpose = value
		case "TTL":
			secs, _ := strconv.Atoi(value)
			info.TTL = time.Duration(secs) * time.Second
		}
	}
	return info, true, nil
}

func writeInfo(dir string, info Info) error {
	var b strings.Builder
	fmt.Fprintf(&b, "PID=%d\n", info.PID)
	fmt.Fprintf(&b, "OWNER=%s\n", info.Owner)
	fmt.Fprintf(&b, "TIMESTAMP=%s\n", info.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "PURPOSE=%s\n", info.Purpose)
	fmt.Fprintf(&b, "TTL=%d\n", int(info.TTL.Seconds()))

	if err := os.WriteFile(infoPath(dir), []byte(b.String()), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write lock info %s", dir)
	}
	return nil
}
