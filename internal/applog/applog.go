// SPDX-License-Identifier: Apache-2.0

// Package applog builds the shared structured logger used by both
// binaries (SPEC_FULL.md component M), following the teacher's
// main.go log-level switch almost verbatim.
package applog

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	LevelAll   = "all"
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelNone  = "none"
)

// AvailableLevels is the comma-joined list shown in flag help text and
// error messages.
var AvailableLevels = strings.Join([]string{LevelAll, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelNone}, ", ")

// New builds a JSON logger filtered to levelName, writing to w, with
// timestamp and caller fields attached the way the teacher's main.go
// does for every log line.
func New(w io.Writer, levelName string) (log.Logger, error) {
	logger := log.NewJSONLogger(log.NewSyncWriter(w))

	switch levelName {
	case LevelAll:
		logger = level.NewFilter(logger, level.AllowAll())
	case LevelDebug:
		logger = level.NewFilter(logger, level.AllowDebug())
	case LevelInfo:
		logger = level.NewFilter(logger, level.AllowInfo())
	case LevelWarn:
		logger = level.NewFilter(logger, level.AllowWarn())
	case LevelError:
		logger = level.NewFilter(logger, level.AllowError())
	case LevelNone:
		logger = level.NewFilter(logger, level.AllowNone())
	default:
		return nil, fmt.Errorf("log level %v unknown; possible values are: %s", levelName, AvailableLevels)
	}

	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)
	return logger, nil
}
