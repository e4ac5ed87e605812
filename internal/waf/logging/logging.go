// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging is the WAF's leveled, structured logger. The teacher
// itself only prints with fmt.Printf/log.Fatalf; spec §7's error taxonomy
// ("logged at WARN", "previous snapshot stays authoritative") requires a
// first-class distinction between recoverable and fatal conditions that the
// teacher's own domain never needed, so this adopts the rest of the
// retrieved pack's choice, github.com/rs/zerolog, rather than growing a
// bespoke level scheme on top of the stdlib log package.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Configure replaces the package logger. pretty selects a human-readable
// console writer (local/dev); otherwise output is newline-delimited JSON,
// suitable for the same log-aggregation pipelines the rest of the corpus
// assumes.
func Configure(level string, pretty bool) {
	mu.Lock()
	defer mu.Unlock()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// L returns the current package logger. Components hold onto the value
// returned here rather than calling the package funcs below when they need
// to attach fields (e.g. a request id) for the lifetime of a unit of work.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Warn logs a recoverable-error event per §7 (config-store failure,
// invalid stored record, profile validation failure, ...): never fatal,
// always accompanied by the component and reason.
func Warn(component, msg string, err error) {
	ev := L().Warn().Str("component", component)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

// Error logs an unexpected-but-still-recoverable condition, distinct from
// Warn only in severity for alerting purposes; the request path never
// aborts because of one (§7: "never propagates").
func Error(component, msg string, err error) {
	ev := L().Error().Str("component", component)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

// Info logs a routine lifecycle event (startup, sync tick summary, ...).
func Info(component, msg string) {
	L().Info().Str("component", component).Msg(msg)
}

// Fatal logs and exits, reserved for process-bootstrap failures that have
// no "best available decision" per §7 (e.g. an unparsable listen address) —
// distinct from every other level here, which must never abort a request.
func Fatal(component, msg string, err error) {
	L().Fatal().Str("component", component).Err(err).Msg(msg)
}
