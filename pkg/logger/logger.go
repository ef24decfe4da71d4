// Copyright 2018-2021 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package logger constructs the zerolog loggers used across the daemon.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Option customizes the logger.
type Option func(*options)

type options struct {
	level  string
	pretty bool
	out    io.Writer
}

// WithLevel sets the minimum level ("debug", "info", "warn", "error").
func WithLevel(level string) Option {
	return func(o *options) { o.level = level }
}

// WithPretty enables the human console writer instead of JSON output.
func WithPretty(pretty bool) Option {
	return func(o *options) { o.pretty = pretty }
}

// WithWriter sets the output writer.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// New returns a configured zerolog logger.
func New(opts ...Option) *zerolog.Logger {
	o := &options{level: "info", out: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	lvl, err := zerolog.ParseLevel(o.level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	out := o.out
	if o.pretty {
		out = zerolog.ConsoleWriter{Out: o.out}
	}

	l := zerolog.New(out).With().Timestamp().Logger().Level(lvl)
	return &l
}
