// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config parses the broker's command-line surface with the
// standard flag package, matching spec.md §6 exactly: one flag per
// destination variable (fixing the source's flag-collision bug, spec.md §9
// Redesign Flag 5), plus the ambient additions SPEC_FULL.md adds for
// logging, frame framing mode, receipt suppression, and transport resource
// limits.
package config

import (
	"flag"
	"fmt"
	"io"
)

// Config is the fully parsed broker configuration.
type Config struct {
	// Database connection, spec.md §6 CLI surface.
	DBHost     string
	DBPort     string
	DBDatabase string
	DBSockDir  string
	DBUser     string
	DBPassword string

	// Port is the STOMP listen port; default 44444 (spec.md §6).
	Port int

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
	// LogFormat is "text" or "json".
	LogFormat string

	// FrameTrailingNewline selects the outgoing frame-terminator
	// convention (spec.md §6: both framing modes are accepted on
	// ingress regardless of this setting).
	FrameTrailingNewline bool

	// ReceiptSuppressOnError resolves Open Question 4 (SPEC_FULL.md):
	// suppress RECEIPT for a command whose handler already emitted ERROR.
	ReceiptSuppressOnError bool

	// MaxConns bounds concurrent TCP connections; 0 means unbounded.
	MaxConns int
	// ReadTimeoutSeconds and WriteTimeoutSeconds are copied into
	// server/tcp's Config (0 keeps its defaults); the transport does not set
	// socket read or write deadlines from them.
	ReadTimeoutSeconds  int
	WriteTimeoutSeconds int
}

// Parse parses args (typically os.Args[1:]) against the flag set described
// in spec.md §6, writing usage to errOutput on failure. Every flag is bound
// to its own destination field — no two flags ever alias the same variable.
func Parse(args []string, errOutput io.Writer) (Config, error) {
	fs := flag.NewFlagSet("stompd", flag.ContinueOnError)
	fs.SetOutput(errOutput)

	var cfg Config
	fs.StringVar(&cfg.DBHost, "dbhost", "localhost", "database host")
	fs.StringVar(&cfg.DBPort, "dbport", "5432", "database port")
	fs.StringVar(&cfg.DBDatabase, "dbdatabase", "stompd", "database name")
	fs.StringVar(&cfg.DBSockDir, "dbsockdir", "", "database unix socket directory (takes precedence over dbhost when set)")
	fs.StringVar(&cfg.DBUser, "dbuser", "stompd", "database user")
	fs.StringVar(&cfg.DBPassword, "dbpassword", "", "database password")
	fs.IntVar(&cfg.Port, "port", 44444, "STOMP listen port")

	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "log format: text, json")
	fs.BoolVar(&cfg.FrameTrailingNewline, "frame-trailing-newline", true, "append a trailing newline after each outgoing frame's null terminator")
	fs.BoolVar(&cfg.ReceiptSuppressOnError, "receipt-suppress-on-error", true, "suppress RECEIPT when the same command already produced an ERROR frame")

	fs.IntVar(&cfg.MaxConns, "max-conns", 0, "maximum concurrent connections (0 = unbounded)")
	fs.IntVar(&cfg.ReadTimeoutSeconds, "read-timeout", 0, "per-read timeout in seconds (0 = server default)")
	fs.IntVar(&cfg.WriteTimeoutSeconds, "write-timeout", 0, "per-write timeout in seconds (0 = server default)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(errOutput, "unrecognized arguments: %v\n", fs.Args())
		fs.Usage()
		return Config{}, flag.ErrHelp
	}
	return cfg, nil
}
