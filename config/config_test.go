// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil, io.Discard)
	require.NoError(t, err)

	require.Equal(t, "localhost", cfg.DBHost)
	require.Equal(t, "5432", cfg.DBPort)
	require.Equal(t, "stompd", cfg.DBDatabase)
	require.Equal(t, "", cfg.DBSockDir)
	require.Equal(t, 44444, cfg.Port)
	require.True(t, cfg.FrameTrailingNewline)
	require.True(t, cfg.ReceiptSuppressOnError)
}

func TestParseEachFlagHasItsOwnDestination(t *testing.T) {
	cfg, err := Parse([]string{
		"-dbpassword", "secret",
		"-dbsockdir", "/var/run/postgresql",
	}, io.Discard)
	require.NoError(t, err)

	require.Equal(t, "secret", cfg.DBPassword)
	require.Equal(t, "/var/run/postgresql", cfg.DBSockDir)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]string{
		"-dbhost", "db.internal",
		"-dbport", "6543",
		"-port", "9999",
		"-log-level", "debug",
		"-log-format", "json",
		"-frame-trailing-newline=false",
		"-receipt-suppress-on-error=false",
		"-max-conns", "100",
	}, io.Discard)
	require.NoError(t, err)

	require.Equal(t, "db.internal", cfg.DBHost)
	require.Equal(t, "6543", cfg.DBPort)
	require.Equal(t, 9999, cfg.Port)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.False(t, cfg.FrameTrailingNewline)
	require.False(t, cfg.ReceiptSuppressOnError)
	require.Equal(t, 100, cfg.MaxConns)
}

func TestParseUnknownFlagFails(t *testing.T) {
	_, err := Parse([]string{"-bogus"}, io.Discard)
	require.Error(t, err)
}

func TestParseUnrecognizedPositionalArgFails(t *testing.T) {
	_, err := Parse([]string{"extra-positional-arg"}, io.Discard)
	require.ErrorIs(t, err, flag.ErrHelp)
}
