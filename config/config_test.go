// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestParseWithNoArgsMatchesDefault(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]string{
		"--port=9000",
		"--read-threads=32",
		"--persistent-cache-on=false",
		"--tcm-release-period=90s",
	})
	require.NoError(t, err)
	require.Equal(t, 9000, c.Port)
	require.Equal(t, 32, c.ReadThreads)
	require.False(t, c.PersistentCacheOn)
	require.Equal(t, 90*time.Second, c.TCMReleasePeriod)

	// Untouched fields keep their defaults.
	require.Equal(t, Default().CompactThreads, c.CompactThreads)
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	_, err := Parse([]string{"--not-a-real-flag=1"})
	require.Error(t, err)
}

func TestFlagSetRoundTrip(t *testing.T) {
	c := Default()
	c.Port = 1234
	fs := pflag.NewFlagSet("roundtrip", pflag.ContinueOnError)
	c.FlagSet(fs)
	require.NoError(t, fs.Parse(nil))
	require.Equal(t, 1234, c.Port)
	require.Equal(t, "1234", fs.Lookup("port").DefValue)
}
