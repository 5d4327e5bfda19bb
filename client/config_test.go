// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigLoad(t *testing.T) {
	require := require.New(t)

	const basicConfig = `
Server = "127.0.0.1:34778"
UserID = "alice"
`
	cfg, err := Load([]byte(basicConfig))
	require.NoError(err)
	require.Equal("127.0.0.1:34778", cfg.Server)
	require.Equal("alice", cfg.UserID)
	require.Equal(defaultLogLevel, cfg.Logging.Level)

	_, err = Load([]byte(`UserID = "alice"`))
	require.Error(err, "config without a Server should fail")

	_, err = Load([]byte(`Server = "127.0.0.1:34778"`))
	require.Error(err, "config without a UserID should fail")

	_, err = Load([]byte(`
Server = "not an address"
UserID = "alice"
`))
	require.Error(err, "config with a malformed Server should fail")

	_, err = Load([]byte(`
Server = "127.0.0.1:34778"
UserID = "alice"
[Logging]
Level = "LOUD"
`))
	require.Error(err, "config with a bogus log level should fail")
}
