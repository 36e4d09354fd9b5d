package cluster

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	var path = filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, Default(), config)

	var dir = NewDirectory(config)
	require.Equal(t, 3, dir.Count(Acceptor))
	require.Equal(t, 5, dir.Count(Raft))

	addr, err := dir.Address(Leader, 1)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7101", addr)

	addr, err = dir.Address(RaftClient, 7)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:10007", addr)
}

func TestLoadConfig_Overrides(t *testing.T) {
	var path = writeFile(t, "cluster.yaml", `
host: 10.0.0.1
status_base_port: 8000
paxos:
  promise_mode: max_set
  acceptors: {base_port: 6000, count: 5}
raft:
  election_timeout_min: 300ms
  election_timeout_max: 600ms
  heartbeat_interval: 100ms
  servers:
    addresses: ["raft-node-0:9000", "raft-node-1:9000", "raft-node-2:9000"]
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, PromiseMaxSet, config.Paxos.PromiseMode)
	require.Equal(t, 300*time.Millisecond, config.Raft.ElectionTimeoutMin)
	require.Equal(t, 100*time.Millisecond, config.Raft.HeartbeatInterval)

	// untouched sections keep their defaults
	require.Equal(t, 7200, config.Paxos.Replicas.BasePort)

	var dir = NewDirectory(config)
	require.Equal(t, 5, dir.Count(Acceptor))
	require.Equal(t, 3, dir.Count(Raft))

	addr, err := dir.Address(Acceptor, 4)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:6004", addr)

	all, err := dir.All(Raft)
	require.NoError(t, err)
	require.Equal(t, []string{"raft-node-0:9000", "raft-node-1:9000", "raft-node-2:9000"}, all)

	bind, err := dir.BindAddress(Raft, 2)
	require.NoError(t, err)
	require.Equal(t, ":9000", bind)

	require.Equal(t, ":8301", dir.StatusAddress(Raft, 1))
	require.Equal(t, ":8000", dir.StatusAddress(Acceptor, 0))
	require.Empty(t, dir.StatusAddress(PaxosClient, 0))
}

func TestConfig_Validate(t *testing.T) {
	tt := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty host", func(c *Config) { c.Host = "" }},
		{"bad promise mode", func(c *Config) { c.Paxos.PromiseMode = "whatever" }},
		{"negative backoff", func(c *Config) { c.Paxos.PreemptBackoff = -time.Millisecond }},
		{"no acceptors", func(c *Config) { c.Paxos.Acceptors.Count = 0 }},
		{"port overflow", func(c *Config) { c.Raft.Servers.BasePort = 65535 }},
		{"bad address", func(c *Config) { c.Paxos.Leaders.Addresses = []string{"localhost"} }},
		{"duplicate address", func(c *Config) { c.Raft.Servers.Addresses = []string{"a:1", "a:1"} }},
		{"inverted election timeout", func(c *Config) { c.Raft.ElectionTimeoutMax = c.Raft.ElectionTimeoutMin }},
		{"heartbeat too slow", func(c *Config) { c.Raft.HeartbeatInterval = c.Raft.ElectionTimeoutMin }},
		{"status port out of range", func(c *Config) { c.StatusBasePort = 70000 }},
		{"status ports overflow", func(c *Config) { c.StatusBasePort = 65300 }},
		{"status ports of two roles collide", func(c *Config) {
			c.StatusBasePort = 8000
			c.Paxos.Acceptors = RoleConfig{BasePort: 20000, Count: 101}
		}},
	}

	require.NoError(t, Default().Validate())

	// a full role still fits, and without status endpoints the count is free
	var full = Default()
	full.StatusBasePort = 8000
	full.Raft.Servers = RoleConfig{BasePort: 20000, Count: 100}
	require.NoError(t, full.Validate())
	full.StatusBasePort = 0
	full.Raft.Servers.Count = 500
	require.NoError(t, full.Validate())

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var c = Default()
			tc.mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfig(writeFile(t, "broken.yaml", "paxos: [unterminated"))
	require.Error(t, err)

	_, err = LoadConfig(writeFile(t, "invalid.yaml", "host: \"\"\n"))
	require.ErrorContains(t, err, "invalid configuration")
}

func TestDirectory_Errors(t *testing.T) {
	var dir = NewDirectory(Default())

	_, err := dir.Address(Role("observer"), 0)
	require.ErrorIs(t, err, ErrUnknownRole)

	_, err = dir.Address(Acceptor, 3)
	require.Error(t, err)

	_, err = dir.Address(Acceptor, -1)
	require.Error(t, err)

	_, err = dir.All(Role("observer"))
	require.ErrorIs(t, err, ErrUnknownRole)

	require.Zero(t, dir.Count(Role("observer")))
}

func TestParseParams(t *testing.T) {
	tt := []struct {
		name    string
		input   string
		want    Params
		wantErr bool
	}{
		{"simple", "100 10", Params{K: 100, Lambda: 10}, false},
		{"whitespace", "  5\n\t2.5\n", Params{K: 5, Lambda: 2.5}, false},
		{"zero lambda", "3 0", Params{K: 3, Lambda: 0}, false},
		{"one field", "100", Params{}, true},
		{"three fields", "1 2 3", Params{}, true},
		{"bad count", "x 10", Params{}, true},
		{"negative count", "-1 10", Params{}, true},
		{"bad lambda", "10 y", Params{}, true},
		{"negative lambda", "10 -1", Params{}, true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseParams(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLoadParams(t *testing.T) {
	params, err := LoadParams("")
	require.NoError(t, err)
	require.Equal(t, DefaultParams(), params)

	params, err = LoadParams(writeFile(t, "inp-params.txt", "20 5\n"))
	require.NoError(t, err)
	require.Equal(t, Params{K: 20, Lambda: 5}, params)

	_, err = LoadParams(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestParams_Delay(t *testing.T) {
	var rng = rand.New(rand.NewSource(1))

	var p = Params{K: 1, Lambda: 10}
	var total time.Duration
	const samples = 10000
	for i := 0; i < samples; i++ {
		var d = p.Delay(rng)
		require.GreaterOrEqual(t, d, time.Duration(0))
		total += d
	}

	var mean = total / samples
	require.InDelta(t, float64(10*time.Millisecond), float64(mean), float64(time.Millisecond))

	require.Zero(t, Params{K: 1, Lambda: 0}.Delay(rng))
}
