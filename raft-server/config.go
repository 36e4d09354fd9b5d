package server

import (
	"fmt"
	"time"

	"github.com/Abhay478/paxos-v-raft/cluster"
)

type Config struct {
	ID int

	// Peers holds the address of every server in the cluster indexed by id, this one included
	Peers []string

	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
}

// NewConfig builds the configuration of server id from the cluster directory
func NewConfig(dir *cluster.Directory, id int) (*Config, error) {
	peers, err := dir.All(cluster.Raft)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve raft peers: %w", err)
	}

	var rc = dir.Config().Raft
	var config = &Config{
		ID:                 id,
		Peers:              peers,
		ElectionTimeoutMin: rc.ElectionTimeoutMin,
		ElectionTimeoutMax: rc.ElectionTimeoutMax,
		HeartbeatInterval:  rc.HeartbeatInterval,
	}

	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	if len(c.Peers) == 0 {
		return fmt.Errorf("peers must contain at least one server")
	}

	if c.ID < 0 || c.ID >= len(c.Peers) {
		return fmt.Errorf("id=%d not found in peers", c.ID)
	}

	uniqueAddrs := make(map[string]bool)
	for _, addr := range c.Peers {
		if addr == "" {
			return fmt.Errorf("empty peer address")
		}
		if uniqueAddrs[addr] {
			return fmt.Errorf("duplicate peer address: %s", addr)
		}
		uniqueAddrs[addr] = true
	}

	if c.ElectionTimeoutMin <= 0 || c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return fmt.Errorf("election timeout range [%s, %s) is empty", c.ElectionTimeoutMin, c.ElectionTimeoutMax)
	}

	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return fmt.Errorf("heartbeat interval %s must be positive and shorter than the election timeout", c.HeartbeatInterval)
	}

	return nil
}
