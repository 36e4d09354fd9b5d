package cluster

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrUnknownRole = errors.New("unknown role")

type Role string

const (
	Acceptor    Role = "acceptor"
	Leader      Role = "leader"
	Replica     Role = "replica"
	PaxosClient Role = "paxos-client"
	Raft        Role = "raft"
	RaftClient  Role = "raft-client"
)

// PromiseMode selects which accepted proposals an acceptor reports in a promise
type PromiseMode string

const (
	// PromisePerSlot reports the highest-ballot proposals of every slot
	PromisePerSlot PromiseMode = "per_slot"

	// PromiseMaxSet reports the max-set of the whole accepted collection, where proposals
	// of different slots compare equal
	PromiseMaxSet PromiseMode = "max_set"
)

type Config struct {
	// Host is used for every role that doesn't list explicit addresses
	Host string `yaml:"host"`

	// StatusBasePort enables the status HTTP endpoint of a process at StatusBasePort+offset,
	// 0 disables it
	StatusBasePort int `yaml:"status_base_port"`

	Paxos PaxosConfig `yaml:"paxos"`
	Raft  RaftConfig  `yaml:"raft"`
}

type PaxosConfig struct {
	PromiseMode PromiseMode `yaml:"promise_mode"`

	// PreemptBackoff bounds the random pause of a preempted leader before it scouts again
	PreemptBackoff time.Duration `yaml:"preempt_backoff"`

	Acceptors RoleConfig `yaml:"acceptors"`
	Leaders   RoleConfig `yaml:"leaders"`
	Replicas  RoleConfig `yaml:"replicas"`
	Clients   RoleConfig `yaml:"clients"`
}

type RaftConfig struct {
	ElectionTimeoutMin time.Duration `yaml:"election_timeout_min"`
	ElectionTimeoutMax time.Duration `yaml:"election_timeout_max"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`

	Servers RoleConfig `yaml:"servers"`
	Clients RoleConfig `yaml:"clients"`
}

// RoleConfig places the processes of one role, either at BasePort+id on the cluster host
// or at the explicitly listed addresses
type RoleConfig struct {
	BasePort  int      `yaml:"base_port"`
	Count     int      `yaml:"count"`
	Addresses []string `yaml:"addresses"`
}

// Default is a loopback cluster on the conventional ports of every role
func Default() *Config {
	return &Config{
		Host: "127.0.0.1",
		Paxos: PaxosConfig{
			PromiseMode:    PromisePerSlot,
			PreemptBackoff: 50 * time.Millisecond,
			Acceptors:      RoleConfig{BasePort: 7000, Count: 3},
			Leaders:        RoleConfig{BasePort: 7100, Count: 2},
			Replicas:       RoleConfig{BasePort: 7200, Count: 2},
			Clients:        RoleConfig{BasePort: 7300, Count: 8},
		},
		Raft: RaftConfig{
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  50 * time.Millisecond,
			Servers:            RoleConfig{BasePort: 9000, Count: 5},
			Clients:            RoleConfig{BasePort: 10000, Count: 8},
		},
	}
}

// LoadConfig reads a YAML cluster file on top of Default. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	var config = Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err = yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.StatusBasePort < 0 || c.StatusBasePort > 65535 {
		return fmt.Errorf("status_base_port out of range: %d", c.StatusBasePort)
	}

	if err := c.validateStatusPorts(); err != nil {
		return err
	}

	switch c.Paxos.PromiseMode {
	case PromisePerSlot, PromiseMaxSet:
	default:
		return fmt.Errorf("paxos.promise_mode must be %q or %q, got %q",
			PromisePerSlot, PromiseMaxSet, c.Paxos.PromiseMode)
	}

	if c.Paxos.PreemptBackoff < 0 {
		return fmt.Errorf("paxos.preempt_backoff cannot be negative")
	}

	var roles = []struct {
		name string
		rc   RoleConfig
	}{
		{"paxos.acceptors", c.Paxos.Acceptors},
		{"paxos.leaders", c.Paxos.Leaders},
		{"paxos.replicas", c.Paxos.Replicas},
		{"paxos.clients", c.Paxos.Clients},
		{"raft.servers", c.Raft.Servers},
		{"raft.clients", c.Raft.Clients},
	}

	for _, r := range roles {
		if err := r.rc.validate(); err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
	}

	if c.Raft.ElectionTimeoutMin <= 0 {
		return fmt.Errorf("raft.election_timeout_min must be positive")
	}

	if c.Raft.ElectionTimeoutMax <= c.Raft.ElectionTimeoutMin {
		return fmt.Errorf("raft.election_timeout_max must be greater than raft.election_timeout_min")
	}

	if c.Raft.HeartbeatInterval <= 0 || c.Raft.HeartbeatInterval >= c.Raft.ElectionTimeoutMin {
		return fmt.Errorf("raft.heartbeat_interval must be positive and shorter than the election timeout")
	}

	return nil
}

// validateStatusPorts checks that every process with a status endpoint gets its own port
func (c *Config) validateStatusPorts() error {
	if c.StatusBasePort == 0 {
		return nil
	}

	for _, role := range []Role{Acceptor, Leader, Replica, Raft} {
		var rc, _ = c.role(role)
		var offset = statusOffset(role)

		if rc.size() > statusSpacing {
			return fmt.Errorf("%d %s processes do not fit in the %d status ports of the role",
				rc.size(), role, statusSpacing)
		}
		if c.StatusBasePort+offset+rc.size()-1 > 65535 {
			return fmt.Errorf("status ports of %s exceed 65535 from status_base_port %d", role, c.StatusBasePort)
		}
	}

	return nil
}

func (rc RoleConfig) validate() error {
	if len(rc.Addresses) > 0 {
		var unique = make(map[string]bool, len(rc.Addresses))
		for _, addr := range rc.Addresses {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return fmt.Errorf("invalid address %q: %w", addr, err)
			}
			if unique[addr] {
				return fmt.Errorf("duplicate address: %s", addr)
			}
			unique[addr] = true
		}
		return nil
	}

	if rc.Count <= 0 {
		return fmt.Errorf("count must be greater than 0")
	}

	if rc.BasePort <= 0 || rc.BasePort+rc.Count-1 > 65535 {
		return fmt.Errorf("base_port out of range: %d", rc.BasePort)
	}

	return nil
}

func (rc RoleConfig) size() int {
	if len(rc.Addresses) > 0 {
		return len(rc.Addresses)
	}
	return rc.Count
}

func (c *Config) role(role Role) (RoleConfig, error) {
	switch role {
	case Acceptor:
		return c.Paxos.Acceptors, nil
	case Leader:
		return c.Paxos.Leaders, nil
	case Replica:
		return c.Paxos.Replicas, nil
	case PaxosClient:
		return c.Paxos.Clients, nil
	case Raft:
		return c.Raft.Servers, nil
	case RaftClient:
		return c.Raft.Clients, nil
	}
	return RoleConfig{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
}

// statusSpacing is how many status ports every role owns
const statusSpacing = 100

// statusOffset keeps the status ports of different roles apart
func statusOffset(role Role) int {
	switch role {
	case Acceptor:
		return 0
	case Leader:
		return statusSpacing
	case Replica:
		return 2 * statusSpacing
	case Raft:
		return 3 * statusSpacing
	}
	return -1
}

func portString(port int) string {
	return strconv.Itoa(port)
}
