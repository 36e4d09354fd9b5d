package cluster

import (
	"fmt"
	"net"
)

// Directory maps a role and an index to a network address
type Directory struct {
	config *Config
}

func NewDirectory(config *Config) *Directory {
	return &Directory{config: config}
}

func (d *Directory) Config() *Config {
	return d.config
}

// Count is the number of processes configured for role
func (d *Directory) Count(role Role) int {
	var rc, err = d.config.role(role)
	if err != nil {
		return 0
	}
	return rc.size()
}

// Address resolves one process of role
func (d *Directory) Address(role Role, id int) (string, error) {
	var rc, err = d.config.role(role)
	if err != nil {
		return "", err
	}

	if id < 0 || id >= rc.size() {
		return "", fmt.Errorf("%s id %d out of range [0, %d)", role, id, rc.size())
	}

	if len(rc.Addresses) > 0 {
		return rc.Addresses[id], nil
	}

	return net.JoinHostPort(d.config.Host, portString(rc.BasePort+id)), nil
}

// All returns the addresses of every process of role, indexed by id
func (d *Directory) All(role Role) ([]string, error) {
	var n = d.Count(role)
	if n == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	var res = make([]string, n)
	for i := range res {
		var addr, err = d.Address(role, i)
		if err != nil {
			return nil, err
		}
		res[i] = addr
	}

	return res, nil
}

// BindAddress is the address a process listens on: every interface, at the port of its
// directory address
func (d *Directory) BindAddress(role Role, id int) (string, error) {
	var addr, err = d.Address(role, id)
	if err != nil {
		return "", err
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}

	return net.JoinHostPort("", port), nil
}

// StatusAddress is where the status HTTP endpoint of a process listens,
// empty when status endpoints are disabled or the role has none
func (d *Directory) StatusAddress(role Role, id int) string {
	var offset = statusOffset(role)
	if d.config.StatusBasePort == 0 || offset < 0 {
		return ""
	}
	return net.JoinHostPort("", portString(d.config.StatusBasePort+offset+id))
}
