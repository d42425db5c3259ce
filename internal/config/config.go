// Package config loads the agent's declarative configuration (spec.md
// §6.2): router identity, interfaces, per-area OSPF interface timers, and
// BGP peers, the input the supervisor (C11) reads before raising
// interfaces and opening sockets.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/netlab-emu/agent/internal/errs"
)

// Config is the top-level document, matching spec.md §6.2's recognized
// sections one for one.
type Config struct {
	Router   Router                  `koanf:"router"`
	Interfaces map[string]Interface  `koanf:"interface"`
	OSPF     OSPF                    `koanf:"ospf"`
	BGP      BGP                     `koanf:"bgp"`
	Snapshot Snapshot                `koanf:"snapshot"`
}

// Snapshot configures the optional Loc-RIB cold-start snapshot of
// spec.md §6.3. An empty Path disables it: no file is read at startup
// and none is written at shutdown.
type Snapshot struct {
	Path string `koanf:"path"`
}

// Router holds the process-lifetime identity (spec.md §3: "Router ID is
// stable for the process lifetime; changing it is equivalent to
// restart").
type Router struct {
	ID      uint32 `koanf:"id"`
	LocalAS uint32 `koanf:"local_as"`
}

// Tunnel configures a GRE endpoint (spec.md §3, §6.1).
type Tunnel struct {
	Src       string `koanf:"src"`
	Dst       string `koanf:"dst"`
	Key       uint32 `koanf:"key"`
	HasKey    bool   `koanf:"has_key"`
	Keepalive int    `koanf:"keepalive"` // seconds, 0 disables
}

// Interface is one `interface[name]` entry.
type Interface struct {
	Addresses []string `koanf:"addresses"`
	MTU       int      `koanf:"mtu"`
	Tunnel    *Tunnel  `koanf:"tunnel"`
}

// OSPFInterface is one `ospf.area[id].interface[name]` entry.
type OSPFInterface struct {
	Cost        uint16 `koanf:"cost"`
	Hello       int    `koanf:"hello"` // seconds
	Dead        int    `koanf:"dead"`  // seconds
	Priority    uint8  `koanf:"priority"`
	NetworkType string `koanf:"network_type"` // p2p | broadcast | loopback
}

// OSPFArea is one `ospf.area[id]` entry.
type OSPFArea struct {
	Interfaces map[string]OSPFInterface `koanf:"interface"`
}

// OSPF is the `ospf` top-level section.
type OSPF struct {
	Areas map[string]OSPFArea `koanf:"area"`
}

// Peer is one `bgp.peer[addr]` entry.
type Peer struct {
	RemoteAS       uint32   `koanf:"remote_as"`
	HoldSeconds    int      `koanf:"hold"`
	KeepaliveSeconds int    `koanf:"keepalive"`
	ConnectRetrySeconds int `koanf:"connect_retry"`
	Capabilities   []string `koanf:"capabilities"`
	Import         []string `koanf:"import"`
	Export         []string `koanf:"export"`
}

// BGP is the `bgp` top-level section.
type BGP struct {
	Peers map[string]Peer `koanf:"peer"`
}

// defaults returns the struct that loading unmarshals over, with its maps
// allocated. It sets no other values: protocol defaults (hold time,
// MRAI and the like) are applied later by the components that use them.
func defaults() *Config {
	return &Config{
		OSPF: OSPF{Areas: map[string]OSPFArea{}},
		BGP:  BGP{Peers: map[string]Peer{}},
	}
}

// Load reads path (YAML) and overlays environment variables prefixed
// NETLAB_AGENT_, double-underscore-delimited the way the pack's env
// provider convention works (NETLAB_AGENT_ROUTER__ID -> router.id).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errs.Config("loading config file "+path, err)
		}
	}

	if err := k.Load(env.Provider("NETLAB_AGENT_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "NETLAB_AGENT_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, errs.Config("loading env config", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errs.Config("unmarshaling config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants spec.md §6.2 implies but a bare
// unmarshal cannot: a router identity must exist, every OSPF/BGP
// interface reference must resolve to a declared interface, and every
// network_type must be one of the three spec.md recognizes.
func (c *Config) Validate() error {
	if c.Router.ID == 0 {
		return errs.Config("router.id is required", nil)
	}

	for areaID, area := range c.OSPF.Areas {
		for ifName, ospfIf := range area.Interfaces {
			if _, ok := c.Interfaces[ifName]; !ok {
				return errs.Config("ospf.area["+areaID+"].interface["+ifName+"] references an undeclared interface", nil)
			}
			switch ospfIf.NetworkType {
			case "", "p2p", "broadcast", "loopback":
			default:
				return errs.Config("ospf.area["+areaID+"].interface["+ifName+"].network_type must be p2p, broadcast, or loopback", nil)
			}
		}
	}

	for addr, peer := range c.BGP.Peers {
		if peer.RemoteAS == 0 {
			return errs.Config("bgp.peer["+addr+"].remote_as is required", nil)
		}
		if peer.HoldSeconds != 0 && peer.HoldSeconds < 3 {
			return errs.Config("bgp.peer["+addr+"].hold must be 0 or at least 3 seconds", nil)
		}
		for _, cap := range peer.Capabilities {
			switch cap {
			case "MP_IPV6_UNICAST", "ROUTE_REFRESH", "ASN4":
			default:
				return errs.Config("bgp.peer["+addr+"] declares unrecognized capability "+cap, nil)
			}
		}
	}

	return nil
}
