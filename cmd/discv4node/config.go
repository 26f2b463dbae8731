package main

import (
	"encoding/hex"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/kadnet/discv4/discover"
	"github.com/kadnet/discv4/enode"
)

// fileConfig is the on-disk TOML shape for a node's configuration. CLI
// flags (see main.go) override values loaded from this file.
type fileConfig struct {
	Bootnode      bool   `toml:"bootnode"`
	PrivateKeyHex string `toml:"private_key"`
	Host          string `toml:"host"`
	DiscoveryPort uint16 `toml:"discovery_port"`
	TCPPort       uint16 `toml:"tcp_port"`
	EventWorkers  int    `toml:"event_workers"`

	Bootstrap []bootstrapEntry `toml:"bootstrap"`
}

type bootstrapEntry struct {
	ID   string `toml:"id"`
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
	TCP  uint16 `toml:"tcp_port"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (fc fileConfig) toDiscoverConfig() (discover.Config, error) {
	cfg := discover.Config{
		IsBootnode:    fc.Bootnode,
		PrivateKeyHex: fc.PrivateKeyHex,
		Host:          fc.Host,
		DiscoveryPort: fc.DiscoveryPort,
		TCPPort:       fc.TCPPort,
		EventWorkers:  fc.EventWorkers,
	}
	for _, b := range fc.Bootstrap {
		id, err := decodeNodeID(b.ID)
		if err != nil {
			return discover.Config{}, fmt.Errorf("bootstrap entry %q: %w", b.ID, err)
		}
		cfg.Bootstrap = append(cfg.Bootstrap, discover.BootstrapPeer{
			ID:       id,
			Endpoint: enode.Endpoint{Host: b.Host, UDPPort: b.Port, TCPPort: b.TCP},
		})
	}
	return cfg, nil
}

func decodeNodeID(hexID string) (enode.NodeID, error) {
	var id enode.NodeID
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return id, err
	}
	if len(raw) != enode.IDBytes {
		return id, fmt.Errorf("want %d bytes, got %d", enode.IDBytes, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
