package config

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/loopwire/loopwire/internal/wire"
)

// Binding is one element of the server's bind configuration, in the host's
// numeric family/protocol constants exactly as it arrives on the wire.
type Binding struct {
	Family   int `json:"family"`
	Protocol int `json:"protocol"`
	Port     int `json:"port"`
}

// BindConfig is the shape of the configuration line the server sends in
// response to the client's metadata line: {"bind": [...]}.
type BindConfig struct {
	Bind []Binding `json:"bind"`
}

// ParseBindConfig decodes a single JSON line into a BindConfig.
func ParseBindConfig(line []byte) (BindConfig, error) {
	var cfg BindConfig
	if err := json.Unmarshal(line, &cfg); err != nil {
		return BindConfig{}, errors.Wrap(err, "config: malformed bind configuration")
	}
	return cfg, nil
}

// TunnelID translates a Binding's host-native family/protocol constants and
// port into a portable wire.TunnelID, or an error if the port is out of
// range or the family/protocol is unrecognized.
func (b Binding) TunnelID() (wire.TunnelID, error) {
	if b.Port < 1 || b.Port > 65535 {
		return wire.TunnelID{}, errors.Errorf("config: port %d out of range [1, 65535]", b.Port)
	}
	family, ok := wire.FamilyFromHost(b.Family)
	if !ok {
		return wire.TunnelID{}, errors.Errorf("config: unknown address family %d", b.Family)
	}
	transport, ok := wire.TransportFromHost(b.Protocol)
	if !ok {
		return wire.TunnelID{}, errors.Errorf("config: unknown transport protocol %d", b.Protocol)
	}
	return wire.TunnelID{Family: family, Transport: transport, Port: uint16(b.Port)}, nil
}
