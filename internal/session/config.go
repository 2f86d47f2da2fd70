package session

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidConfig matches every ParseBusConfig failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError describes why a handshake payload was rejected.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string        { return "invalid configuration: " + e.Detail }
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// BusConfig is the first text message a client sends: where the agent bus
// gateway is and which agents talk.
type BusConfig struct {
	GatewayIP       string `json:"gatewayIP" jsonschema:"required,description=Host or IP of the agent bus gateway"`
	GatewayPort     int    `json:"gatewayPort" jsonschema:"required,minimum=1,maximum=65535,description=UDP port of the gateway"`
	AgentUUID       string `json:"agentUUID" jsonschema:"required,description=Identity this session uses on the bus"`
	DestinationUUID string `json:"destinationUUID" jsonschema:"required,description=Agent that receives the commands"`
}

// GatewayAddr returns host:port.
func (c BusConfig) GatewayAddr() string {
	return net.JoinHostPort(c.GatewayIP, strconv.Itoa(c.GatewayPort))
}

// ParseBusConfig decodes and validates a handshake payload.
func ParseBusConfig(text string) (BusConfig, error) {
	var cfg BusConfig
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		return BusConfig{}, &ConfigError{Detail: err.Error()}
	}
	cfg.GatewayIP = strings.TrimSpace(cfg.GatewayIP)
	cfg.AgentUUID = strings.TrimSpace(cfg.AgentUUID)
	cfg.DestinationUUID = strings.TrimSpace(cfg.DestinationUUID)

	var missing []string
	if cfg.GatewayIP == "" {
		missing = append(missing, "gatewayIP")
	}
	if cfg.AgentUUID == "" {
		missing = append(missing, "agentUUID")
	}
	if cfg.DestinationUUID == "" {
		missing = append(missing, "destinationUUID")
	}
	if len(missing) > 0 {
		return BusConfig{}, &ConfigError{Detail: "missing " + strings.Join(missing, ", ")}
	}
	if cfg.GatewayPort < 1 || cfg.GatewayPort > 65535 {
		return BusConfig{}, &ConfigError{Detail: fmt.Sprintf("gatewayPort %d out of range", cfg.GatewayPort)}
	}
	return cfg, nil
}
