package console

import (
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/internal/session"
)

func validateRequired(input string) error {
	if strings.TrimSpace(input) == "" {
		return errors.New("value is required")
	}
	return nil
}

func validatePort(input string) error {
	port, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return errors.New("port must be a number")
	}
	if port < 1 || port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	return nil
}

// promptMissing asks for every handshake field cfg leaves empty.
func promptMissing(cfg session.BusConfig) (session.BusConfig, error) {
	ask := func(label, def string, validate promptui.ValidateFunc) (string, error) {
		p := promptui.Prompt{Label: label, Default: def, Validate: validate}
		v, err := p.Run()
		if err != nil {
			return "", errors.Wrapf(err, "prompt %s", label)
		}
		return strings.TrimSpace(v), nil
	}

	var err error
	if cfg.GatewayIP == "" {
		if cfg.GatewayIP, err = ask("Gateway IP", "127.0.0.1", validateRequired); err != nil {
			return cfg, err
		}
	}
	if cfg.GatewayPort == 0 {
		port, err := ask("Gateway port", "5500", validatePort)
		if err != nil {
			return cfg, err
		}
		cfg.GatewayPort, _ = strconv.Atoi(port)
	}
	if cfg.AgentUUID == "" {
		if cfg.AgentUUID, err = ask("Agent UUID", "", validateRequired); err != nil {
			return cfg, err
		}
	}
	if cfg.DestinationUUID == "" {
		if cfg.DestinationUUID, err = ask("Destination UUID", "", validateRequired); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// missingFields lists the handshake fields cfg leaves empty.
func missingFields(cfg session.BusConfig) []string {
	var missing []string
	if cfg.GatewayIP == "" {
		missing = append(missing, "gateway-ip")
	}
	if cfg.GatewayPort == 0 {
		missing = append(missing, "gateway-port")
	}
	if cfg.AgentUUID == "" {
		missing = append(missing, "agent")
	}
	if cfg.DestinationUUID == "" {
		missing = append(missing, "destination")
	}
	return missing
}
