package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/raftd/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateNodeConfig(&config.Node)...)
	errs = append(errs, validateClusterConfig(&config.Cluster, &config.Node)...)
	errs = append(errs, validateTimingConfig(&config.Timing)...)
	errs = append(errs, validateTransportConfig(&config.Transport)...)
	errs = append(errs, validateMembershipConfig(&config.Membership)...)
	errs = append(errs, validateRESTConfig(&config.REST)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

func validateNodeConfig(config *NodeConfig) []error {
	var errs []error

	if config.ID == "" {
		errs = append(errs, ValidationError{Field: "node.id", Message: "node ID is required"})
	}
	if err := validateAddress(config.Address); err != nil {
		errs = append(errs, ValidationError{Field: "node.address", Message: err.Error()})
	}
	if config.DataDir == "" {
		errs = append(errs, ValidationError{Field: "node.dataDir", Message: "data directory is required"})
	}

	return errs
}

func validateClusterConfig(config *ClusterConfig, node *NodeConfig) []error {
	var errs []error

	seen := make(map[string]bool, len(config.Peers))
	for i, peer := range config.Peers {
		field := fmt.Sprintf("cluster.peers[%d]", i)
		if peer.ID == "" {
			errs = append(errs, ValidationError{Field: field + ".id", Message: "peer ID is required"})
			continue
		}
		if seen[peer.ID] {
			errs = append(errs, ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate peer ID %q", peer.ID)})
		}
		seen[peer.ID] = true
		if peer.ID == node.ID {
			// Self may be listed; its address must then agree.
			if peer.Address != "" && peer.Address != node.Address {
				errs = append(errs, ValidationError{
					Field:   field + ".address",
					Message: fmt.Sprintf("address %s differs from node.address %s", peer.Address, node.Address),
				})
			}
			continue
		}
		if err := validateAddress(peer.Address); err != nil {
			errs = append(errs, ValidationError{Field: field + ".address", Message: err.Error()})
		}
	}

	return errs
}

func validateTimingConfig(config *TimingConfig) []error {
	if err := config.NodeConfig().Validate(); err != nil {
		return []error{ValidationError{Field: "timing", Message: err.Error()}}
	}
	return nil
}

func validateTransportConfig(config *TransportConfig) []error {
	var errs []error

	switch strings.ToLower(config.Kind) {
	case TransportTCP, TransportGRPC:
	default:
		errs = append(errs, ValidationError{Field: "transport.kind", Message: "must be tcp or grpc"})
	}
	if config.DialTimeout < 0 {
		errs = append(errs, ValidationError{Field: "transport.dialTimeout", Message: "must not be negative"})
	}

	return errs
}

func validateMembershipConfig(config *MembershipConfig) []error {
	if !config.Enabled {
		return nil
	}

	var errs []error
	if config.BindPort < 0 || config.BindPort > 65535 {
		errs = append(errs, ValidationError{Field: "membership.bindPort", Message: "must be between 0 and 65535"})
	}
	if config.BindAddr != "" && net.ParseIP(config.BindAddr) == nil {
		errs = append(errs, ValidationError{Field: "membership.bindAddr", Message: "must be an IP address"})
	}
	for i, seed := range config.Join {
		if err := validateAddress(seed); err != nil {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("membership.join[%d]", i), Message: err.Error()})
		}
	}
	return errs
}

func validateRESTConfig(config *RESTConfig) []error {
	if !config.Enabled {
		return nil
	}
	if err := validateAddress(config.Address); err != nil {
		return []error{ValidationError{Field: "rest.address", Message: err.Error()}}
	}
	return nil
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	if config.Level != "" && !logging.ValidLevel(config.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	if config.Format != "" && !logging.ValidFormat(config.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}

// validateAddress validates a network address in host:port format.
func validateAddress(addr string) error {
	if addr == "" {
		return errors.New("address is required")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.Errorf("invalid address format: %v", err)
	}
	if port == "" {
		return errors.New("port is required")
	}
	return nil
}
