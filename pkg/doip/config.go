package doip

import "time"

// ServerConfig is the plain-data network and timing configuration for a
// Server, loaded by internal/config (viper) and passed here with
// mapstructure tags, the way firestige-Otus/internal/config loads its
// GlobalConfig. Entity identity (VIN/EID/GID/logical address) is not
// here: it lives in EntityConfig, built per connection by a
// ServerModelFactory, since spec.md §4.6 requires identity to flow
// through the same per-connection model the other callbacks do rather
// than through a second, parallel copy.
type ServerConfig struct {
	TCPPort          uint16 `mapstructure:"tcp_port"`
	Loopback         bool   `mapstructure:"loopback"`
	AnnounceCount    int    `mapstructure:"announce_count"`
	MaxPayloadLength uint32 `mapstructure:"max_payload_length"`

	AnnounceInterval          time.Duration `mapstructure:"announce_interval"`
	InitialInactivityTimeout  time.Duration `mapstructure:"initial_inactivity_timeout"`
	GeneralInactivityTimeout  time.Duration `mapstructure:"general_inactivity_timeout"`
	AliveCheckTimeout         time.Duration `mapstructure:"alive_check_timeout"`
	AliveCheckRetries         int           `mapstructure:"alive_check_retries"`
	DownstreamResponseTimeout time.Duration `mapstructure:"downstream_response_timeout"`
}

// DefaultServerConfig returns the spec's reference values (spec.md
// §8's worked example, and the Open Question resolution of 3
// alive-check retries).
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		TCPPort:                   13400,
		Loopback:                  true,
		AnnounceCount:             3,
		MaxPayloadLength:          DefaultMaxPayloadLength,
		AnnounceInterval:          100 * time.Millisecond,
		InitialInactivityTimeout:  2 * time.Second,
		GeneralInactivityTimeout:  5 * time.Second,
		AliveCheckTimeout:         500 * time.Millisecond,
		AliveCheckRetries:         3,
		DownstreamResponseTimeout: 2 * time.Second,
	}
}
