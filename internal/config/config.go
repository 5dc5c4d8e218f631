// Package config loads the gateway's YAML configuration file with
// viper, the way firestige-Otus/internal/otus/config/loader.go does:
// viper.New, SetConfigName/SetConfigType/AddConfigPath derived from the
// given path, environment variable overrides under a fixed prefix, then
// Unmarshal into a mapstructure-tagged Go struct.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vehicledx/doipgw/internal/logging"
	"github.com/vehicledx/doipgw/internal/netutil"
	"github.com/vehicledx/doipgw/pkg/doip"
	"github.com/vehicledx/doipgw/pkg/isotp"
)

// File is the root configuration document: entity identity and timing
// (doip.ServerConfig), the log sink (logging.Config), and the CAN
// ISO-TP routing table a pkg/uds.Provider downstream needs.
type File struct {
	Entity  EntityFile  `mapstructure:"entity"`
	Timing  TimingFile  `mapstructure:"timing"`
	Network NetworkFile `mapstructure:"network"`
	Log     logging.Config
	CAN     CANFile `mapstructure:"can"`
}

// EntityFile maps the `entity:` key: VIN/EID/GID/logical address, all
// optional (EID defaults to the host MAC, per internal/netutil).
type EntityFile struct {
	VIN            string `mapstructure:"vin"`
	LogicalAddress string `mapstructure:"logical_address"`
	EID            string `mapstructure:"eid"`
	GID            string `mapstructure:"gid"`
	FurtherAction  int    `mapstructure:"further_action"`
}

// TimingFile maps the `timing:` key to doip.ServerConfig's durations,
// expressed in milliseconds in YAML for readability.
type TimingFile struct {
	InitialInactivityMS  int `mapstructure:"initial_inactivity_ms"`
	GeneralInactivityMS  int `mapstructure:"general_inactivity_ms"`
	AliveCheckMS         int `mapstructure:"alive_check_ms"`
	AliveCheckRetries    int `mapstructure:"alive_check_retries"`
	DownstreamResponseMS int `mapstructure:"downstream_response_ms"`
	AnnounceCount        int `mapstructure:"announce_count"`
	AnnounceIntervalMS   int `mapstructure:"announce_interval_ms"`
}

// NetworkFile maps the `network:` key.
type NetworkFile struct {
	TCPPort          uint16 `mapstructure:"tcp_port"`
	Loopback         bool   `mapstructure:"loopback"`
	MaxPayloadLength uint32 `mapstructure:"max_payload_length"`
}

// CANFile maps the `can:` key: the physical bus to bind and the fixed
// UDS-address-to-arbitration-ID routing table for pkg/isotp.Pipe.
type CANFile struct {
	Interface string          `mapstructure:"interface"`
	Routes    []CANRouteEntry `mapstructure:"routes"`
	BlockSize int             `mapstructure:"block_size"`
	STMin     int             `mapstructure:"st_min"`
}

// CANRouteEntry is one row of the `can.routes:` table.
type CANRouteEntry struct {
	UDSAddress string `mapstructure:"uds_address"`
	TxID       string `mapstructure:"tx_id"`
	RxID       string `mapstructure:"rx_id"`
}

// Load reads path with viper and applies defaults for anything the file
// omits, mirroring loader.go's ReadInConfig + Unmarshal + applyDefaults
// sequence.
func Load(path string) (*File, error) {
	v := viper.New()

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	ext := filepath.Ext(filename)
	v.SetConfigName(strings.TrimSuffix(filename, ext))
	v.SetConfigType(strings.TrimPrefix(ext, "."))
	v.AddConfigPath(dir)

	v.SetEnvPrefix("DOIPGW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	applyDefaults(&f)
	return &f, nil
}

func applyDefaults(f *File) {
	if f.Log.Level == "" {
		f.Log.Level = "info"
	}
	if f.Network.TCPPort == 0 {
		f.Network.TCPPort = doip.DefaultDiscoveryPort
	}
	if f.Network.MaxPayloadLength == 0 {
		f.Network.MaxPayloadLength = doip.DefaultMaxPayloadLength
	}
	if f.Timing.AnnounceCount == 0 {
		f.Timing.AnnounceCount = 3
	}
	if f.Timing.AnnounceIntervalMS == 0 {
		f.Timing.AnnounceIntervalMS = 100
	}
	if f.Timing.InitialInactivityMS == 0 {
		f.Timing.InitialInactivityMS = 2000
	}
	if f.Timing.GeneralInactivityMS == 0 {
		f.Timing.GeneralInactivityMS = 5000
	}
	if f.Timing.AliveCheckMS == 0 {
		f.Timing.AliveCheckMS = 500
	}
	if f.Timing.AliveCheckRetries == 0 {
		f.Timing.AliveCheckRetries = 3
	}
	if f.Timing.DownstreamResponseMS == 0 {
		f.Timing.DownstreamResponseMS = 2000
	}
	if f.CAN.STMin == 0 {
		f.CAN.STMin = 1
	}
}

// ServerConfig converts the loaded file into the doip.ServerConfig the
// core package runs on: network and timing only, not entity identity
// (see EntityConfig).
func (f *File) ServerConfig() doip.ServerConfig {
	cfg := doip.DefaultServerConfig()
	cfg.TCPPort = f.Network.TCPPort
	cfg.Loopback = f.Network.Loopback
	cfg.MaxPayloadLength = f.Network.MaxPayloadLength
	cfg.AnnounceCount = f.Timing.AnnounceCount
	cfg.AnnounceInterval = time.Duration(f.Timing.AnnounceIntervalMS) * time.Millisecond
	cfg.InitialInactivityTimeout = time.Duration(f.Timing.InitialInactivityMS) * time.Millisecond
	cfg.GeneralInactivityTimeout = time.Duration(f.Timing.GeneralInactivityMS) * time.Millisecond
	cfg.AliveCheckTimeout = time.Duration(f.Timing.AliveCheckMS) * time.Millisecond
	cfg.AliveCheckRetries = f.Timing.AliveCheckRetries
	cfg.DownstreamResponseTimeout = time.Duration(f.Timing.DownstreamResponseMS) * time.Millisecond
	return cfg
}

// EntityConfig converts the loaded file's `entity:` section into the
// doip.EntityConfig a ServerModelFactory hands each connection. A blank
// EID falls back to the host's primary MAC address (internal/netutil);
// a blank GID falls back to the resolved EID.
func (f *File) EntityConfig() (doip.EntityConfig, error) {
	ec := doip.EntityConfig{VIN: f.Entity.VIN, FurtherAction: byte(f.Entity.FurtherAction)}

	if f.Entity.LogicalAddress != "" {
		addr, err := parseHex16(f.Entity.LogicalAddress)
		if err != nil {
			return ec, fmt.Errorf("config: entity.logical_address: %w", err)
		}
		ec.LogicalAddress = addr
	}

	mac, err := resolveMAC(f.Entity.EID)
	if err != nil {
		return ec, fmt.Errorf("config: entity.eid: %w", err)
	}
	ec.EID = mac

	if f.Entity.GID != "" {
		gid, err := parseHexBytes(f.Entity.GID, 6)
		if err != nil {
			return ec, fmt.Errorf("config: entity.gid: %w", err)
		}
		copy(ec.GID[:], gid)
	} else {
		ec.GID = ec.EID
	}
	return ec, nil
}

func resolveMAC(s string) ([6]byte, error) {
	var mac [6]byte
	if s == "" {
		return netutil.PrimaryMAC()
	}
	b, err := parseHexBytes(s, 6)
	if err != nil {
		return mac, err
	}
	copy(mac[:], b)
	return mac, nil
}

// ISOTPConfig converts the loaded file's CAN section into the isotp
// package's Config.
func (f *File) ISOTPConfig() isotp.Config {
	cfg := isotp.DefaultConfig()
	if f.CAN.BlockSize > 0 {
		cfg.BlockSize = uint8(f.CAN.BlockSize)
	}
	if f.CAN.STMin > 0 {
		cfg.STMin = uint8(f.CAN.STMin)
	}
	return cfg
}

// ISOTPRoutes converts can.routes into the map pkg/isotp.Pipe routes on.
func (f *File) ISOTPRoutes() (map[uint16]isotp.Address, error) {
	routes := make(map[uint16]isotp.Address, len(f.CAN.Routes))
	for _, r := range f.CAN.Routes {
		uds, err := parseHex16(r.UDSAddress)
		if err != nil {
			return nil, fmt.Errorf("config: can.routes[%s].uds_address: %w", r.UDSAddress, err)
		}
		tx, err := parseHex32(r.TxID)
		if err != nil {
			return nil, fmt.Errorf("config: can.routes[%s].tx_id: %w", r.UDSAddress, err)
		}
		rx, err := parseHex32(r.RxID)
		if err != nil {
			return nil, fmt.Errorf("config: can.routes[%s].rx_id: %w", r.UDSAddress, err)
		}
		routes[uds] = isotp.Address{TxID: tx, RxID: rx}
	}
	return routes, nil
}
