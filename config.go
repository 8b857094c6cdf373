package gatt

import (
	"encoding/hex"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Appearance is the GAP appearance category advertised for the device.
type Appearance uint16

// A handful of commonly used appearance values from the Bluetooth
// assigned-numbers registry; applications may use any uint16 value.
const (
	AppearanceUnknown         Appearance = 0x0000
	AppearanceGenericPhone    Appearance = 0x0040
	AppearanceGenericComputer Appearance = 0x0080
	AppearanceGenericSensor   Appearance = 0x0540
	AppearanceGenericWatch    Appearance = 0x00C0
)

// GAPConfig is the recognized GAP configuration (§6).
type GAPConfig struct {
	DeviceName           string
	IncludeNameInAdv     bool
	IncludeTxPowerInAdv  bool
	PreferredMinInterval int32
	PreferredMaxInterval int32
	Appearance           Appearance
	ManufacturerData     []byte
	ServiceData          []byte
	ServiceUUID          *UUID

	// MaxConnections, if set, bounds the auto-advertiser (§4.4): the GAP
	// manager re-starts advertising while open connections are below
	// this count. Nil disables auto-advertising entirely.
	MaxConnections *int
}

// gapConfigFile is the on-disk TOML shape for GAPConfig (§6.1): binary
// fields are hex strings, the service UUID is its string form, so a
// deployment can hand-author a config file instead of composing the
// struct in Go.
type gapConfigFile struct {
	DeviceName           string `toml:"device_name"`
	IncludeNameInAdv     bool   `toml:"include_name_in_adv"`
	IncludeTxPowerInAdv  bool   `toml:"include_txpower_in_adv"`
	PreferredMinInterval int32  `toml:"preferred_min_interval"`
	PreferredMaxInterval int32  `toml:"preferred_max_interval"`
	Appearance           uint16 `toml:"appearance"`
	ManufacturerDataHex  string `toml:"manufacturer_data"`
	ServiceDataHex       string `toml:"service_data"`
	ServiceUUID          string `toml:"service_uuid"`
	MaxConnections       *int   `toml:"max_connections"`
}

// LoadGAPConfig reads a GAPConfig from a TOML file at path (§6.1).
func LoadGAPConfig(path string) (GAPConfig, error) {
	var raw gapConfigFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return GAPConfig{}, errors.Wrapf(err, "decode gap config %q", path)
	}

	cfg := GAPConfig{
		DeviceName:           raw.DeviceName,
		IncludeNameInAdv:     raw.IncludeNameInAdv,
		IncludeTxPowerInAdv:  raw.IncludeTxPowerInAdv,
		PreferredMinInterval: raw.PreferredMinInterval,
		PreferredMaxInterval: raw.PreferredMaxInterval,
		Appearance:           Appearance(raw.Appearance),
		MaxConnections:       raw.MaxConnections,
	}

	if raw.ManufacturerDataHex != "" {
		b, err := hex.DecodeString(raw.ManufacturerDataHex)
		if err != nil {
			return GAPConfig{}, errors.Wrap(err, "decode manufacturer_data")
		}
		cfg.ManufacturerData = b
	}
	if raw.ServiceDataHex != "" {
		b, err := hex.DecodeString(raw.ServiceDataHex)
		if err != nil {
			return GAPConfig{}, errors.Wrap(err, "decode service_data")
		}
		cfg.ServiceData = b
	}
	if raw.ServiceUUID != "" {
		u, err := ParseUUID(raw.ServiceUUID)
		if err != nil {
			return GAPConfig{}, errors.Wrap(err, "decode service_uuid")
		}
		cfg.ServiceUUID = &u
	}

	return cfg, nil
}

// DefaultGAPConfig returns a minimal advertising configuration: device
// name included in the advertising PDU, auto-advertising disabled.
func DefaultGAPConfig(name string) GAPConfig {
	return GAPConfig{
		DeviceName:       name,
		IncludeNameInAdv: true,
		Appearance:       AppearanceUnknown,
	}
}
