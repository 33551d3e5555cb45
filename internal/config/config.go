// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config loads the monitor boot configuration from file and
// environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/f-secure-foundry/armory-monitor/internal/firmware"
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
	"github.com/f-secure-foundry/armory-monitor/internal/package2"
)

const (
	// Name is the configuration file name, without extension
	Name = "armory-monitor"
	// EnvPrefix is the environment variable prefix
	EnvPrefix = "MONITOR"
)

// Emulated engine root key sources
const (
	EngineSeed   = "seed"
	EngineKernel = "kernel"
)

// BootConfig represents the boot configuration.
type BootConfig struct {
	// package2 is stored in clear
	Package2Plaintext bool `mapstructure:"package2_plaintext"`
	// package2 signature is not verified
	Package2Unsigned bool `mapstructure:"package2_unsigned"`
	// recovery boots expose the package2 hash
	RecoveryBoot bool `mapstructure:"recovery_boot"`

	// firmware revision tag (e.g. "7.0.0")
	TargetFirmware string `mapstructure:"target_firmware"`

	// emulated device identity, ignored on hardware
	Retail     bool   `mapstructure:"retail"`
	DeviceID   uint64 `mapstructure:"device_id"`
	DeviceSeed string `mapstructure:"device_seed"`

	// root key source of emulated engines: "seed" or "kernel"
	Engine string `mapstructure:"engine"`
	// kernel crypto API cipher used by the "kernel" engine
	KernelAlg string `mapstructure:"kernel_alg"`
	KernelKey string `mapstructure:"kernel_key"`

	StagingBase uint64 `mapstructure:"staging_base"`
	DRAMBase    uint64 `mapstructure:"dram_base"`

	// directory holding provisioned key tables, empty for embedded ones
	KeysDir string `mapstructure:"keys_dir"`

	Log struct {
		Debug  bool   `mapstructure:"debug"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("package2_plaintext", false)
	v.SetDefault("package2_unsigned", false)
	v.SetDefault("recovery_boot", false)
	v.SetDefault("target_firmware", "7.0.0")
	v.SetDefault("retail", true)
	v.SetDefault("device_id", 0)
	v.SetDefault("device_seed", "")
	v.SetDefault("engine", EngineSeed)
	v.SetDefault("kernel_alg", "cbc-aes-dcp")
	v.SetDefault("kernel_key", "")
	v.SetDefault("staging_base", package2.StagingBase)
	v.SetDefault("dram_base", package2.DRAMBase)
	v.SetDefault("keys_dir", "")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.format", logger.DefaultConfig().Format)
}

func newViper() *viper.Viper {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// Default returns the configuration obtained from defaults and environment
// only.
func Default() (conf *BootConfig, err error) {
	return decode(newViper())
}

// Load reads the configuration file at path, or searches the working
// directory and /etc for Name.yaml when path is empty. A missing file is
// not an error when searching, environment variables override file values.
func Load(path string) (conf *BootConfig, err error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(Name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + Name)
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError

		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file, %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (conf *BootConfig, err error) {
	conf = &BootConfig{}

	if err = v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("error parsing config, %w", err)
	}

	if err = conf.Validate(); err != nil {
		return nil, err
	}

	return
}

// Validate checks configuration consistency.
func (conf *BootConfig) Validate() (err error) {
	if _, err = firmware.Parse(conf.TargetFirmware); err != nil {
		return fmt.Errorf("invalid target_firmware, %w", err)
	}

	if _, err = conf.Seed(); err != nil {
		return fmt.Errorf("invalid device_seed, %w", err)
	}

	switch conf.Engine {
	case EngineSeed, EngineKernel:
	default:
		return fmt.Errorf("invalid engine %q", conf.Engine)
	}

	if _, err = hex.DecodeString(conf.KernelKey); err != nil {
		return fmt.Errorf("invalid kernel_key, %w", err)
	}

	if conf.DRAMBase > conf.StagingBase {
		return fmt.Errorf("staging_base %#x below dram_base %#x", conf.StagingBase, conf.DRAMBase)
	}

	switch conf.Log.Format {
	case "json", "human":
	default:
		return fmt.Errorf("invalid log.format %q", conf.Log.Format)
	}

	return
}

// Target returns the configured firmware target.
func (conf *BootConfig) Target() firmware.Target {
	return firmware.MustParse(conf.TargetFirmware)
}

// Seed returns the decoded emulated device seed.
func (conf *BootConfig) Seed() ([]byte, error) {
	return hex.DecodeString(conf.DeviceSeed)
}

// KernelKeyBytes returns the decoded kernel cipher key, empty keys select
// the hardware key of DCP ciphers.
func (conf *BootConfig) KernelKeyBytes() []byte {
	key, _ := hex.DecodeString(conf.KernelKey)
	return key
}

// Package2 returns the package2 loader configuration.
func (conf *BootConfig) Package2() package2.Config {
	c := package2.DefaultConfig()

	c.StagingBase = conf.StagingBase
	c.DRAMBase = conf.DRAMBase
	c.Plaintext = conf.Package2Plaintext
	c.Unsigned = conf.Package2Unsigned || conf.Package2Plaintext
	c.RecoveryBoot = conf.RecoveryBoot

	return c
}

// Logger returns the logger configuration.
func (conf *BootConfig) Logger() logger.Config {
	return logger.Config{
		Debug:  conf.Log.Debug,
		Format: conf.Log.Format,
	}
}
