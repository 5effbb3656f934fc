// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable, e.g. CONNECT_STORE_DRIVER.
const EnvPrefix = "CONNECT_"

// FlagKeys maps command-line flags to configuration keys. Only flags set
// explicitly on the command line override other sources.
var FlagKeys = map[string]string{
	"store-driver": "store.driver",
	"database-url": "store.database_url",
	"sqlite-path":  "store.sqlite_path",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then CONNECT_* environment variables, then changed
// flags in fs (if fs is not nil). The result is validated.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	if path != "" {
		src := file.Provider(path)
		data, err := src.ReadBytes()
		if err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return Config{}, oops.With("path", path).Wrap(err)
		}

		k := koanf.New(".")
		if err := k.Load(src, yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := unmarshal(k, &cfg); err != nil {
			return Config{}, oops.With("path", path).Wrap(err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if fs != nil {
		k := koanf.New(".")
		provider := posflag.ProviderWithFlag(fs, ".", nil, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
		if err := unmarshal(k, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// unmarshal overlays the keys present in k onto cfg.
func unmarshal(k *koanf.Koanf, cfg *Config) error {
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return nil
}
