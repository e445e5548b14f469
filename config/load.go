package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Sources names the inputs Load reads. Empty paths are skipped.
type Sources struct {
	// File is the YAML configuration file.
	File string
	// DotEnv is an optional .env file; a missing file is not an error.
	DotEnv string
	// Lookuper replaces the process environment, mainly for tests.
	Lookuper envconfig.Lookuper
}

// Load reads the YAML file at path over the defaults, then applies .env
// and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	return LoadSources(context.Background(), Sources{File: path, DotEnv: ".env"})
}

// LoadSources is Load with explicit inputs.
func LoadSources(ctx context.Context, src Sources) (*Config, error) {
	cfg := Default()

	if src.File != "" {
		f, err := os.Open(src.File)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", src.File, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", src.File, err)
		}
	}

	lookuper := src.Lookuper
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	if src.DotEnv != "" {
		values, err := godotenv.Read(src.DotEnv)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %q: %w", src.DotEnv, err)
		default:
			// the real environment wins over .env
			lookuper = envconfig.MultiLookuper(lookuper, envconfig.MapLookuper(values))
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}
