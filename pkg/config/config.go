// Package config loads the YAML file read by the example programs. The library
// itself never reads files; it takes a *core.Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/webclinic017/trading-tools-2/pkg/core"
)

// File is the on-disk layout.
//
//	bitstamp:
//	  base_url: https://www.bitstamp.net
//	  credentials:
//	    api_key: ${BITSTAMP_API_KEY}
//	    secret_key: ${BITSTAMP_API_SECRET}
//	  stream:
//	    reconnect_max_wait: 30s
//	instruments: [btcusd, ethusd]
//	quote: usd
type File struct {
	Bitstamp    *core.Config       `yaml:"bitstamp"`
	Instruments []string           `yaml:"instruments"`
	Quote       string             `yaml:"quote"`
	Keys        []core.Credentials `yaml:"keys"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references in data, decodes it over core.DefaultConfig
// and validates the result. Credentials whose key and secret both expand to
// empty are dropped, so an unset environment means public access only.
func Parse(data []byte) (*File, error) {
	expanded := os.ExpandEnv(string(data))

	f := &File{Bitstamp: core.DefaultConfig()}
	if err := yaml.Unmarshal([]byte(expanded), f); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if f.Bitstamp == nil {
		f.Bitstamp = core.DefaultConfig()
	}

	if c := f.Bitstamp.Credentials; c != nil && c.APIKey == "" && c.SecretKey == "" {
		f.Bitstamp.Credentials = nil
	}
	keys := f.Keys[:0]
	for _, k := range f.Keys {
		if k.APIKey == "" && k.SecretKey == "" {
			continue
		}
		keys = append(keys, k)
	}
	f.Keys = keys

	for i, inst := range f.Instruments {
		f.Instruments[i] = strings.ToLower(strings.TrimSpace(inst))
	}
	f.Quote = strings.ToLower(f.Quote)

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return f, nil
}

// Validate checks the exchange settings and every extra key.
func (f *File) Validate() error {
	if err := f.Bitstamp.Validate(); err != nil {
		return err
	}
	for i, k := range f.Keys {
		if k.APIKey == "" || k.SecretKey == "" {
			return fmt.Errorf("keys[%d]: api_key and secret_key are both required", i)
		}
	}
	for i, inst := range f.Instruments {
		if inst == "" {
			return fmt.Errorf("instruments[%d] is empty", i)
		}
	}
	return nil
}

// AllKeys returns the primary credentials followed by Keys.
func (f *File) AllKeys() []core.Credentials {
	var out []core.Credentials
	if f.Bitstamp.Credentials != nil {
		out = append(out, *f.Bitstamp.Credentials)
	}
	return append(out, f.Keys...)
}

// ErrNoInstruments is returned by RequireInstruments for a file without any.
var ErrNoInstruments = errors.New("config lists no instruments")

// RequireInstruments returns the instruments or ErrNoInstruments.
func (f *File) RequireInstruments() ([]string, error) {
	if len(f.Instruments) == 0 {
		return nil, ErrNoInstruments
	}
	return f.Instruments, nil
}
