// Package profiles loads destination profile files. A profile file declares
// the push targets an operator imports into the destination store at startup
// or via the CLI; the store remains the runtime source of truth.
package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/gohaul/pkg/haul"
)

// File is the on-disk profile document.
type File struct {
	Version      int       `json:"version" yaml:"version"`
	Destinations []Profile `json:"destinations" yaml:"destinations"`
}

// Profile is one declared push target.
type Profile struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	OwnerID  string `json:"owner_id" yaml:"owner_id"`
	Name     string `json:"name" yaml:"name"`
	Provider string `json:"provider" yaml:"provider"`
	Bucket   string `json:"bucket" yaml:"bucket"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// Active defaults to true when omitted.
	Active *bool `json:"active,omitempty" yaml:"active,omitempty"`
}

// Load reads and validates a profile file. The format is determined by
// extension: .yaml/.yml for YAML, .json for JSON; an unrecognized extension
// tries YAML first, then JSON.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile file not found: %s", path)
		}
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads and validates a profile file from an io.Reader. The
// path parameter is used for format detection and error messages.
func LoadFromReader(r io.Reader, path string) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read profile data: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a profile document from raw bytes.
func LoadFromBytes(data []byte, path string) (*File, error) {
	if len(data) == 0 {
		return nil, errors.New("profile file is empty")
	}

	f, err := parse(data, path)
	if err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func parse(data []byte, path string) (*File, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		f, yamlErr := parseYAML(data)
		if yamlErr == nil {
			return f, nil
		}
		if f, jsonErr := parseJSON(data); jsonErr == nil {
			return f, nil
		}
		return nil, fmt.Errorf("parse profile file (tried YAML and JSON): %w", yamlErr)
	}
}

func parseJSON(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON in profile file: %w", err)
	}
	return &f, nil
}

func parseYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid YAML in profile file: %w", err)
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Version != 1 {
		return fmt.Errorf("unsupported profile file version %d (want 1)", f.Version)
	}
	if len(f.Destinations) == 0 {
		return errors.New("profile file declares no destinations")
	}
	seen := make(map[string]bool)
	for i, p := range f.Destinations {
		if strings.TrimSpace(p.OwnerID) == "" {
			return fmt.Errorf("destination %d: owner_id is required", i)
		}
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("destination %d: name is required", i)
		}
		if strings.TrimSpace(p.Provider) == "" {
			return fmt.Errorf("destination %d: provider is required", i)
		}
		if strings.TrimSpace(p.Bucket) == "" {
			return fmt.Errorf("destination %d: bucket is required", i)
		}
		key := p.OwnerID + "/" + p.Name
		if seen[key] {
			return fmt.Errorf("destination %d: duplicate name %q for owner %s", i, p.Name, p.OwnerID)
		}
		seen[key] = true
	}
	return nil
}

// Materialize converts the declared profiles into destination records,
// minting ids for profiles that omit one.
func (f *File) Materialize(now time.Time) []*haul.Destination {
	out := make([]*haul.Destination, 0, len(f.Destinations))
	for _, p := range f.Destinations {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		out = append(out, &haul.Destination{
			ID:        id,
			OwnerID:   p.OwnerID,
			Name:      p.Name,
			Provider:  p.Provider,
			Bucket:    p.Bucket,
			Prefix:    p.Prefix,
			Region:    p.Region,
			Endpoint:  p.Endpoint,
			Active:    active,
			CreatedAt: now,
		})
	}
	return out
}
