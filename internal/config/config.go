// Package config holds the fitter configuration and its default source.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultSource []byte

// Config is the complete, validated fitter configuration.
type Config struct {
	// CheckGradient compares the analytic gradient with a numeric one at
	// the starting point and reports the result.
	CheckGradient bool `yaml:"checkGradient" json:"checkGradient"`
	// Strategy selects minimizer aggressiveness, 0 (fast) to 2 (careful).
	Strategy int `yaml:"strategy" json:"strategy"`
	// IterationMax bounds the number of major minimizer iterations.
	IterationMax int `yaml:"iterationMax" json:"iterationMax"`
	// Tolerance is the convergence tolerance on the objective.
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	// NMinPix is the pixel count an exposure must exceed to contribute.
	NMinPix int `yaml:"nMinPix" json:"nMinPix"`

	// GlobalSearch runs a population search before the gradient minimizer.
	GlobalSearch     bool    `yaml:"globalSearch" json:"globalSearch"`
	GlobalIterations int     `yaml:"globalIterations" json:"globalIterations"`
	PopulationSize   int     `yaml:"populationSize" json:"populationSize"`
	SearchWidth      float64 `yaml:"searchWidth" json:"searchWidth"`
	Seed             int64   `yaml:"seed" json:"seed"`
}

// Options is user-supplied configuration. Nil fields are unset.
type Options struct {
	CheckGradient    *bool    `yaml:"checkGradient" json:"checkGradient,omitempty"`
	Strategy         *int     `yaml:"strategy" json:"strategy,omitempty"`
	IterationMax     *int     `yaml:"iterationMax" json:"iterationMax,omitempty"`
	Tolerance        *float64 `yaml:"tolerance" json:"tolerance,omitempty"`
	NMinPix          *int     `yaml:"nMinPix" json:"nMinPix,omitempty"`
	GlobalSearch     *bool    `yaml:"globalSearch" json:"globalSearch,omitempty"`
	GlobalIterations *int     `yaml:"globalIterations" json:"globalIterations,omitempty"`
	PopulationSize   *int     `yaml:"populationSize" json:"populationSize,omitempty"`
	SearchWidth      *float64 `yaml:"searchWidth" json:"searchWidth,omitempty"`
	Seed             *int64   `yaml:"seed" json:"seed,omitempty"`
}

// ErrInvalid is returned by Validate for out-of-range values.
var ErrInvalid = errors.New("invalid configuration")

// Defaults parses the embedded default configuration source.
func Defaults() Config {
	var c Config
	if err := yaml.Unmarshal(defaultSource, &c); err != nil {
		// The source is compiled in; failing here is a build defect.
		panic(fmt.Sprintf("config: malformed defaults.yaml: %v", err))
	}
	return c
}

// MergeDefaults returns defaults overridden by every field set in user.
func MergeDefaults(user Options, defaults Config) Config {
	c := defaults
	if user.CheckGradient != nil {
		c.CheckGradient = *user.CheckGradient
	}
	if user.Strategy != nil {
		c.Strategy = *user.Strategy
	}
	if user.IterationMax != nil {
		c.IterationMax = *user.IterationMax
	}
	if user.Tolerance != nil {
		c.Tolerance = *user.Tolerance
	}
	if user.NMinPix != nil {
		c.NMinPix = *user.NMinPix
	}
	if user.GlobalSearch != nil {
		c.GlobalSearch = *user.GlobalSearch
	}
	if user.GlobalIterations != nil {
		c.GlobalIterations = *user.GlobalIterations
	}
	if user.PopulationSize != nil {
		c.PopulationSize = *user.PopulationSize
	}
	if user.SearchWidth != nil {
		c.SearchWidth = *user.SearchWidth
	}
	if user.Seed != nil {
		c.Seed = *user.Seed
	}
	return c
}

// New merges user options over the embedded defaults and validates the result.
func New(user Options) (Config, error) {
	c := MergeDefaults(user, Defaults())
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.Strategy < 0 || c.Strategy > 2:
		return fmt.Errorf("%w: strategy must be 0, 1 or 2, got %d", ErrInvalid, c.Strategy)
	case c.IterationMax <= 0:
		return fmt.Errorf("%w: iterationMax must be positive, got %d", ErrInvalid, c.IterationMax)
	case !(c.Tolerance > 0):
		return fmt.Errorf("%w: tolerance must be positive, got %g", ErrInvalid, c.Tolerance)
	case c.NMinPix < 0:
		return fmt.Errorf("%w: nMinPix must be non-negative, got %d", ErrInvalid, c.NMinPix)
	case c.GlobalSearch && c.GlobalIterations <= 0:
		return fmt.Errorf("%w: globalIterations must be positive, got %d", ErrInvalid, c.GlobalIterations)
	case c.GlobalSearch && c.PopulationSize < 20:
		return fmt.Errorf("%w: populationSize must be at least 20, got %d", ErrInvalid, c.PopulationSize)
	case c.GlobalSearch && !(c.SearchWidth > 0):
		return fmt.Errorf("%w: searchWidth must be positive, got %g", ErrInvalid, c.SearchWidth)
	}
	return nil
}

// ParseOptions decodes YAML options. Unknown keys are rejected.
func ParseOptions(data []byte) (Options, error) {
	var o Options
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return o, nil
}

// LoadOptions reads YAML options from path.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseOptions(data)
}
