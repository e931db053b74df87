package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.False(t, d.CheckGradient)
	assert.Equal(t, 1, d.Strategy)
	assert.Equal(t, 500, d.IterationMax)
	assert.Equal(t, 0.1, d.Tolerance)
	assert.Equal(t, 0, d.NMinPix)
	assert.Equal(t, 20, d.PopulationSize)
	require.NoError(t, d.Validate())
}

func TestMergeDefaultsOnlyOverridesSetFields(t *testing.T) {
	strategy := 2
	check := true
	merged := MergeDefaults(Options{Strategy: &strategy, CheckGradient: &check}, Defaults())

	assert.Equal(t, 2, merged.Strategy)
	assert.True(t, merged.CheckGradient)
	assert.Equal(t, Defaults().IterationMax, merged.IterationMax)
	assert.Equal(t, Defaults().Tolerance, merged.Tolerance)
}

func TestMergeDefaultsIsPure(t *testing.T) {
	defaults := Defaults()
	tol := 1e-3
	user := Options{Tolerance: &tol}

	first := MergeDefaults(user, defaults)
	second := MergeDefaults(user, defaults)
	assert.Equal(t, first, second)
	assert.Equal(t, Defaults(), defaults)
}

func TestParseOptions(t *testing.T) {
	o, err := ParseOptions([]byte("strategy: 0\niterationMax: 20\n"))
	require.NoError(t, err)
	require.NotNil(t, o.Strategy)
	assert.Equal(t, 0, *o.Strategy)
	assert.Nil(t, o.Tolerance)

	empty, err := ParseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, Options{}, empty)

	_, err = ParseOptions([]byte("stratgy: 1\n"))
	assert.Error(t, err, "unknown keys are rejected")
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checkGradient: true\nnMinPix: 4\n"), 0644))

	o, err := LoadOptions(path)
	require.NoError(t, err)
	c, err := New(o)
	require.NoError(t, err)
	assert.True(t, c.CheckGradient)
	assert.Equal(t, 4, c.NMinPix)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"strategy too high", func(c *Config) { c.Strategy = 3 }},
		{"negative strategy", func(c *Config) { c.Strategy = -1 }},
		{"negative iterations", func(c *Config) { c.IterationMax = -5 }},
		{"unbounded iterations", func(c *Config) { c.IterationMax = 0 }},
		{"zero tolerance", func(c *Config) { c.Tolerance = 0 }},
		{"negative nMinPix", func(c *Config) { c.NMinPix = -1 }},
		{"small population", func(c *Config) { c.GlobalSearch = true; c.PopulationSize = 5 }},
		{"zero search width", func(c *Config) { c.GlobalSearch = true; c.SearchWidth = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}
