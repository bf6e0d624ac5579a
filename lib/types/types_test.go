package types

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		durStr string
		expErr bool
		expDur time.Duration
	}{
		{"", true, 0},
		{"1d", true, 0},
		{"fast", true, 0},
		{"250", false, 250 * time.Millisecond},
		{"1.5", false, 1500 * time.Microsecond},
		{"1.12s", false, 1120 * time.Millisecond},
		{"-1s", false, -time.Second},
		{"2562047h47m16.854775807s", false, time.Duration(math.MaxInt64)},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("tc_%s_exp", tc.durStr), func(t *testing.T) {
			t.Parallel()
			result, err := ParseDuration(tc.durStr)
			if tc.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expDur, result)
			}
		})
	}
}

func TestDurationJSON(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`75000`), &d))
	assert.Equal(t, Duration(75*time.Second), d)
	require.NoError(t, json.Unmarshal([]byte(`"2h1m15s"`), &d))
	assert.Equal(t, Duration(2*time.Hour+75*time.Second), d)
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	data, err := json.Marshal(Duration(75 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m15s"`, string(data))
}

func TestNullDuration(t *testing.T) {
	t.Parallel()
	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		var d NullDuration
		assert.NoError(t, json.Unmarshal([]byte(`"75s"`), &d))
		assert.Equal(t, NullDuration{Duration(75 * time.Second), true}, d)
		assert.NoError(t, json.Unmarshal([]byte(`null`), &d))
		assert.False(t, d.Valid)

		data, err := json.Marshal(NullDuration{})
		assert.NoError(t, err)
		assert.Equal(t, `null`, string(data))
	})
	t.Run("Text", func(t *testing.T) {
		t.Parallel()
		var d NullDuration
		assert.NoError(t, d.UnmarshalText([]byte(`10s`)))
		assert.Equal(t, NullDurationFrom(10*time.Second), d)
		assert.NoError(t, d.UnmarshalText([]byte(``)))
		assert.Equal(t, NullDuration{}, d)
	})
	t.Run("YAML", func(t *testing.T) {
		t.Parallel()
		var cfg struct {
			Timeout NullDuration `yaml:"timeout"`
			Wait    NullDuration `yaml:"wait"`
			Unset   NullDuration `yaml:"unset"`
		}
		require.NoError(t, yaml.Unmarshal([]byte("timeout: 1m30s\nwait: 1500\nunset: ~\n"), &cfg))
		assert.Equal(t, NullDurationFrom(90*time.Second), cfg.Timeout)
		assert.Equal(t, NullDurationFrom(1500*time.Millisecond), cfg.Wait)
		assert.False(t, cfg.Unset.Valid)

		err := yaml.Unmarshal([]byte("timeout: [1s]\n"), &cfg)
		assert.ErrorContains(t, err, "must be a scalar")
	})
	t.Run("Default", func(t *testing.T) {
		t.Parallel()
		d := NewNullDuration(time.Second, false)
		assert.False(t, d.Valid)
		assert.Equal(t, time.Second, d.TimeDuration())
	})
}
