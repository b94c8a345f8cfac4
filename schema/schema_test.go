package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescribeProducesValidJSON(t *testing.T) {
	s := Describe()
	require.Equal(t, "prolink", s.Name)
	require.NotEmpty(t, s.Commands)

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "prolink", decoded["name"])
}

func TestParamInfoOmitsRangeWhenUnset(t *testing.T) {
	p := ParamInfo{Name: "callback", Type: "function", Description: "x"}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	require.NotContains(t, string(raw), `"min"`)
	require.NotContains(t, string(raw), `"max"`)
}

func TestParamInfoIncludesZeroMinWhenRangeSet(t *testing.T) {
	p := ParamInfo{Name: "player", Type: "int", Min: 0, Max: 12, HasRange: true}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"min":0`)
	require.Contains(t, string(raw), `"max":12`)
}
