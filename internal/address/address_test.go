package address

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	s := "PadV1i1My8wazb6vi37UJ2s1yBDkFN5MYivYN6XgaaR"
	a, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, s, a.String())
	assert.False(t, a.IsZero())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"bad alphabet", "0OIl"},
		{"too short", "3yZe7d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAddress)
		})
	}
}

func TestAddress_JSON(t *testing.T) {
	a := DefaultProgramID
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"PadV1i1My8wazb6vi37UJ2s1yBDkFN5MYivYN6XgaaR"`, string(data))

	var back Address
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, a, back)
}

func TestFromBytes(t *testing.T) {
	_, err := FromBytes(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	a, err := FromBytes(DefaultProgramID.Bytes())
	require.NoError(t, err)
	assert.Equal(t, DefaultProgramID, a)
}

func TestContains(t *testing.T) {
	set := []Address{DefaultProgramID}
	assert.True(t, Contains(set, DefaultProgramID))
	assert.False(t, Contains(set, Zero))
	assert.False(t, Contains(nil, Zero))
}
