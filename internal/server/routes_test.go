package server

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexhelper/internal/handle"
)

func TestHexHandle(t *testing.T) {
	tests := []struct {
		name string
		raw  uint64
		want string
	}{
		{"Zero", 0, "0x0"},
		{"FirstDex", uint64(handle.NewMethod(0, 3, 9)), "0x300000009"},
		{"ThirdDex", uint64(handle.NewMethod(2, 1, 5)), "0x20000100000005"},
		{"None", uint64(handle.NoneMethod), "0xffffffffffffffff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hexHandle(tt.raw)
			assert.Equal(t, tt.want, got)
			back, err := strconv.ParseUint(got, 0, 64)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, back)
		})
	}
}

func TestHexHandles_SurviveJSONNumbers(t *testing.T) {
	raw := uint64(handle.NewMethod(3, 0x1234, 0x89abcdef))

	var asNumber struct {
		Handles []float64 `json:"handles"`
	}
	data, err := json.Marshal(map[string]any{"handles": []uint64{raw}})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &asNumber))
	assert.NotEqual(t, raw, uint64(asNumber.Handles[0]))

	hx := hexHandles([]uint64{raw})
	require.Len(t, hx, 1)
	back, err := strconv.ParseUint(hx[0], 0, 64)
	require.NoError(t, err)
	assert.Equal(t, raw, back)
}
