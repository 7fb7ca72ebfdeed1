package system

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	info, err := Detect(context.Background())
	require.NoError(t, err)
	assert.Greater(t, info.LogicalCPUs, 0)
	assert.Greater(t, info.PhysicalCPUs, 0)
	assert.Greater(t, info.TotalMemoryMB, uint64(0))
	assert.GreaterOrEqual(t, info.TotalMemoryMB, info.AvailableMemoryMB)
}

func TestDefaultEncodeConcurrency(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want int
	}{
		{"cpu bound", Info{PhysicalCPUs: 8, AvailableMemoryMB: 64 * 1024}, 4},
		{"memory bound", Info{PhysicalCPUs: 16, AvailableMemoryMB: 4096}, 2},
		{"capped", Info{PhysicalCPUs: 64, AvailableMemoryMB: 512 * 1024}, 8},
		{"single core", Info{PhysicalCPUs: 1, AvailableMemoryMB: 8192}, 1},
		{"low memory", Info{PhysicalCPUs: 8, AvailableMemoryMB: 1000}, 1},
		{"unknown memory", Info{PhysicalCPUs: 6}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultEncodeConcurrency(tt.info))
		})
	}
}
