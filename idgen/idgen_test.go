package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/coursestore/config"
)

func TestSnowflakeUnique(t *testing.T) {
	g, err := NewGenerator(config.SnowflakeConfig{MachineID: 3})
	require.NoError(t, err)

	seen := make(map[int64]struct{}, 1000)
	for range 1000 {
		id := g.Generate()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestUnsupportedType(t *testing.T) {
	_, err := NewGenerator(config.SnowflakeConfig{Type: "uuid"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSonyflakeMachineIDRange(t *testing.T) {
	_, err := NewSonyflakeGenerator(config.SnowflakeConfig{MachineID: 70000})
	assert.ErrorIs(t, err, ErrInvalidMachineID)
}

func TestGenIDString(t *testing.T) {
	a, b := GenIDString(), GenIDString()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
