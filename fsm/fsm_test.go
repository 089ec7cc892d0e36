package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type light int

const (
	red light = iota
	green
	yellow
	off
)

var rules = Rules[light]{
	red:    {green, off},
	green:  {yellow, off},
	yellow: {red, off},
}

func TestTransitionFollowsRules(t *testing.T) {
	m := New(red, rules)
	var seen [][2]light
	m.OnTransition(func(from, to light) { seen = append(seen, [2]light{from, to}) })

	require.NoError(t, m.Transition(green))
	require.NoError(t, m.Transition(yellow))
	assert.Equal(t, yellow, m.Current())

	err := m.Transition(green)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, yellow, m.Current())

	require.NoError(t, m.Transition(off))
	assert.True(t, rules.Terminal(m.Current()))
	assert.ErrorIs(t, m.Transition(red), ErrInvalidTransition)

	assert.Equal(t, [][2]light{{red, green}, {green, yellow}, {yellow, off}}, seen)
}

func TestSelfLoopMustBeDeclared(t *testing.T) {
	r := Rules[light]{red: {red}}
	assert.True(t, r.Allows(red, red))
	assert.False(t, rules.Allows(red, red))
}
