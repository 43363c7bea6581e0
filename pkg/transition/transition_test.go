package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
)

type light string

const (
	red    light = "RED"
	green  light = "GREEN"
	yellow light = "YELLOW"
)

func newLightMachine() *Machine[light] {
	return New[light]("light").
		Allow(red, green).
		Allow(green, yellow).
		Allow(yellow, red).
		RejectWith(red, "only yellow lights turn red")
}

func TestApplySameStateIsNoop(t *testing.T) {
	out, err := newLightMachine().Apply(green, green)
	require.NoError(t, err)
	assert.True(t, out.Noop)
	assert.False(t, out.Changed())
}

func TestApplyAllowedEdge(t *testing.T) {
	out, err := newLightMachine().Apply(green, yellow)
	require.NoError(t, err)
	assert.False(t, out.Noop)
	assert.Equal(t, yellow, out.To)
	assert.Equal(t, green, out.From)
}

func TestApplyRejectedEdgeUsesCustomMessage(t *testing.T) {
	out, err := newLightMachine().Apply(green, red)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInvalidTransition, typed.Code())
	assert.Equal(t, "only yellow lights turn red", typed.Message())
	assert.Equal(t, green, out.To)
}

func TestApplyRejectedEdgeDefaultMessage(t *testing.T) {
	_, err := newLightMachine().Apply(red, yellow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "light cannot move from RED to YELLOW")
}
