package config

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(WithTCPAddr(":1234"))
	require.NoError(t, err)
	assert.Equal(t, "beetle-gw", c.GatewayName)
	assert.Equal(t, uint32(23), c.MTUFloor)
	assert.Equal(t, HATModeBlock, c.HATMode)
}

func TestNewRequiresAtLeastOneListener(t *testing.T) {
	_, err := New(WithGatewayName("x"))
	assert.Error(t, err)
}

func TestWithMTUFloorRejectsBelowATTMinimum(t *testing.T) {
	_, err := New(WithTCPAddr(":1234"), WithMTUFloor(10))
	assert.Error(t, err)
}

func TestWithGatewayNameRejectsEmpty(t *testing.T) {
	_, err := New(WithTCPAddr(":1234"), WithGatewayName(""))
	assert.Error(t, err)
}

func TestOptionsApplyInOrder(t *testing.T) {
	c, err := New(WithUnixAddr("/tmp/beetle.sock"), WithLogLevel(logrus.DebugLevel), WithHATMode(HATModeSingle))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/beetle.sock", c.UnixAddr)
	assert.Equal(t, logrus.DebugLevel, c.LogLevel)
	assert.Equal(t, HATModeSingle, c.HATMode)
}
