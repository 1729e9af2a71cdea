package meshtastic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"

	"github.com/couchcryptid/mesh-weather-relay/internal/domain"
)

func listOf(ports ...*enumerator.PortDetails) PortLister {
	return func() ([]*enumerator.PortDetails, error) { return ports, nil }
}

func TestDetectPort_SingleCandidate(t *testing.T) {
	name, err := DetectPort(listOf(
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
		&enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "239A", PID: "8029"},
	))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", name)
}

func TestDetectPort_LowercaseVendorID(t *testing.T) {
	name, err := DetectPort(listOf(
		&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10c4", PID: "ea60"},
	))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", name)
}

func TestDetectPort_NoDevice(t *testing.T) {
	_, err := DetectPort(listOf(
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
		&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "046D"},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDevice)
	assert.ErrorIs(t, err, domain.ErrNoDevice)
	assert.Contains(t, err.Error(), "no meshtastic device found")
}

func TestDetectPort_MultipleCandidates(t *testing.T) {
	_, err := DetectPort(listOf(
		&enumerator.PortDetails{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1A86"},
		&enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "303A"},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDevice)
	assert.NotErrorIs(t, err, domain.ErrNoDevice)
	assert.Contains(t, err.Error(), "/dev/ttyACM0, /dev/ttyUSB1")
	assert.Contains(t, err.Error(), "-port")
}

func TestDetectPort_ListError(t *testing.T) {
	_, err := DetectPort(func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("permission denied")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDevice)
	assert.Contains(t, err.Error(), "permission denied")
}
