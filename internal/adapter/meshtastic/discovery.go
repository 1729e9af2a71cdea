package meshtastic

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/couchcryptid/mesh-weather-relay/internal/domain"
)

// knownVendorIDs lists USB vendor IDs of the serial bridges and native USB
// stacks found on Meshtastic boards.
var knownVendorIDs = map[string]string{
	"239A": "Adafruit nRF52 bootloader (RAK4631, T-Echo)",
	"303A": "Espressif native USB (ESP32-S3)",
	"10C4": "Silicon Labs CP210x",
	"1A86": "WCH CH340/CH9102",
	"0403": "FTDI",
	"2E8A": "Raspberry Pi RP2040",
	"1915": "Nordic nRF52",
}

// PortLister enumerates serial ports with USB details.
type PortLister func() ([]*enumerator.PortDetails, error)

// DetectPort picks the single USB serial port that looks like a Meshtastic
// radio. No candidate yields domain.ErrNoDevice; several candidates are an
// error too, since guessing could key up the wrong device.
func DetectPort(list PortLister) (string, error) {
	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("%w: enumerate serial ports: %v", domain.ErrDevice, err)
	}

	var candidates []string
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		if _, ok := knownVendorIDs[strings.ToUpper(p.VID)]; ok {
			candidates = append(candidates, p.Name)
		}
	}
	sort.Strings(candidates)

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("%w: %w", domain.ErrDevice, domain.ErrNoDevice)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("%w: multiple candidate ports (%s), choose one with -port",
			domain.ErrDevice, strings.Join(candidates, ", "))
	}
}
