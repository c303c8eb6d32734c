// Package registry enumerates the USB audio output devices currently
// visible to the system, together with their stable identities and
// supported sample rates.
package registry

import (
	"fmt"
	"strings"
)

// Identity is the vendor/product pair that names a device class. It is
// how hotplug event payloads are correlated with enumerated cards.
type Identity struct {
	Vendor  string `json:"vendor"`
	Product string `json:"product"`
}

// String returns the identity in the wire format used by hotplug events,
// e.g. "20b1:3008".
func (id Identity) String() string {
	return id.Vendor + ":" + id.Product
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id.Vendor == "" && id.Product == ""
}

// ParseIdentity parses a "vvvv:pppp" pair as found in hotplug event
// payloads and in the ALSA usbid proc file.
func ParseIdentity(s string) (Identity, error) {
	vendor, product, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || vendor == "" || product == "" {
		return Identity{}, fmt.Errorf("malformed device identity %q", s)
	}
	return Identity{
		Vendor:  strings.ToLower(vendor),
		Product: strings.ToLower(product),
	}, nil
}

// Device is a single enumerated audio output. Devices are constructed
// fresh on every registry query and never mutated.
type Device struct {
	// ShortName is the ALSA card id, e.g. "D10".
	ShortName string `json:"shortName"`

	// Name is the card's descriptive label. The exclusion policy
	// matches against this string.
	Name string `json:"name"`

	Identity Identity `json:"identity"`

	// OutputName is the resolved playback target, e.g. "hw:CARD=D10".
	OutputName string `json:"outputName"`

	// SampleRates are the rates the device advertises, sorted ascending.
	SampleRates []int `json:"sampleRates"`
}

// Registry answers point-in-time queries for the attached device set.
// Implementations must be safe to call repeatedly; no caching is implied.
type Registry interface {
	Devices() ([]Device, error)
}
