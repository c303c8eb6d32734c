package arbiter

import (
	"errors"

	"github.com/uudruid74/picoreplayer-usbconnectd/internal/policy"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/registry"
)

var (
	// ErrNotFound means no non-excluded enumerated device carries the
	// requested identity.
	ErrNotFound = errors.New("no enumerated device matches the requested identity")

	// ErrNoneAvailable means the enumeration is empty or every entry is
	// excluded.
	ErrNoneAvailable = errors.New("no non-excluded device available")
)

// Selector picks the output device from a fresh registry snapshot. It is
// stateless; every call re-enumerates, so a device attached between two
// calls may change the result.
type Selector struct {
	registry   registry.Registry
	exclusions *policy.ExclusionSet
}

// NewSelector creates a selector over the given registry and exclusion
// policy.
func NewSelector(reg registry.Registry, exclusions *policy.ExclusionSet) *Selector {
	return &Selector{registry: reg, exclusions: exclusions}
}

// ByIdentity returns the first device in enumeration order whose identity
// equals target and whose name is not excluded. Excluded devices are
// skipped even when they carry the target identity.
func (s *Selector) ByIdentity(target registry.Identity) (registry.Device, error) {
	devices, err := s.registry.Devices()
	if err != nil {
		return registry.Device{}, err
	}

	for _, device := range devices {
		if s.exclusions.Excluded(device.Name) {
			continue
		}
		if device.Identity == target {
			return device, nil
		}
	}
	return registry.Device{}, ErrNotFound
}

// Failsafe returns the first non-excluded device in enumeration order.
// First-found, not best-found: enumeration order is the only preference.
func (s *Selector) Failsafe() (registry.Device, error) {
	devices, err := s.registry.Devices()
	if err != nil {
		return registry.Device{}, err
	}

	for _, device := range devices {
		if !s.exclusions.Excluded(device.Name) {
			return device, nil
		}
	}
	return registry.Device{}, ErrNoneAvailable
}
