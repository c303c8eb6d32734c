// Package arbiter owns the device arbitration state machine: it decides,
// for a stream of hotplug events, which device is the active output and
// how the playback service is cycled around each rebind.
package arbiter

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/uudruid74/picoreplayer-usbconnectd/internal/fifo"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/player"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/registry"
)

// Mode selects the service-restart policy applied on rebinds.
type Mode string

const (
	// ModeHard fully stops and restarts the playback service on every
	// rebind.
	ModeHard Mode = "hard"

	// ModeSoft pauses and resumes instead, falling back to a full
	// stop/start only when the rebind lands on a different output name.
	ModeSoft Mode = "soft"
)

// ParseMode maps a config string to a Mode, defaulting to soft.
func ParseMode(s string) Mode {
	if s == string(ModeHard) {
		return ModeHard
	}
	return ModeSoft
}

// FilterInstaller rewrites the hotplug filter rules for a newly bound
// identity.
type FilterInstaller interface {
	Install(id registry.Identity) error
}

// Store persists the chosen output into the player configuration and
// answers the startup query for the previously recorded output.
type Store interface {
	Output() (string, error)
	SaveOutput(output string, rates []int) error
}

// Output is a bound playback target.
type Output struct {
	OutputName  string            `json:"outputName"`
	Identity    registry.Identity `json:"identity"`
	SampleRates []int             `json:"sampleRates"`
}

// Status is a read-only snapshot of the arbiter state, served on the
// HTTP status surface.
type Status struct {
	Bound    bool    `json:"bound"`
	Active   *Output `json:"active,omitempty"`
	Failsafe *Output `json:"failsafe,omitempty"`
	Mode     Mode    `json:"mode"`
}

// Arbiter consumes hotplug events serially and keeps the playback
// pipeline bound to the best available device. Transitions run one at a
// time on the event loop goroutine; the mutex only guards concurrent
// Status reads and mode updates.
type Arbiter struct {
	selector *Selector
	player   player.Controller
	filters  FilterInstaller
	store    Store

	mu       sync.RWMutex
	mode     Mode
	active   *Output
	failsafe *Output
}

// New creates an arbiter in the Unbound state.
func New(selector *Selector, ctrl player.Controller, filters FilterInstaller, store Store, mode Mode) *Arbiter {
	return &Arbiter{
		selector: selector,
		player:   ctrl,
		filters:  filters,
		store:    store,
		mode:     mode,
	}
}

// SetMode switches the restart policy. Takes effect from the next rebind.
func (a *Arbiter) SetMode(mode Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != mode {
		log.Info().Str("mode", string(mode)).Msg("Restart policy changed")
		a.mode = mode
	}
}

// Status returns a snapshot of the current binding.
func (a *Arbiter) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Status{
		Bound:    a.active != nil,
		Active:   a.active,
		Failsafe: a.failsafe,
		Mode:     a.mode,
	}
}

// Startup computes the initial state: the output recorded by the previous
// run is resolved against the live registry, and when that fails the
// removal transition runs immediately to pick a replacement.
func (a *Arbiter) Startup() {
	recorded, err := a.store.Output()
	if err != nil {
		log.Warn().Err(err).Msg("Could not read recorded output, falling back to failsafe selection")
	}

	if recorded != "" {
		if device, ok := a.resolveOutputName(recorded); ok {
			log.Info().Str("output", recorded).Msg("Recorded output still present, binding without rebind")
			a.commit(device)
			return
		}
		log.Info().Str("output", recorded).Msg("Recorded output no longer present")
	}

	a.handleRemove()
}

// resolveOutputName finds a live, non-excluded device by output name.
func (a *Arbiter) resolveOutputName(name string) (registry.Device, bool) {
	devices, err := a.selector.registry.Devices()
	if err != nil {
		log.Warn().Err(err).Msg("Registry query failed during startup resolution")
		return registry.Device{}, false
	}
	for _, device := range devices {
		if device.OutputName == name && !a.selector.exclusions.Excluded(device.Name) {
			return device, true
		}
	}
	return registry.Device{}, false
}

// Run drains the event channel until it closes or the context is
// cancelled. Each event is processed to completion before the next is
// read; this loop is the daemon's only consumer of arbiter state.
func (a *Arbiter) Run(ctx context.Context, events <-chan fifo.Event) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Arbiter stopping")
			return
		case event, ok := <-events:
			if !ok {
				log.Info().Msg("Event channel closed, arbiter stopping")
				return
			}
			a.handleEvent(event)
		}
	}
}

func (a *Arbiter) handleEvent(event fifo.Event) {
	switch event.Action {
	case fifo.ActionAdd:
		a.handleAdd(event.Identity)
	case fifo.ActionRemove:
		a.handleRemove()
	}
}

// handleAdd rebinds onto the announced device. When the identity does not
// resolve to a usable device the event is a no-op: no side effect has run
// yet, so active and failsafe keep their pre-event values exactly.
func (a *Arbiter) handleAdd(id registry.Identity) {
	device, err := a.selector.ByIdentity(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info().Str("identity", id.String()).Msg("Device not supported")
		} else {
			log.Warn().Err(err).Str("identity", id.String()).Msg("Registry query failed, ignoring add event")
		}
		return
	}

	a.rebind(device)
}

// handleRemove falls back to the first enumerable device. With no
// candidate the machine degrades to Unbound rather than guessing;
// failsafe is left untouched for the next recovery.
func (a *Arbiter) handleRemove() {
	device, err := a.selector.Failsafe()
	if err != nil {
		if errors.Is(err, ErrNoneAvailable) {
			log.Warn().Msg("No device available, unbinding output")
		} else {
			log.Warn().Err(err).Msg("Registry query failed, unbinding output")
		}
		a.mu.Lock()
		a.active = nil
		a.mu.Unlock()
		return
	}

	a.rebind(device)
}

// rebind applies the full binding sequence: service down (per policy),
// filter rules, player config, service up, then the state commit.
// Side-effect failures are logged and the sequence continues best-effort;
// none of them is fatal to the daemon.
func (a *Arbiter) rebind(device registry.Device) {
	a.mu.RLock()
	mode := a.mode
	previousName := ""
	if a.active != nil {
		previousName = a.active.OutputName
	}
	a.mu.RUnlock()

	// Soft mode skips the disruptive stop/start when the same logical
	// output reappears under a new event.
	softSame := mode == ModeSoft && previousName == device.OutputName

	log.Info().
		Str("output", device.OutputName).
		Str("identity", device.Identity.String()).
		Str("mode", string(mode)).
		Bool("pauseOnly", softSame).
		Msg("Rebinding playback output")

	if softSame {
		if err := a.player.Pause(); err != nil {
			log.Warn().Err(err).Msg("Pause failed, continuing rebind")
		}
	} else {
		if err := a.player.Stop(); err != nil {
			log.Warn().Err(err).Msg("Stop failed, continuing rebind")
		}
	}

	if err := a.filters.Install(device.Identity); err != nil {
		log.Warn().Err(err).Msg("Filter install failed, continuing rebind")
	}

	if err := a.store.SaveOutput(device.OutputName, device.SampleRates); err != nil {
		log.Warn().Err(err).Msg("Config persist failed, continuing rebind")
	}

	if softSame {
		if err := a.player.Resume(); err != nil {
			log.Warn().Err(err).Msg("Resume failed")
		}
	} else {
		if err := a.player.Start(); err != nil {
			log.Warn().Err(err).Msg("Start failed")
		}
	}

	a.commit(device)
}

// commit records a successful binding; the failsafe follows every
// confirmed bind.
func (a *Arbiter) commit(device registry.Device) {
	output := &Output{
		OutputName:  device.OutputName,
		Identity:    device.Identity,
		SampleRates: device.SampleRates,
	}

	a.mu.Lock()
	a.active = output
	a.failsafe = output
	a.mu.Unlock()
}
