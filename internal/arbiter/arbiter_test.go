package arbiter

import (
	"reflect"
	"testing"

	"github.com/uudruid74/picoreplayer-usbconnectd/internal/fifo"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/policy"
	"github.com/uudruid74/picoreplayer-usbconnectd/internal/registry"
)

// recordingController records lifecycle calls instead of touching a real
// playback service.
type recordingController struct {
	calls []string
}

func (c *recordingController) Start() error  { c.calls = append(c.calls, "start"); return nil }
func (c *recordingController) Stop() error   { c.calls = append(c.calls, "stop"); return nil }
func (c *recordingController) Pause() error  { c.calls = append(c.calls, "pause"); return nil }
func (c *recordingController) Resume() error { c.calls = append(c.calls, "resume"); return nil }

func (c *recordingController) reset() { c.calls = nil }

type recordingFilters struct {
	installed []registry.Identity
}

func (f *recordingFilters) Install(id registry.Identity) error {
	f.installed = append(f.installed, id)
	return nil
}

type fakeStore struct {
	recorded string
	saved    []string
}

func (s *fakeStore) Output() (string, error) { return s.recorded, nil }

func (s *fakeStore) SaveOutput(output string, rates []int) error {
	s.saved = append(s.saved, output)
	return nil
}

type fixture struct {
	reg     *fakeRegistry
	ctrl    *recordingController
	filters *recordingFilters
	store   *fakeStore
	arbiter *Arbiter
}

func newFixture(mode Mode, exclusions *policy.ExclusionSet, devices ...registry.Device) *fixture {
	f := &fixture{
		reg:     &fakeRegistry{devices: devices},
		ctrl:    &recordingController{},
		filters: &recordingFilters{},
		store:   &fakeStore{},
	}
	if exclusions == nil {
		exclusions = policy.NewExclusionSet()
	}
	f.arbiter = New(NewSelector(f.reg, exclusions), f.ctrl, f.filters, f.store, mode)
	return f
}

func TestStartup_RecordedOutputStillPresent(t *testing.T) {
	f := newFixture(ModeSoft, nil, device("D10", "Topping D10", "20b1", "3008"))
	f.store.recorded = "hw:CARD=D10"

	f.arbiter.Startup()

	status := f.arbiter.Status()
	if !status.Bound {
		t.Fatal("arbiter should be bound after resolving recorded output")
	}
	if status.Active.OutputName != "hw:CARD=D10" {
		t.Errorf("active = %q, want hw:CARD=D10", status.Active.OutputName)
	}
	// no rebind was necessary: the service keeps running untouched
	if len(f.ctrl.calls) != 0 {
		t.Errorf("controller calls = %v, want none", f.ctrl.calls)
	}
}

func TestStartup_RecordedOutputGone_FallsBack(t *testing.T) {
	f := newFixture(ModeSoft, nil, device("Q5K", "Qudelix 5K", "0a12", "4007"))
	f.store.recorded = "hw:CARD=D10"

	f.arbiter.Startup()

	status := f.arbiter.Status()
	if !status.Bound || status.Active.OutputName != "hw:CARD=Q5K" {
		t.Fatalf("status = %+v, want bound to hw:CARD=Q5K", status)
	}
	if len(f.store.saved) != 1 || f.store.saved[0] != "hw:CARD=Q5K" {
		t.Errorf("saved outputs = %v, want [hw:CARD=Q5K]", f.store.saved)
	}
	if len(f.filters.installed) != 1 {
		t.Errorf("filters installed = %v, want one install", f.filters.installed)
	}
}

func TestStartup_NothingAttached_Unbound(t *testing.T) {
	f := newFixture(ModeSoft, nil)

	f.arbiter.Startup()

	status := f.arbiter.Status()
	if status.Bound {
		t.Errorf("status = %+v, want unbound", status)
	}
	if len(f.ctrl.calls) != 0 {
		t.Errorf("controller calls = %v, want none", f.ctrl.calls)
	}
}

func TestHandleRemove_FailoverToNextDevice(t *testing.T) {
	f := newFixture(ModeSoft, nil,
		device("B", "Topping D10", "20b1", "3008"),
	)
	f.store.recorded = "hw:CARD=B"
	f.arbiter.Startup()

	// the bound device vanishes, only C remains
	f.reg.devices = []registry.Device{device("C", "Qudelix 5K", "0a12", "4007")}
	f.ctrl.reset()

	f.arbiter.handleEvent(fifo.Event{Action: fifo.ActionRemove})

	status := f.arbiter.Status()
	if !status.Bound || status.Active.OutputName != "hw:CARD=C" {
		t.Fatalf("status = %+v, want bound to hw:CARD=C", status)
	}
	// names differ, so even soft mode does a full stop/start
	want := []string{"stop", "start"}
	if !reflect.DeepEqual(f.ctrl.calls, want) {
		t.Errorf("controller calls = %v, want %v", f.ctrl.calls, want)
	}
	if f.store.saved[len(f.store.saved)-1] != "hw:CARD=C" {
		t.Errorf("last saved output = %q, want hw:CARD=C", f.store.saved[len(f.store.saved)-1])
	}
	if f.filters.installed[len(f.filters.installed)-1].String() != "0a12:4007" {
		t.Errorf("last installed filter = %v, want 0a12:4007", f.filters.installed)
	}
}

func TestHandleRemove_NoCandidate_KeepsFailsafe(t *testing.T) {
	f := newFixture(ModeSoft, nil, device("B", "Topping D10", "20b1", "3008"))
	f.store.recorded = "hw:CARD=B"
	f.arbiter.Startup()

	f.reg.devices = nil
	f.arbiter.handleEvent(fifo.Event{Action: fifo.ActionRemove})

	status := f.arbiter.Status()
	if status.Bound {
		t.Errorf("status = %+v, want unbound", status)
	}
	// failsafe survives the unbind so the next recovery has a reference
	if status.Failsafe == nil || status.Failsafe.OutputName != "hw:CARD=B" {
		t.Errorf("failsafe = %+v, want hw:CARD=B", status.Failsafe)
	}
}

func TestHandleAdd_UnknownIdentity_NoStateChange(t *testing.T) {
	f := newFixture(ModeSoft, nil, device("B", "Topping D10", "20b1", "3008"))
	f.store.recorded = "hw:CARD=B"
	f.arbiter.Startup()
	before := f.arbiter.Status()
	f.ctrl.reset()

	f.arbiter.handleEvent(fifo.Event{
		Action:   fifo.ActionAdd,
		Identity: registry.Identity{Vendor: "dead", Product: "beef"},
	})

	after := f.arbiter.Status()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("status changed on unsupported add:\nbefore %+v\nafter  %+v", before, after)
	}
	if len(f.ctrl.calls) != 0 {
		t.Errorf("controller calls = %v, want none", f.ctrl.calls)
	}
	if len(f.filters.installed) != 0 {
		t.Errorf("filters installed = %v, want none", f.filters.installed)
	}
}

func TestHandleAdd_ExcludedDevice_NoStateChange(t *testing.T) {
	f := newFixture(ModeSoft, policy.NewExclusionSet("Hub Audio"),
		device("B", "Topping D10", "20b1", "3008"),
	)
	f.store.recorded = "hw:CARD=B"
	f.arbiter.Startup()
	before := f.arbiter.Status()

	f.reg.devices = append(f.reg.devices, device("H", "Noisy Hub Audio", "1a40", "0101"))
	f.arbiter.handleEvent(fifo.Event{
		Action:   fifo.ActionAdd,
		Identity: registry.Identity{Vendor: "1a40", Product: "0101"},
	})

	after := f.arbiter.Status()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("status changed on excluded add:\nbefore %+v\nafter  %+v", before, after)
	}
}

// Re-announcing the bound identity re-executes the whole rebind sequence
// but leaves the binding value unchanged.
func TestHandleAdd_SameIdentity_IdempotentValue(t *testing.T) {
	f := newFixture(ModeSoft, nil, device("B", "Topping D10", "20b1", "3008"))
	f.store.recorded = "hw:CARD=B"
	f.arbiter.Startup()
	before := f.arbiter.Status()
	f.ctrl.reset()

	f.arbiter.handleEvent(fifo.Event{
		Action:   fifo.ActionAdd,
		Identity: registry.Identity{Vendor: "20b1", Product: "3008"},
	})

	after := f.arbiter.Status()
	if !reflect.DeepEqual(before.Active, after.Active) {
		t.Errorf("active changed: before %+v after %+v", before.Active, after.Active)
	}
	// the rebind sequence ran: same output name, soft mode, so pause/resume
	want := []string{"pause", "resume"}
	if !reflect.DeepEqual(f.ctrl.calls, want) {
		t.Errorf("controller calls = %v, want %v", f.ctrl.calls, want)
	}
	if len(f.filters.installed) != 1 {
		t.Errorf("filters installed %d times, want 1 (startup resolution does not install)", len(f.filters.installed))
	}
}

func TestRebind_SoftMode_SuppressesRestartOnSameName(t *testing.T) {
	f := newFixture(ModeSoft, nil, device("B", "Topping D10", "20b1", "3008"))

	// first rebind: nothing was bound before, full start
	f.arbiter.handleEvent(fifo.Event{
		Action:   fifo.ActionAdd,
		Identity: registry.Identity{Vendor: "20b1", Product: "3008"},
	})
	want := []string{"stop", "start"}
	if !reflect.DeepEqual(f.ctrl.calls, want) {
		t.Fatalf("first rebind calls = %v, want %v", f.ctrl.calls, want)
	}

	// second rebind resolves to the same output name: paused, not cycled
	f.ctrl.reset()
	f.arbiter.handleEvent(fifo.Event{
		Action:   fifo.ActionAdd,
		Identity: registry.Identity{Vendor: "20b1", Product: "3008"},
	})
	want = []string{"pause", "resume"}
	if !reflect.DeepEqual(f.ctrl.calls, want) {
		t.Errorf("second rebind calls = %v, want %v", f.ctrl.calls, want)
	}
}

func TestRebind_HardMode_AlwaysRestarts(t *testing.T) {
	f := newFixture(ModeHard, nil, device("B", "Topping D10", "20b1", "3008"))
	f.store.recorded = "hw:CARD=B"
	f.arbiter.Startup()
	f.ctrl.reset()

	f.arbiter.handleEvent(fifo.Event{
		Action:   fifo.ActionAdd,
		Identity: registry.Identity{Vendor: "20b1", Product: "3008"},
	})

	want := []string{"stop", "start"}
	if !reflect.DeepEqual(f.ctrl.calls, want) {
		t.Errorf("controller calls = %v, want %v", f.ctrl.calls, want)
	}
}

func TestSetMode_TakesEffectOnNextRebind(t *testing.T) {
	f := newFixture(ModeHard, nil, device("B", "Topping D10", "20b1", "3008"))
	f.store.recorded = "hw:CARD=B"
	f.arbiter.Startup()
	f.ctrl.reset()

	f.arbiter.SetMode(ModeSoft)
	f.arbiter.handleEvent(fifo.Event{
		Action:   fifo.ActionAdd,
		Identity: registry.Identity{Vendor: "20b1", Product: "3008"},
	})

	want := []string{"pause", "resume"}
	if !reflect.DeepEqual(f.ctrl.calls, want) {
		t.Errorf("controller calls = %v, want %v", f.ctrl.calls, want)
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("hard") != ModeHard {
		t.Error(`ParseMode("hard") != ModeHard`)
	}
	if ParseMode("soft") != ModeSoft {
		t.Error(`ParseMode("soft") != ModeSoft`)
	}
	// anything unrecognized falls back to the default policy
	if ParseMode("") != ModeSoft {
		t.Error(`ParseMode("") != ModeSoft`)
	}
}
