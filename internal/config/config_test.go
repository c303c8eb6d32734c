package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "usbconnectd.yaml"))

	if err := c.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	s := c.Settings()
	if s.FifoPath != "/var/run/usbconnectd.fifo" {
		t.Errorf("FifoPath = %q, want default", s.FifoPath)
	}
	if s.Backend != "squeezelite" {
		t.Errorf("Backend = %q, want squeezelite", s.Backend)
	}
	if s.RestartMode != "soft" {
		t.Errorf("RestartMode = %q, want soft", s.RestartMode)
	}
	if s.MPDPort != 6600 {
		t.Errorf("MPDPort = %d, want 6600", s.MPDPort)
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usbconnectd.yaml")
	content := `fifo_path: /run/test.fifo
backend: MPD
restart_mode: HARD
mpd_port: 6601
listen_addr: ":9000"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	s := c.Settings()
	if s.FifoPath != "/run/test.fifo" {
		t.Errorf("FifoPath = %q", s.FifoPath)
	}
	// backend and mode are normalized to lowercase
	if s.Backend != "mpd" {
		t.Errorf("Backend = %q, want mpd", s.Backend)
	}
	if s.RestartMode != "hard" {
		t.Errorf("RestartMode = %q, want hard", s.RestartMode)
	}
	if s.MPDPort != 6601 {
		t.Errorf("MPDPort = %d, want 6601", s.MPDPort)
	}
	if s.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want :9000", s.ListenAddr)
	}
	// unset keys keep their defaults
	if s.RulesPath != "/etc/udev/rules.d/99-usbconnectd.rules" {
		t.Errorf("RulesPath = %q, want default", s.RulesPath)
	}
}

func TestSubscribeToChanges_ReceivesSnapshot(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "usbconnectd.yaml"))
	if err := c.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ch := c.SubscribeToChanges()
	c.notifyReload()

	select {
	case s := <-ch:
		if s.RestartMode != "soft" {
			t.Errorf("RestartMode = %q, want soft", s.RestartMode)
		}
	default:
		t.Fatal("no snapshot delivered to subscriber")
	}
}
