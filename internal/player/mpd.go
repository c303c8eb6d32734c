package player

import (
	"fmt"
	"sync"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// MPD controls a local Music Player Daemon over its control protocol.
// Soft rebinds map to MPD pause/unpause, hard cycles to stop/play, so a
// device swap never tears down the MPD process itself.
type MPD struct {
	mu     sync.Mutex
	client *mpd.Client
	host   string
	port   int
}

// NewMPD creates an MPD-backed controller. The connection is established
// lazily on first use and re-established when lost.
func NewMPD(host string, port int) *MPD {
	return &MPD{host: host, port: port}
}

// ensureConnected checks the connection and reconnects if needed.
// Callers must hold the lock.
func (m *MPD) ensureConnected() error {
	if m.client != nil {
		if err := m.client.Ping(); err == nil {
			return nil
		}
		log.Warn().Msg("MPD connection lost, reconnecting")
		m.client.Close()
		m.client = nil
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	client, err := mpd.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to MPD at %s: %w", addr, err)
	}

	m.client = client
	log.Info().Str("addr", addr).Msg("Connected to MPD")
	return nil
}

// Close releases the MPD connection.
func (m *MPD) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		err := m.client.Close()
		m.client = nil
		return err
	}
	return nil
}

// Start resumes playback of the current queue position.
func (m *MPD) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureConnected(); err != nil {
		return err
	}
	return m.client.Play(-1)
}

// Stop halts playback. MPD closes its audio output on stop, which is what
// frees the device for the rebind.
func (m *MPD) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureConnected(); err != nil {
		return err
	}
	return m.client.Stop()
}

// Pause pauses playback without releasing the queue position.
func (m *MPD) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureConnected(); err != nil {
		return err
	}
	return m.client.Pause(true)
}

// Resume unpauses playback.
func (m *MPD) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureConnected(); err != nil {
		return err
	}
	return m.client.Pause(false)
}
