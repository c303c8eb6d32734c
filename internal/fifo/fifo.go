// Package fifo owns the named pipe that carries hotplug notifications
// into the daemon, and parses its line-oriented messages.
package fifo

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/uudruid74/picoreplayer-usbconnectd/internal/registry"
)

// Action discriminates the two hotplug notifications.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Event is one parsed hotplug notification. Identity is set for add
// events only.
type Event struct {
	Action   Action
	Identity registry.Identity
}

// Messages shorter than the shortest valid payload ("remove") are
// truncated garbage and dropped before parsing.
const minMessageLen = len("remove")

// ParseMessage parses one line from the pipe. ok is false for malformed
// or too-short messages, which the caller discards unprocessed.
func ParseMessage(line string) (Event, bool) {
	msg := strings.TrimSpace(line)
	if len(msg) < minMessageLen {
		return Event{}, false
	}

	if msg == string(ActionRemove) {
		return Event{Action: ActionRemove}, true
	}

	if payload, found := strings.CutPrefix(msg, string(ActionAdd)+" "); found {
		identity, err := registry.ParseIdentity(payload)
		if err != nil {
			log.Debug().Str("message", msg).Err(err).Msg("Dropping add event with bad identity")
			return Event{}, false
		}
		return Event{Action: ActionAdd, Identity: identity}, true
	}

	log.Debug().Str("message", msg).Msg("Dropping unrecognized message")
	return Event{}, false
}

// Reader owns the pipe for the daemon's lifetime: it recreates the pipe
// on startup and delivers parsed events, in arrival order, on a single
// channel.
type Reader struct {
	path   string
	events chan Event

	mu   sync.Mutex
	pipe *os.File
}

// NewReader creates a reader for the given pipe path.
func NewReader(path string) *Reader {
	return &Reader{
		path:   path,
		events: make(chan Event),
	}
}

// Create removes any stale pipe left behind by a previous run and makes
// a fresh one.
func (r *Reader) Create() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale pipe %s: %w", r.path, err)
	}

	if err := unix.Mkfifo(r.path, 0622); err != nil {
		return fmt.Errorf("create pipe %s: %w", r.path, err)
	}

	log.Info().Str("path", r.path).Msg("Created event pipe")
	return nil
}

// Events returns the ordered event channel. It is closed when the reader
// stops.
func (r *Reader) Events() <-chan Event {
	return r.events
}

// Start opens the pipe and begins delivering events. The pipe is opened
// read-write so the reader does not see EOF every time a rule's writer
// closes its end.
func (r *Reader) Start() error {
	pipe, err := os.OpenFile(r.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open pipe %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.pipe = pipe
	r.mu.Unlock()

	go r.run(pipe)
	return nil
}

func (r *Reader) run(pipe *os.File) {
	defer close(r.events)

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()

		event, ok := ParseMessage(line)
		if !ok {
			continue
		}

		log.Debug().Str("action", string(event.Action)).Str("identity", event.Identity.String()).Msg("Received hotplug event")
		r.events <- event
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("path", r.path).Msg("Event pipe read ended")
	}
}

// Close shuts the pipe down and removes it. Closing the file unblocks
// the read loop, which then closes the event channel.
func (r *Reader) Close() error {
	r.mu.Lock()
	pipe := r.pipe
	r.pipe = nil
	r.mu.Unlock()

	if pipe != nil {
		if err := pipe.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close event pipe")
		}
	}

	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pipe %s: %w", r.path, err)
	}
	return nil
}
