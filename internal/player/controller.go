// Package player controls the downstream playback service that owns the
// audio output.
package player

// Controller is the lifecycle surface the arbiter drives during rebinds.
// All operations are assumed idempotent: stopping an already-stopped
// service, or pausing an already-paused one, is safe.
type Controller interface {
	Start() error
	Stop() error
	Pause() error
	Resume() error
}
