package player

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	ps "github.com/mitchellh/go-ps"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	defaultInitScript = "/usr/local/etc/init.d/squeezelite"
	defaultPidFile    = "/var/run/squeezelite.pid"
	defaultProcName   = "squeezelite"

	// how long a graceful stop may take before we escalate to SIGKILL
	defaultStopWait = 5 * time.Second

	stopPollInterval = 100 * time.Millisecond
)

// Squeezelite controls a squeezelite player through its init script.
// Pause and Resume are implemented as SIGSTOP/SIGCONT on the live
// process, so a paused player keeps its ALSA handle and position.
type Squeezelite struct {
	initScript string
	pidFile    string
	procName   string
	stopWait   time.Duration
}

// NewSqueezelite creates a controller. Empty arguments select the
// piCorePlayer defaults.
func NewSqueezelite(initScript, pidFile, procName string) *Squeezelite {
	if initScript == "" {
		initScript = defaultInitScript
	}
	if pidFile == "" {
		pidFile = defaultPidFile
	}
	if procName == "" {
		procName = defaultProcName
	}
	return &Squeezelite{
		initScript: initScript,
		pidFile:    pidFile,
		procName:   procName,
		stopWait:   defaultStopWait,
	}
}

// Start launches the player through its init script.
func (s *Squeezelite) Start() error {
	log.Info().Str("script", s.initScript).Msg("Starting playback service")

	output, err := exec.Command(s.initScript, "start").CombinedOutput()
	if err != nil {
		return fmt.Errorf("start playback service: %s: %w", string(output), err)
	}
	return nil
}

// Stop stops the player. The init script is asked first; if the process
// is still alive after the bounded wait it is killed outright. A stale
// pidfile that cannot be removed is logged and ignored.
func (s *Squeezelite) Stop() error {
	log.Info().Str("script", s.initScript).Msg("Stopping playback service")

	if output, err := exec.Command(s.initScript, "stop").CombinedOutput(); err != nil {
		log.Warn().Err(err).Str("output", string(output)).Msg("Init script stop failed, will escalate if process survives")
	}

	deadline := time.Now().Add(s.stopWait)
	for time.Now().Before(deadline) {
		pid, err := s.findPid()
		if err != nil || pid == 0 {
			s.removePidFile()
			return nil
		}
		time.Sleep(stopPollInterval)
	}

	if pid, _ := s.findPid(); pid != 0 {
		log.Warn().Int("pid", pid).Msg("Playback service did not stop gracefully, sending SIGKILL")
		if err := unix.Kill(pid, unix.SIGKILL); err != nil {
			return fmt.Errorf("kill playback service pid %d: %w", pid, err)
		}
	}

	s.removePidFile()
	return nil
}

// Pause suspends the player process. Pausing a stopped service is a no-op.
func (s *Squeezelite) Pause() error {
	return s.signal(unix.SIGSTOP, "pause")
}

// Resume continues a paused player process.
func (s *Squeezelite) Resume() error {
	return s.signal(unix.SIGCONT, "resume")
}

func (s *Squeezelite) signal(sig unix.Signal, action string) error {
	pid, err := s.findPid()
	if err != nil {
		return fmt.Errorf("%s playback service: %w", action, err)
	}
	if pid == 0 {
		log.Debug().Str("action", action).Msg("Playback service not running, nothing to signal")
		return nil
	}

	log.Debug().Int("pid", pid).Str("action", action).Msg("Signalling playback service")
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("%s playback service pid %d: %w", action, pid, err)
	}
	return nil
}

// findPid locates the player by executable name. Returns 0 when no such
// process exists.
func (s *Squeezelite) findPid() (int, error) {
	processes, err := ps.Processes()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}
	for _, p := range processes {
		if p.Executable() == s.procName {
			return p.Pid(), nil
		}
	}
	return 0, nil
}

func (s *Squeezelite) removePidFile() {
	if err := os.Remove(s.pidFile); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", s.pidFile).Msg("Could not remove stale pidfile")
	}
}
