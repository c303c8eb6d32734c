// Package config loads and watches the daemon's own configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	keyFifoPath         = "fifo_path"
	keyRulesPath        = "rules_path"
	keyPlayerConfigPath = "player_config_path"
	keyExclusionsPath   = "exclusions_path"
	keyBackend          = "backend"
	keyRestartMode      = "restart_mode"
	keyMPDHost          = "mpd_host"
	keyMPDPort          = "mpd_port"
	keyInitScript       = "init_script"
	keyPidFile          = "pid_file"
	keyProcName         = "proc_name"
	keyListenAddr       = "listen_addr"

	defaultFifoPath         = "/var/run/usbconnectd.fifo"
	defaultRulesPath        = "/etc/udev/rules.d/99-usbconnectd.rules"
	defaultPlayerConfigPath = "/usr/local/etc/pcp/squeezelite.conf"
	defaultExclusionsPath   = "/usr/local/etc/pcp/blacklist"
	defaultBackend          = "squeezelite"
	defaultRestartMode      = "soft"
	defaultMPDHost          = "localhost"
	defaultMPDPort          = 6600
	defaultListenAddr       = ":3002"
)

// Settings is one immutable snapshot of the configuration values.
type Settings struct {
	FifoPath         string
	RulesPath        string
	PlayerConfigPath string
	ExclusionsPath   string
	Backend          string
	RestartMode      string
	MPDHost          string
	MPDPort          int
	InitScript       string
	PidFile          string
	ProcName         string
	ListenAddr       string
}

// Config loads the daemon configuration and watches the file for
// changes. Only the restart mode is honored on reload; paths and the
// exclusion list are fixed for the process lifetime.
type Config struct {
	viper *viper.Viper

	mu       sync.RWMutex
	settings Settings

	reloadConsumers []chan Settings
}

// New creates a config instance for the given file path. An empty path
// selects /etc/usbconnectd.yaml.
func New(path string) *Config {
	v := viper.New()
	if path == "" {
		v.SetConfigName("usbconnectd")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetDefault(keyFifoPath, defaultFifoPath)
	v.SetDefault(keyRulesPath, defaultRulesPath)
	v.SetDefault(keyPlayerConfigPath, defaultPlayerConfigPath)
	v.SetDefault(keyExclusionsPath, defaultExclusionsPath)
	v.SetDefault(keyBackend, defaultBackend)
	v.SetDefault(keyRestartMode, defaultRestartMode)
	v.SetDefault(keyMPDHost, defaultMPDHost)
	v.SetDefault(keyMPDPort, defaultMPDPort)
	v.SetDefault(keyInitScript, "")
	v.SetDefault(keyPidFile, "")
	v.SetDefault(keyProcName, "")
	v.SetDefault(keyListenAddr, defaultListenAddr)

	return &Config{viper: v}
}

// Load reads the config file. A missing file is fine: every key has a
// default, and appliance images often ship none.
func (c *Config) Load() error {
	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			log.Info().Msg("No config file found, using defaults")
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Info().Str("path", c.viper.ConfigFileUsed()).Msg("Loaded config")
	}

	c.populate()
	return nil
}

func (c *Config) populate() {
	settings := Settings{
		FifoPath:         c.viper.GetString(keyFifoPath),
		RulesPath:        c.viper.GetString(keyRulesPath),
		PlayerConfigPath: c.viper.GetString(keyPlayerConfigPath),
		ExclusionsPath:   c.viper.GetString(keyExclusionsPath),
		Backend:          strings.ToLower(c.viper.GetString(keyBackend)),
		RestartMode:      strings.ToLower(c.viper.GetString(keyRestartMode)),
		MPDHost:          c.viper.GetString(keyMPDHost),
		MPDPort:          c.viper.GetInt(keyMPDPort),
		InitScript:       c.viper.GetString(keyInitScript),
		PidFile:          c.viper.GetString(keyPidFile),
		ProcName:         c.viper.GetString(keyProcName),
		ListenAddr:       c.viper.GetString(keyListenAddr),
	}

	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
}

// Settings returns the current snapshot.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// SubscribeToChanges returns a channel receiving a fresh Settings
// snapshot after every successful reload.
func (c *Config) SubscribeToChanges() chan Settings {
	ch := make(chan Settings, 1)
	c.mu.Lock()
	c.reloadConsumers = append(c.reloadConsumers, ch)
	c.mu.Unlock()
	return ch
}

// Watch starts watching the config file for writes. Editors tend to
// write twice in quick succession, so reload attempts are debounced.
func (c *Config) Watch() {
	const (
		minTimeBetweenReloads      = 500 * time.Millisecond
		delayBetweenEventAndReload = 50 * time.Millisecond
	)

	lastReload := time.Now()

	c.viper.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write != fsnotify.Write {
			return
		}

		now := time.Now()
		if !lastReload.Add(minTimeBetweenReloads).Before(now) {
			return
		}
		lastReload = now

		// let the editor finish flushing before re-reading
		<-time.After(delayBetweenEventAndReload)

		if err := c.viper.ReadInConfig(); err != nil {
			log.Warn().Err(err).Msg("Config reload failed, keeping previous values")
			return
		}

		c.populate()
		log.Info().Msg("Config reloaded")
		c.notifyReload()
	})
	c.viper.WatchConfig()
}

func (c *Config) notifyReload() {
	settings := c.Settings()

	c.mu.RLock()
	consumers := make([]chan Settings, len(c.reloadConsumers))
	copy(consumers, c.reloadConsumers)
	c.mu.RUnlock()

	for _, consumer := range consumers {
		select {
		case consumer <- settings:
		default:
			// consumer is behind, it will pick up the next reload
		}
	}
}
