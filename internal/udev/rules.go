// Package udev generates and installs the hotplug filter rules that feed
// device notifications into the daemon's event pipe.
package udev

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"

	"github.com/uudruid74/picoreplayer-usbconnectd/internal/registry"
)

const defaultRulesPath = "/etc/udev/rules.d/99-usbconnectd.rules"

// Installer rewrites the daemon's udev rules file for the active output
// and asks udev to reload.
type Installer struct {
	rulesPath string
	fifoPath  string
}

// NewInstaller creates an installer writing rules to rulesPath that echo
// notifications into fifoPath. An empty rulesPath selects the default
// rules.d location.
func NewInstaller(rulesPath, fifoPath string) *Installer {
	if rulesPath == "" {
		rulesPath = defaultRulesPath
	}
	return &Installer{rulesPath: rulesPath, fifoPath: fifoPath}
}

// Install rewrites the rules for the given active identity: removal of a
// device matching that identity enqueues "remove", and addition of any
// sound-class USB device enqueues "add <vendor>:<product>". A failed udev
// reload is logged but does not fail the install; the rules are on disk
// and will apply on the next reload.
func (i *Installer) Install(id registry.Identity) error {
	rules := renderRules(id, i.fifoPath)

	if err := os.WriteFile(i.rulesPath, []byte(rules), 0644); err != nil {
		return fmt.Errorf("write udev rules %s: %w", i.rulesPath, err)
	}
	log.Info().Str("path", i.rulesPath).Str("identity", id.String()).Msg("Installed hotplug filter rules")

	if output, err := exec.Command("udevadm", "control", "--reload").CombinedOutput(); err != nil {
		log.Warn().Err(err).Str("output", string(output)).Msg("udev rules reload failed")
	}

	return nil
}

// renderRules produces the rules file contents for one active identity.
func renderRules(id registry.Identity, fifoPath string) string {
	return fmt.Sprintf(`# Generated by usbconnectd - do not edit, changes are overwritten on rebind
ACTION=="remove", SUBSYSTEM=="usb", ENV{ID_VENDOR_ID}=="%s", ENV{ID_MODEL_ID}=="%s", RUN+="/bin/sh -c 'echo remove > %s'"
ACTION=="add", SUBSYSTEM=="sound", ENV{ID_VENDOR_ID}=="?*", RUN+="/bin/sh -c 'echo add $env{ID_VENDOR_ID}:$env{ID_MODEL_ID} > %s'"
`, id.Vendor, id.Product, fifoPath, fifoPath)
}
