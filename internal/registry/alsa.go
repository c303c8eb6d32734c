package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/thoas/go-funk"
)

const defaultProcRoot = "/proc/asound"

// cardLineRegexp matches the first line of a card entry in /proc/asound/cards:
//
//	1 [D10            ]: USB-Audio - D10
//	                     Topping D10 at usb-3f980000.usb-1.2, high speed
var cardLineRegexp = regexp.MustCompile(`^\s*(\d+)\s+\[([^\]\s]+)\s*\]:\s*(.*)$`)

// AlsaRegistry enumerates sound cards from the ALSA proc tree. Only cards
// backed by a USB device (those exposing a usbid) are reported, since only
// those can be correlated with hotplug events.
type AlsaRegistry struct {
	root string
}

// NewAlsaRegistry creates a registry over the given proc tree root.
// An empty root selects /proc/asound.
func NewAlsaRegistry(root string) *AlsaRegistry {
	if root == "" {
		root = defaultProcRoot
	}
	return &AlsaRegistry{root: root}
}

// Devices returns a fresh snapshot of the attached USB audio outputs, in
// card-number order.
func (r *AlsaRegistry) Devices() ([]Device, error) {
	cards, err := r.readCards()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(cards))
	for _, card := range cards {
		usbid, err := os.ReadFile(filepath.Join(r.root, fmt.Sprintf("card%d", card.num), "usbid"))
		if err != nil {
			// Not a USB card (onboard codec, HDMI, ...), skip it.
			continue
		}

		identity, err := ParseIdentity(string(usbid))
		if err != nil {
			log.Warn().Int("card", card.num).Err(err).Msg("Skipping card with unparseable usbid")
			continue
		}

		devices = append(devices, Device{
			ShortName:   card.id,
			Name:        card.name,
			Identity:    identity,
			OutputName:  "hw:CARD=" + card.id,
			SampleRates: r.readRates(card.num),
		})
	}

	return devices, nil
}

type cardEntry struct {
	num  int
	id   string
	name string
}

// readCards parses /proc/asound/cards. Each card occupies two lines; the
// second (indented) line carries the descriptive label.
func (r *AlsaRegistry) readCards() ([]cardEntry, error) {
	path := filepath.Join(r.root, "cards")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var cards []cardEntry

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()

		if m := cardLineRegexp.FindStringSubmatch(line); m != nil {
			num, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			cards = append(cards, cardEntry{num: num, id: m[2], name: strings.TrimSpace(m[3])})
			continue
		}

		// Continuation line: prefer the long description over the
		// driver summary captured from the first line.
		if len(cards) > 0 && strings.HasPrefix(line, " ") {
			if desc := strings.TrimSpace(line); desc != "" {
				cards[len(cards)-1].name = desc
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return cards, nil
}

// readRates collects the advertised playback rates from the card's stream
// descriptors. A card with no parseable stream info yields an empty set;
// that is not an error, the device is still usable at its driver default.
func (r *AlsaRegistry) readRates(cardNum int) []int {
	var rates []int

	// A composite device may expose several streams (stream0, stream1...).
	matches, err := filepath.Glob(filepath.Join(r.root, fmt.Sprintf("card%d", cardNum), "stream*"))
	if err != nil {
		return nil
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rates = append(rates, parseStreamRates(string(data))...)
	}

	rates = funk.UniqInt(rates)
	sort.Ints(rates)
	return rates
}

// parseStreamRates extracts rates from "Rates: 44100, 48000, ..." lines of
// an ALSA usb-audio stream descriptor. Only the Playback section matters;
// Capture interfaces of composite devices are ignored.
func parseStreamRates(stream string) []int {
	var rates []int
	inPlayback := false

	scanner := bufio.NewScanner(strings.NewReader(stream))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "Playback:"):
			inPlayback = true
		case strings.HasPrefix(line, "Capture:"):
			inPlayback = false
		case inPlayback && strings.HasPrefix(line, "Rates:"):
			fields := strings.FieldsFunc(strings.TrimPrefix(line, "Rates:"), func(r rune) bool {
				return r == ',' || r == ' '
			})
			for _, f := range fields {
				if rate, err := strconv.Atoi(f); err == nil {
					rates = append(rates, rate)
				}
			}
		}
	}

	return rates
}
