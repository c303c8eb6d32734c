// Package playerconf persists the chosen output into the playback
// service's key=value configuration file.
package playerconf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	keyOutput      = "OUTPUT"
	keySampleRates = "SAMPLE_RATES"
)

// Store rewrites the OUTPUT and SAMPLE_RATES keys of a player config file
// in place, leaving every other line untouched.
type Store struct {
	path string
}

// NewStore creates a store over the given config file.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Output returns the currently recorded output name, or "" when the file
// or the key does not exist. Used at startup to re-resolve the previous
// binding against the live registry.
func (s *Store) Output() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read player config %s: %w", s.path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if key, value, ok := splitKeyValue(line); ok && key == keyOutput {
			return value, nil
		}
	}
	return "", nil
}

// SaveOutput records the output name and its sample-rate set. Existing
// keys are replaced where they stand; missing keys are appended. The file
// is created when absent.
func (s *Store) SaveOutput(output string, rates []int) error {
	var lines []string
	if data, err := os.ReadFile(s.path); err == nil {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) == 1 && lines[0] == "" {
			lines = nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read player config %s: %w", s.path, err)
	}

	replacements := map[string]string{
		keyOutput:      output,
		keySampleRates: joinRates(rates),
	}

	seen := make(map[string]bool)
	for i, line := range lines {
		if key, _, ok := splitKeyValue(line); ok {
			if value, wanted := replacements[key]; wanted {
				lines[i] = key + `="` + value + `"`
				seen[key] = true
			}
		}
	}
	for _, key := range []string{keyOutput, keySampleRates} {
		if !seen[key] {
			lines = append(lines, key+`="`+replacements[key]+`"`)
		}
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(s.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write player config %s: %w", s.path, err)
	}

	log.Info().Str("path", s.path).Str("output", output).Msg("Persisted output to player config")
	return nil
}

// splitKeyValue parses a KEY=value or KEY="value" line. Comments and
// malformed lines report ok=false and pass through untouched.
func splitKeyValue(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(trimmed, "=")
	if !found || key == "" {
		return "", "", false
	}
	return key, strings.Trim(value, `"`), true
}

func joinRates(rates []int) string {
	parts := make([]string, len(rates))
	for i, rate := range rates {
		parts[i] = strconv.Itoa(rate)
	}
	return strings.Join(parts, ",")
}
