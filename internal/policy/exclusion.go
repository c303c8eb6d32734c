// Package policy holds the operator-maintained device exclusion list.
package policy

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// ExclusionSet is a set of device-name fragments that must never be
// auto-selected. It is loaded once at startup and immutable afterwards.
type ExclusionSet struct {
	fragments []string
}

// LoadExclusions reads a newline-delimited fragment list. Blank lines and
// '#' comments are skipped. A missing file yields an empty set, not an
// error; the daemon simply runs without exclusions.
func LoadExclusions(path string) (*ExclusionSet, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("No exclusion list found, all devices eligible")
			return &ExclusionSet{}, nil
		}
		return nil, fmt.Errorf("open exclusion list %s: %w", path, err)
	}
	defer file.Close()

	set := &ExclusionSet{}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set.fragments = append(set.fragments, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read exclusion list %s: %w", path, err)
	}

	log.Info().Int("count", len(set.fragments)).Str("path", path).Msg("Loaded exclusion list")
	return set, nil
}

// NewExclusionSet builds a set from literal fragments. Used by tests and
// by callers that source the list elsewhere.
func NewExclusionSet(fragments ...string) *ExclusionSet {
	return &ExclusionSet{fragments: fragments}
}

// Excluded reports whether a device name matches the exclusion list.
// Matching is loose substring containment in both directions: a fragment
// occurring inside the name excludes it, and so does a name occurring
// inside a fragment. A short fragment can therefore catch unrelated
// devices; that looseness is deliberate.
func (s *ExclusionSet) Excluded(name string) bool {
	if name == "" {
		return false
	}
	for _, fragment := range s.fragments {
		if strings.Contains(name, fragment) || strings.Contains(fragment, name) {
			return true
		}
	}
	return false
}

// Len returns the number of fragments in the set.
func (s *ExclusionSet) Len() int {
	return len(s.fragments)
}
