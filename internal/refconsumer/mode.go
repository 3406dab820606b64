// SPDX-License-Identifier: MPL-2.0

package refconsumer

import (
	"errors"
	"fmt"
)

const (
	// ModeExact refreshes the mirror on every add and keys packages by commit.
	ModeExact Mode = iota
	// ModeSkipFetch never refreshes a cached mirror, so tags published after
	// the first add cannot be resolved.
	ModeSkipFetch
	// ModeRepositoryKey refreshes the mirror but keys packages by repository
	// only, so a later tag silently installs the first tag's content.
	ModeRepositoryKey
)

// ErrInvalidMode is returned by ParseMode.
var ErrInvalidMode = errors.New("invalid consumer mode")

// Mode selects the caching behaviour.
type Mode int

// Modes lists every mode in a stable order.
func Modes() []Mode { return []Mode{ModeExact, ModeSkipFetch, ModeRepositoryKey} }

// String returns the flag value for m.
func (m Mode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModeSkipFetch:
		return "skip-fetch"
	case ModeRepositoryKey:
		return "repository-key"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode is the inverse of String.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes() {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w %q (want exact, skip-fetch or repository-key)", ErrInvalidMode, s)
}

// Set implements pflag.Value.
func (m *Mode) Set(s string) error {
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Type implements pflag.Value.
func (*Mode) Type() string { return "mode" }
