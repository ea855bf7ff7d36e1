package migration

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultWidth is the number of digits generated unit prefixes are padded to.
const DefaultWidth = 4

var (
	ErrUnknownDirection = errors.New("unknown migration direction")
	ErrInvalidID        = errors.New("invalid unit identifier")
	ErrKeyTooWide       = errors.New("sequence key does not fit the prefix width")
)

// <digits>[-<slug>] or <digits>[_<slug>]
var idPattern = regexp.MustCompile(`^([0-9]+)(?:[-_]([^\s/\\]+))?$`)

// ParseID splits a unit identifier (a file name without its extension)
// into its sequence key and title.
func ParseID(id string) (Ref, error) {
	match := idPattern.FindStringSubmatch(id)
	if match == nil {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	key, err := strconv.ParseUint(match[1], 10, KeyBits)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %q has an out of range prefix", ErrInvalidID, id)
	}

	return Ref{
		Key:   Key(key),
		Width: len(match[1]),
		Title: match[2],
		ID:    id,
	}, nil
}

// FormatID builds the identifier for a new unit: the key zero-padded to
// width digits, then the title if there is one.
func FormatID(key Key, width int, title string) (string, error) {
	digits := strconv.FormatUint(uint64(key), 10)
	if len(digits) > width {
		return "", fmt.Errorf("%w: %s is longer than %d digits", ErrKeyTooWide, digits, width)
	}

	id := strings.Repeat("0", width-len(digits)) + digits
	if title != "" {
		id += "-" + title
	}

	return id, nil
}

// Slugify joins title words with '-', collapsing any whitespace inside them.
func Slugify(words []string) string {
	return strings.Join(strings.Fields(strings.Join(words, " ")), "-")
}
