package changes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMarker reports a changes-since marker this service did not issue.
var ErrInvalidMarker = errors.New("changes: invalid changes-since marker")

// FormatMarker renders seq zero padded so that string and numeric order agree.
func FormatMarker(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// ParseMarker is the inverse of FormatMarker. An empty marker is zero.
func ParseMarker(marker string) (uint64, error) {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(marker, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMarker, marker)
	}
	return seq, nil
}
