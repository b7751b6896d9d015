package codec

import (
	"errors"
	"fmt"
	"strconv"
)

// positionWidth fits math.MaxUint64 (20 decimal digits).
const positionWidth = 20

var ErrInvalidPosition = errors.New("invalid position id")

// PositionID renders a numeric position as a fixed-width decimal string so
// that lexicographic order on ids equals numeric order on positions.
func PositionID(pos uint64) string {
	return fmt.Sprintf("%0*d", positionWidth, pos)
}

// ParsePositionID is the inverse of PositionID.
func ParsePositionID(id string) (uint64, error) {
	if len(id) != positionWidth {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, id)
	}
	v, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, id)
	}
	return v, nil
}
