package admin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTheatreConflict = errors.New("theatre already exists")
	ErrScreenConflict  = errors.New("screen already exists")
)

// SeatsInUseError lists seats a layout change would remove while they are
// still booked in some showtime of the screen.
type SeatsInUseError struct {
	Seats []string
}

func (e *SeatsInUseError) Error() string {
	return fmt.Sprintf("seats still booked: %s", strings.Join(e.Seats, ", "))
}
