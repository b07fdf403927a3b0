package domain

import (
	"fmt"
	"regexp"
	"time"
)

const DateLayout = "2006-01-02"

var (
	seatIDPattern    = regexp.MustCompile(`^[A-Za-z]{1,3}[0-9]{1,3}$`)
	rowLabelPattern  = regexp.MustCompile(`^[A-Za-z]{1,3}$`)
	seatNumPattern   = regexp.MustCompile(`^[0-9]{1,3}$`)
	clockTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)
)

// SeatID builds the identifier clients use for a seat, e.g. row "A" and number "7" give "A7".
func SeatID(row, number string) string {
	return row + number
}

func ValidSeatID(id string) bool {
	return seatIDPattern.MatchString(id)
}

func ValidRowLabel(row string) bool {
	return rowLabelPattern.MatchString(row)
}

func ValidSeatNumber(n string) bool {
	return seatNumPattern.MatchString(n)
}

// SeatIDs flattens the layout in row order.
func (s *Screen) SeatIDs() []string {
	var out []string
	for _, r := range s.Layout {
		for _, seat := range r.Seats {
			out = append(out, SeatID(r.Row, seat.Number))
		}
	}
	return out
}

func (s *Screen) Seat(id string) (Seat, bool) {
	for _, r := range s.Layout {
		for _, seat := range r.Seats {
			if SeatID(r.Row, seat.Number) == id {
				return seat, true
			}
		}
	}
	return Seat{}, false
}

// InvalidSeats returns the ids in seats that are not part of the layout, in request order.
func (s *Screen) InvalidSeats(seats []string) []string {
	return Subtract(seats, s.SeatIDs())
}

// Intersect returns the elements of a also present in b, keeping a's order.
func Intersect(a, b []string) []string {
	set := toSet(b)
	var out []string
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Subtract returns the elements of a not present in b, keeping a's order.
func Subtract(a, b []string) []string {
	set := toSet(b)
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := set[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

func toSet(vs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		set[v] = struct{}{}
	}
	return set
}

// ParseClock parses a 24-hour "HH:MM" wall-clock time into minutes since midnight.
func ParseClock(s string) (int, error) {
	m := clockTimePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h := int(m[1][0]-'0')*10 + int(m[1][1]-'0')
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	return h*60 + mm, nil
}

func ParseShowDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and [bStart,bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}
