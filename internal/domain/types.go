package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type SeatClass string

const (
	SeatRegular SeatClass = "regular"
	SeatPremium SeatClass = "premium"
	SeatVIP     SeatClass = "vip"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingReserved  BookingStatus = "reserved"
	BookingPaid      BookingStatus = "paid"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

// PaymentStatus is the payment state carried on a booking.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// TransactionStatus is the state of a payment record.
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

type Theatre struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"createdAt"`
}

type Seat struct {
	Number string          `json:"number"`
	Class  SeatClass       `json:"type"`
	Price  decimal.Decimal `json:"price"`
}

type SeatRow struct {
	Row   string `json:"row"`
	Seats []Seat `json:"seats"`
}

type Screen struct {
	ID        string    `json:"id"`
	TheatreID string    `json:"theatre"`
	Name      string    `json:"name"`
	Layout    []SeatRow `json:"seatLayout"`
	CreatedAt time.Time `json:"createdAt"`
}

// Showtime is one screening. SeatsVersion grows by one with every write to
// BookedSeats.
type Showtime struct {
	ID           string          `json:"id"`
	TheatreID    string          `json:"theatre"`
	ScreenID     string          `json:"screen"`
	MovieRef     string          `json:"movie"`
	ShowDate     string          `json:"showDate"`
	StartTime    string          `json:"startTime"`
	EndTime      string          `json:"endTime"`
	Price        decimal.Decimal `json:"price"`
	BookedSeats  []string        `json:"bookedSeats"`
	SeatsVersion int64           `json:"seatsVersion"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type Booking struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user"`
	ShowtimeID    string          `json:"showtime"`
	Seats         []string        `json:"seats"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	Status        BookingStatus   `json:"status"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	PaymentRef    string          `json:"paymentReference,omitempty"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Live reports whether the booking currently occupies its seats.
func (b *Booking) Live() bool {
	switch b.Status {
	case BookingPending, BookingReserved, BookingPaid:
		return true
	}
	return false
}

// Holding reports whether the booking is an unpaid hold subject to expiry.
func (b *Booking) Holding() bool {
	return b.Status == BookingPending || b.Status == BookingReserved
}

type Payment struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user"`
	BookingID     string            `json:"booking"`
	Amount        decimal.Decimal   `json:"amount"`
	Status        TransactionStatus `json:"status"`
	Provider      string            `json:"provider"`
	TransactionID string            `json:"transactionId,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

type MovieDetails struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Overview    string   `json:"overview,omitempty"`
	PosterURL   string   `json:"posterUrl,omitempty"`
	BackdropURL string   `json:"backdropUrl,omitempty"`
	ReleaseDate string   `json:"releaseDate,omitempty"`
	Runtime     int      `json:"runtime,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	VoteAverage float64  `json:"voteAverage,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// PlaceholderMovie is returned whenever catalog metadata cannot be resolved.
func PlaceholderMovie(ref, reason string) MovieDetails {
	return MovieDetails{
		ID:    ref,
		Title: "Movie " + ref,
		Error: reason,
	}
}

type ScreenSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ShowtimeDetails struct {
	Showtime
	Theatre      *Theatre       `json:"theatreDetails,omitempty"`
	Screen       *ScreenSummary `json:"screenDetails,omitempty"`
	MovieDetails MovieDetails   `json:"movieDetails"`
}

type ShowtimeFilter struct {
	MovieRef  string
	TheatreID string
	ShowDate  string
	Limit     int
	Offset    int
}

type ShowtimePage struct {
	Showtimes  []ShowtimeDetails `json:"showtimes"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	Total      int               `json:"total"`
	TotalPages int               `json:"totalPages"`
	HasMore    bool              `json:"hasMore"`
}

type BookingFilter struct {
	UserID     string
	ShowtimeID string
}

type BookingDetails struct {
	Booking
	Showtime *Showtime `json:"showtimeDetails,omitempty"`
}

type SeatAvailability struct {
	ShowtimeID     string   `json:"showtimeId"`
	ScreenName     string   `json:"screenName"`
	MovieRef       string   `json:"movieId"`
	TotalSeats     int      `json:"totalSeats"`
	BookedSeats    []string `json:"bookedSeats"`
	AvailableSeats []string `json:"availableSeats"`
	AvailableCount int      `json:"availableCount"`
	SeatsVersion   int64    `json:"seatsVersion"`
}

type AvailabilityCheck struct {
	ShowtimeID       string   `json:"showtimeId"`
	Available        bool     `json:"available"`
	RequestedSeats   []string `json:"requestedSeats"`
	UnavailableSeats []string `json:"unavailableSeats,omitempty"`
}

func (s Showtime) Clone() Showtime {
	s.BookedSeats = slices.Clone(s.BookedSeats)
	if s.BookedSeats == nil {
		s.BookedSeats = []string{}
	}
	return s
}

func (b Booking) Clone() Booking {
	b.Seats = slices.Clone(b.Seats)
	return b
}

func (s Screen) Clone() Screen {
	layout := make([]SeatRow, len(s.Layout))
	for i, r := range s.Layout {
		layout[i] = SeatRow{Row: r.Row, Seats: slices.Clone(r.Seats)}
	}
	s.Layout = layout
	return s
}

type ShowtimeEventType string

const (
	EventSeatsChanged    ShowtimeEventType = "seats_changed"
	EventShowtimeUpdated ShowtimeEventType = "showtime_updated"
	EventShowtimeDeleted ShowtimeEventType = "showtime_deleted"
)

// ShowtimeEvent is broadcast after a committed change to a showtime.
// SeatsVersion orders the events of one showtime: a subscriber drops an event
// older than the state it already holds.
type ShowtimeEvent struct {
	Type         ShowtimeEventType `json:"type"`
	ShowtimeID   string            `json:"showtimeId"`
	BookedSeats  []string          `json:"bookedSeats,omitempty"`
	SeatsVersion int64             `json:"seatsVersion,omitempty"`
	At           time.Time         `json:"at"`
}
