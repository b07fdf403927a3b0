package httpgin

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/service/scheduler"
)

type ShowtimeRequest struct {
	Theatre   string          `json:"theatre" binding:"required"`
	Screen    string          `json:"screen" binding:"required"`
	Movie     string          `json:"movie" binding:"required"`
	ShowDate  string          `json:"showDate" binding:"required"`
	StartTime string          `json:"startTime" binding:"required"`
	EndTime   string          `json:"endTime" binding:"required"`
	Price     decimal.Decimal `json:"price"`
}

type CheckConflictRequest struct {
	Screen    string `json:"screen" binding:"required"`
	ShowDate  string `json:"showDate" binding:"required"`
	StartTime string `json:"startTime" binding:"required"`
	EndTime   string `json:"endTime" binding:"required"`
	ExcludeID string `json:"excludeId"`
}

type CheckConflictResponse struct {
	HasConflict         bool             `json:"hasConflict"`
	ConflictingShowtime *domain.Showtime `json:"conflictingShowtime,omitempty"`
}

type CheckAvailabilityRequest struct {
	Seats []string `json:"seats"`
}

type CreateBookingRequest struct {
	User       string          `json:"user"`
	Showtime   string          `json:"showtime" binding:"required"`
	Seats      []string        `json:"seats"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type BookingResponse struct {
	Message string         `json:"message,omitempty"`
	Booking domain.Booking `json:"booking"`
}

type UserBookingsResponse struct {
	Bookings []domain.BookingDetails `json:"bookings"`
}

type CheckoutRequest struct {
	Provider string `json:"provider"`
}

type PaymentConfirmationRequest struct {
	BookingID  string `json:"bookingId" binding:"required"`
	PaymentRef string `json:"paymentRef"`
	Status     string `json:"status" binding:"required"`
}

type CreateTheatreRequest struct {
	Name     string `json:"name" binding:"required"`
	Location string `json:"location"`
}

type CreateScreenRequest struct {
	Theatre    string           `json:"theatre" binding:"required"`
	Name       string           `json:"name" binding:"required"`
	SeatLayout []domain.SeatRow `json:"seatLayout"`
}

type UpdateLayoutRequest struct {
	SeatLayout []domain.SeatRow `json:"seatLayout"`
}

type ExpireResponse struct {
	Expired int `json:"expired"`
}

// ErrorResponse is the body of every non-2xx answer. error carries the kind.
type ErrorResponse struct {
	Error               string           `json:"error"`
	Message             string           `json:"message,omitempty"`
	Field               string           `json:"field,omitempty"`
	Seats               []string         `json:"seats,omitempty"`
	InvalidSeats        []string         `json:"invalidSeats,omitempty"`
	ConflictingShowtime *domain.Showtime `json:"conflictingShowtime,omitempty"`
}

func (r ShowtimeRequest) toInput() scheduler.ScheduleInput {
	return scheduler.ScheduleInput{
		TheatreID: r.Theatre,
		ScreenID:  r.Screen,
		MovieRef:  r.Movie,
		ShowDate:  normalizeDate(r.ShowDate),
		StartTime: strings.TrimSpace(r.StartTime),
		EndTime:   strings.TrimSpace(r.EndTime),
		Price:     r.Price,
	}
}

// normalizeDate accepts either YYYY-MM-DD or an RFC 3339 timestamp.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(domain.DateLayout)
	}
	return s
}
