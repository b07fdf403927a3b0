package queue

import (
	"time"

	"github.com/kirinyoku/cinego/internal/domain"
)

const BookingConfirmedQueue = "booking.confirmed"

// BookingConfirmedEvent carries enough for downstream consumers (mail, analytics)
// to act without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID   string   `json:"booking_id"`
	UserID      string   `json:"user_id"`
	ShowtimeID  string   `json:"showtime_id"`
	TheatreID   string   `json:"theatre_id"`
	ScreenID    string   `json:"screen_id"`
	MovieRef    string   `json:"movie_ref"`
	ShowDate    string   `json:"show_date"`
	StartTime   string   `json:"start_time"`
	Seats       []string `json:"seats"`
	TotalPrice  string   `json:"total_price"`
	PaymentRef  string   `json:"payment_ref"`
	ConfirmedAt string   `json:"confirmed_at"`
}

func NewBookingConfirmedEvent(b domain.Booking, st domain.Showtime, at time.Time) BookingConfirmedEvent {
	return BookingConfirmedEvent{
		BookingID:   b.ID,
		UserID:      b.UserID,
		ShowtimeID:  b.ShowtimeID,
		TheatreID:   st.TheatreID,
		ScreenID:    st.ScreenID,
		MovieRef:    st.MovieRef,
		ShowDate:    st.ShowDate,
		StartTime:   st.StartTime,
		Seats:       b.Seats,
		TotalPrice:  b.TotalPrice.StringFixed(2),
		PaymentRef:  b.PaymentRef,
		ConfirmedAt: at.UTC().Format(time.RFC3339),
	}
}
