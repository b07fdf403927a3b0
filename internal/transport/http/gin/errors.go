package httpgin

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/service/admin"
	"github.com/kirinyoku/cinego/internal/service/scheduler"
)

const (
	kindValidation       = "ValidationError"
	kindNotFound         = "NotFoundError"
	kindConflict         = "ConflictError"
	kindSeatConflict     = "SeatConflictError"
	kindInvalidSeat      = "InvalidSeatError"
	kindAlreadyCancelled = "AlreadyCancelledError"
	kindBookingClosed    = "BookingClosedError"
	kindExternal         = "ExternalServiceError"
	kindRateLimited      = "RateLimitedError"
	kindContention       = "ContentionError"
	kindInternal         = "InternalError"
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: kindValidation, Message: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var (
		verr      *domain.ValidationError
		invalid   *domain.InvalidSeatError
		taken     *domain.SeatConflictError
		overlap   *domain.ShowtimeConflictError
		inUse     *admin.SeatsInUseError
		external  *domain.ExternalServiceError
		throttled *domain.RateLimitedError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: kindValidation, Message: verr.Message, Field: verr.Field})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:        kindInvalidSeat,
			Message:      invalid.Error(),
			InvalidSeats: invalid.Seats,
		})
	case errors.As(err, &taken):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   kindSeatConflict,
			Message: "Some seats are already booked",
			Seats:   taken.Seats,
		})
	case errors.As(err, &overlap):
		st := overlap.Existing
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:               kindConflict,
			Message:             overlap.Error(),
			ConflictingShowtime: &st,
		})
	case errors.As(err, &inUse):
		c.JSON(http.StatusConflict, ErrorResponse{Error: kindConflict, Message: inUse.Error(), Seats: inUse.Seats})
	case errors.As(err, &throttled):
		secs := int(math.Ceil(throttled.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: kindRateLimited, Message: "too many booking attempts"})
	case errors.As(err, &external):
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: kindExternal, Message: external.Service + " unavailable"})

	case errors.Is(err, domain.ErrTheatreNotFound),
		errors.Is(err, domain.ErrScreenNotFound),
		errors.Is(err, domain.ErrShowtimeNotFound),
		errors.Is(err, domain.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: kindNotFound, Message: notFoundMessage(err)})

	case errors.Is(err, domain.ErrContention):
		_ = c.Error(err)
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: kindContention, Message: "showtime is busy, please retry"})

	case errors.Is(err, domain.ErrAlreadyCancelled):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: kindAlreadyCancelled, Message: "Booking is already cancelled"})
	case errors.Is(err, domain.ErrBookingClosed):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: kindBookingClosed, Message: "Booking has expired"})
	case errors.Is(err, domain.ErrAlreadyPaid):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: kindValidation, Message: "Booking is already paid"})

	case errors.Is(err, scheduler.ErrShowtimeHasBookings):
		c.JSON(http.StatusConflict, ErrorResponse{Error: kindConflict, Message: "Showtime has active bookings"})
	case errors.Is(err, scheduler.ErrShowtimeExists),
		errors.Is(err, admin.ErrTheatreConflict),
		errors.Is(err, admin.ErrScreenConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: kindConflict, Message: rootMessage(err)})

	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: kindInternal, Message: "internal server error"})
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrTheatreNotFound):
		return "Theatre not found"
	case errors.Is(err, domain.ErrScreenNotFound):
		return "Screen not found"
	case errors.Is(err, domain.ErrShowtimeNotFound):
		return "Showtime not found"
	default:
		return "Booking not found"
	}
}

func rootMessage(err error) string {
	for _, sentinel := range []error{scheduler.ErrShowtimeExists, admin.ErrTheatreConflict, admin.ErrScreenConflict} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
