package httpgin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirinyoku/cinego/internal/domain"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
	"github.com/kirinyoku/cinego/internal/service"
	"github.com/kirinyoku/cinego/internal/service/booking"
)

// @Summary  Create booking (idempotent)
// @Param    req  body  CreateBookingRequest  true  "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201  {object}  BookingResponse
// @Failure  400  {object}  ErrorResponse  "validation / invalid seats"
// @Failure  409  {object}  ErrorResponse  "seats already booked / idem in progress"
// @Failure  429  {object}  ErrorResponse  "rate limited"
// @Router   /booking/create [post]
func handleCreateBooking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID := strings.TrimSpace(req.User)
		if caller := callerID(c); caller != "" {
			switch {
			case userID == "":
				userID = caller
			case userID != caller && !isAdmin(c):
				abortAuth(c, http.StatusForbidden, "cannot book for another user")
				return
			}
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBooking(userID, idemKey)

			payload, ok, err := idem.GetResult(c.Request.Context(), idemStorageKey)
			if err != nil {
				logger.Warn("idempotency lookup failed", "key", idemStorageKey, "err", err)
			}
			if ok {
				replay(c, idemKey, payload)
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			switch {
			case err != nil:
				// an idempotency outage must not block sales
				logger.Warn("idempotency lock unavailable", "key", idemStorageKey, "err", err)
				idemStorageKey = ""
			case !locked:
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					replay(c, idemKey, payload)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{
					Error:   kindConflict,
					Message: "idempotency key in progress",
				})
				return
			}
		}

		b, err := svcs.Booking.CreateBooking(c.Request.Context(), booking.CreateInput{
			UserID:       userID,
			ShowtimeID:   req.Showtime,
			Seats:        req.Seats,
			TotalPrice:   req.TotalPrice,
			RateLimitKey: "ip:" + c.ClientIP(),
		})
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := BookingResponse{Message: "Booking created successfully", Booking: *b}

		if idemStorageKey != "" {
			payload, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(payload))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func replay(c *gin.Context, idemKey, payload string) {
	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
}

// @Summary  Get booking
// @Param    id  path  string  true  "Booking ID"
// @Success  200  {object}  domain.BookingDetails
// @Failure  404  {object}  ErrorResponse
// @Router   /booking/get/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := svcs.Booking.GetBooking(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		if !canAccess(c, b.UserID) {
			respondErr(c, domain.ErrBookingNotFound)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  List bookings
// @Param    user      query  string  false  "User ID"
// @Param    showtime  query  string  false  "Showtime ID"
// @Success  200  {array}  domain.BookingDetails
// @Router   /booking/get [get]
func handleListBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svcs.Booking.ListBookings(c.Request.Context(), domain.BookingFilter{
			UserID:     c.Query("user"),
			ShowtimeID: c.Query("showtime"),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// @Summary  List a user's bookings
// @Param    userId  path  string  true  "User ID"
// @Success  200  {object}  UserBookingsResponse
// @Router   /booking/user/{userId} [get]
func handleListUserBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		if !canAccess(c, userID) {
			abortAuth(c, http.StatusForbidden, "cannot list another user's bookings")
			return
		}
		list, err := svcs.Booking.ListBookings(c.Request.Context(), domain.BookingFilter{UserID: userID})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, UserBookingsResponse{Bookings: list})
	}
}

// @Summary  Cancel booking
// @Param    id  path  string  true  "Booking ID"
// @Success  200  {object}  BookingResponse
// @Failure  400  {object}  ErrorResponse  "already cancelled / expired"
// @Failure  404  {object}  ErrorResponse
// @Router   /booking/{id}/cancel [patch]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !ownsBooking(c, svcs, id) {
			return
		}
		b, err := svcs.Booking.CancelBooking(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, BookingResponse{Message: "Booking cancelled successfully", Booking: *b})
	}
}

// @Summary  Start checkout
// @Param    id   path  string           true  "Booking ID"
// @Param    req  body  CheckoutRequest  false "payload"
// @Success  201  {object}  payment.Checkout
// @Failure  400  {object}  ErrorResponse
// @Failure  502  {object}  ErrorResponse  "gateway unavailable"
// @Router   /booking/{id}/checkout [post]
func handleCheckout(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var req CheckoutRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		if !ownsBooking(c, svcs, id) {
			return
		}

		co, err := svcs.Payment.InitiateCheckout(c.Request.Context(), id, req.Provider)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, co)
	}
}

// @Summary  Payment provider callback
// @Param    req  body  PaymentConfirmationRequest  true  "payload"
// @Success  200  {object}  BookingResponse
// @Failure  400  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse  "seats resold after expiry"
// @Router   /booking/webhook/payment-confirmation [post]
func handlePaymentConfirmation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PaymentConfirmationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		b, err := svcs.Payment.ConfirmPayment(c.Request.Context(), req.BookingID, req.PaymentRef, req.Status)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, BookingResponse{Message: "Payment status updated", Booking: *b})
	}
}

// @Summary  Delete booking
// @Param    id  path  string  true  "Booking ID"
// @Success  200  {object}  map[string]string
// @Failure  404  {object}  ErrorResponse
// @Router   /booking/delete/{id} [delete]
func handleDeleteBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svcs.Booking.DeleteBooking(c.Request.Context(), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Booking deleted successfully"})
	}
}

// canAccess reports whether the caller may see data of userID. Everything is
// visible when auth is disabled.
func canAccess(c *gin.Context, userID string) bool {
	caller := callerID(c)
	return caller == "" || caller == userID || isAdmin(c)
}

// ownsBooking answers 404 and returns false unless the caller may act on the booking.
func ownsBooking(c *gin.Context, svcs *service.Services, id string) bool {
	if callerID(c) == "" || isAdmin(c) {
		return true
	}
	b, err := svcs.Booking.GetBooking(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return false
	}
	if b.UserID != callerID(c) {
		respondErr(c, domain.ErrBookingNotFound)
		return false
	}
	return true
}
