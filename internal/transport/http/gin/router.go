package httpgin

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/events"
	"github.com/kirinyoku/cinego/internal/metrics"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
	"github.com/kirinyoku/cinego/internal/service"
)

// Deps are the router's collaborators. Idem, Metrics and Gatherer may be nil.
type Deps struct {
	Services  *service.Services
	Hub       *events.Hub
	Idem      *redisrepo.IdempotencyStore
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	JWTSecret []byte
	Logger    *slog.Logger
	// KeepAlive is the interval of SSE comment pings; zero means 15s.
	KeepAlive time.Duration
}

func NewRouter(d Deps, middlewares ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(d.Logger, "/healthz", "/metrics"), CORS())
	if d.Metrics != nil {
		r.Use(MetricsMiddleware(d.Metrics))
	}
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	svcs := d.Services
	authn := Authenticate(d.JWTSecret)
	adminOnly := RequireAdmin(d.JWTSecret)

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// Showtimes
	showtimes := r.Group("/showtime")
	{
		showtimes.GET("", handleListShowtimes(svcs))
		showtimes.GET("/:id", handleGetShowtime(svcs))
		showtimes.GET("/:id/seats", handleGetSeats(svcs))
		showtimes.GET("/:id/events", handleShowtimeEvents(svcs, d.Hub, d.KeepAlive))
		showtimes.POST("/:id/check-availability", handleCheckAvailability(svcs))

		showtimes.POST("", authn, adminOnly, handleScheduleShowtime(svcs))
		showtimes.POST("/check-conflict", authn, adminOnly, handleCheckConflict(svcs))
		showtimes.PUT("/:id", authn, adminOnly, handleRescheduleShowtime(svcs))
		showtimes.DELETE("/:id", authn, adminOnly, handleDeleteShowtime(svcs))
	}

	// Bookings
	bookings := r.Group("/booking")
	{
		// called by the payment provider, not by users
		bookings.POST("/webhook/payment-confirmation", handlePaymentConfirmation(svcs))

		user := bookings.Group("", authn)
		user.POST("/create", handleCreateBooking(svcs, d.Idem, d.Logger))
		user.GET("/get/:id", handleGetBooking(svcs))
		user.GET("/get", adminOnly, handleListBookings(svcs))
		user.GET("/user/:userId", handleListUserBookings(svcs))
		user.PATCH("/:id/cancel", handleCancelBooking(svcs))
		user.POST("/:id/checkout", handleCheckout(svcs))
		user.DELETE("/delete/:id", adminOnly, handleDeleteBooking(svcs))
	}

	// Admin-API
	admin := r.Group("/admin", authn, adminOnly)
	{
		admin.POST("/theatres", handleCreateTheatre(svcs))
		admin.POST("/screens", handleCreateScreen(svcs))
		admin.PUT("/screens/:id/layout", handleUpdateLayout(svcs))
		admin.POST("/bookings/expire", handleExpireBookings(svcs))
	}

	return r
}

// --- Showtime handlers ---

// @Summary  List showtimes
// @Param    movie    query  string  false  "Movie reference"
// @Param    theatre  query  string  false  "Theatre ID"
// @Param    date     query  string  false  "Show date (YYYY-MM-DD)"
// @Param    page     query  int     false  "Page, from 1"
// @Param    limit    query  int     false  "Page size, max 100"
// @Success  200  {object}  domain.ShowtimePage
// @Router   /showtime [get]
func handleListShowtimes(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := domain.ShowtimeFilter{
			MovieRef:  c.Query("movie"),
			TheatreID: c.Query("theatre"),
		}
		if date := c.Query("date"); date != "" {
			f.ShowDate = normalizeDate(date)
			if _, err := domain.ParseShowDate(f.ShowDate); err != nil {
				badRequest(c, err.Error())
				return
			}
		}

		page, err := svcs.Scheduler.ListShowtimes(
			c.Request.Context(),
			f,
			parseIntDefault(c.Query("page"), 1),
			parseIntDefault(c.Query("limit"), 0),
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, page, "no-cache", true)
	}
}

// @Summary  Get showtime
// @Param    id  path  string  true  "Showtime ID"
// @Success  200  {object}  domain.ShowtimeDetails
// @Failure  404  {object}  ErrorResponse
// @Router   /showtime/{id} [get]
func handleGetShowtime(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svcs.Scheduler.GetShowtime(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, st, "no-cache", true)
	}
}

// @Summary  Seat availability
// @Param    id  path  string  true  "Showtime ID"
// @Success  200  {object}  domain.SeatAvailability
// @Failure  404  {object}  ErrorResponse
// @Router   /showtime/{id}/seats [get]
func handleGetSeats(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		avail, err := svcs.Inventory.GetAvailableSeats(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		// revalidated on every request
		writeJSONWithCache(c, http.StatusOK, avail, "no-cache", true)
	}
}

// @Summary  Check seats without reserving them
// @Param    id   path  string                    true  "Showtime ID"
// @Param    req  body  CheckAvailabilityRequest  true  "payload"
// @Success  200  {object}  domain.AvailabilityCheck
// @Failure  400  {object}  ErrorResponse  "invalid seats"
// @Router   /showtime/{id}/check-availability [post]
func handleCheckAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckAvailabilityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := svcs.Inventory.CheckSeatsAvailability(c.Request.Context(), c.Param("id"), req.Seats)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary  Schedule showtime
// @Param    req  body  ShowtimeRequest  true  "payload"
// @Success  201  {object}  domain.ShowtimeDetails
// @Failure  400  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse  "overlapping showtime"
// @Router   /showtime [post]
func handleScheduleShowtime(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ShowtimeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		st, err := svcs.Scheduler.ScheduleShowtime(c.Request.Context(), req.toInput())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, st)
	}
}

// @Summary  Reschedule showtime
// @Param    id   path  string           true  "Showtime ID"
// @Param    req  body  ShowtimeRequest  true  "payload"
// @Success  200  {object}  domain.ShowtimeDetails
// @Failure  409  {object}  ErrorResponse
// @Router   /showtime/{id} [put]
func handleRescheduleShowtime(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ShowtimeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		st, err := svcs.Scheduler.RescheduleShowtime(c.Request.Context(), c.Param("id"), req.toInput())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// @Summary  Delete showtime
// @Param    id  path  string  true  "Showtime ID"
// @Success  200  {object}  map[string]string
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse  "live bookings"
// @Router   /showtime/{id} [delete]
func handleDeleteShowtime(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svcs.Scheduler.DeleteShowtime(c.Request.Context(), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Showtime deleted successfully"})
	}
}

// @Summary  Check for a schedule conflict
// @Param    req  body  CheckConflictRequest  true  "payload"
// @Success  200  {object}  CheckConflictResponse
// @Router   /showtime/check-conflict [post]
func handleCheckConflict(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckConflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		existing, err := svcs.Scheduler.CheckConflict(
			c.Request.Context(),
			req.Screen,
			normalizeDate(req.ShowDate),
			req.StartTime,
			req.EndTime,
			req.ExcludeID,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, CheckConflictResponse{
			HasConflict:         existing != nil,
			ConflictingShowtime: existing,
		})
	}
}

// --- Helpers ---

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
