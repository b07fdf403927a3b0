package httpgin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kirinyoku/cinego/internal/service"
)

// @Summary  Create theatre
// @Param    req  body  CreateTheatreRequest  true  "payload"
// @Success  201  {object}  domain.Theatre
// @Router   /admin/theatres [post]
func handleCreateTheatre(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTheatreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		th, err := svcs.Admin.CreateTheatre(c.Request.Context(), req.Name, req.Location)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, th)
	}
}

// @Summary  Create screen with seat layout
// @Param    req  body  CreateScreenRequest  true  "payload"
// @Success  201  {object}  domain.Screen
// @Failure  404  {object}  ErrorResponse  "theatre not found"
// @Router   /admin/screens [post]
func handleCreateScreen(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateScreenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		sc, err := svcs.Admin.CreateScreen(c.Request.Context(), req.Theatre, req.Name, req.SeatLayout)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, sc)
	}
}

// @Summary  Replace screen seat layout
// @Param    id   path  string               true  "Screen ID"
// @Param    req  body  UpdateLayoutRequest  true  "payload"
// @Success  200  {object}  domain.Screen
// @Failure  409  {object}  ErrorResponse  "removed seats are booked"
// @Router   /admin/screens/{id}/layout [put]
func handleUpdateLayout(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateLayoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		sc, err := svcs.Admin.UpdateScreenLayout(c.Request.Context(), c.Param("id"), req.SeatLayout)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, sc)
	}
}

// @Summary  Expire lapsed holds now
// @Success  200  {object}  ExpireResponse
// @Router   /admin/bookings/expire [post]
func handleExpireBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := svcs.Booking.ExpireStaleBookings(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ExpireResponse{Expired: n})
	}
}
