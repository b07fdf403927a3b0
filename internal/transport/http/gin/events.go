package httpgin

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/events"
	"github.com/kirinyoku/cinego/internal/service"
)

// @Summary  Stream seat changes (server-sent events)
// @Description  Sends a "snapshot" event with current availability, then one
// @Description  event per committed change: seats_changed, showtime_updated, showtime_deleted.
// @Description  Events carry seatsVersion; one older than the state already sent is skipped.
// @Param    id  path  string  true  "Showtime ID"
// @Produce  text/event-stream
// @Success  200
// @Failure  404  {object}  ErrorResponse
// @Router   /showtime/{id}/events [get]
func handleShowtimeEvents(svcs *service.Services, hub *events.Hub, keepAlive time.Duration) gin.HandlerFunc {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}

	return func(c *gin.Context) {
		if hub == nil {
			c.JSON(http.StatusNotImplemented, ErrorResponse{Error: kindInternal, Message: "live updates disabled"})
			return
		}

		id := c.Param("id")

		// subscribe before the snapshot so no change falls in between
		ch, cancel := hub.Subscribe(id)
		defer cancel()

		snapshot, err := svcs.Inventory.GetAvailableSeats(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		c.SSEvent("snapshot", snapshot)
		c.Writer.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		seen := snapshot.SeatsVersion
		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case ev, ok := <-ch:
				if !ok {
					return false
				}
				if staleEvent(ev, seen) {
					return true
				}
				seen = max(seen, ev.SeatsVersion)
				c.SSEvent(string(ev.Type), ev)
				return ev.Type != domain.EventShowtimeDeleted
			case <-ticker.C:
				_, _ = io.WriteString(w, ": ping\n\n")
				return true
			}
		})
	}
}

// staleEvent reports whether ev describes seats older than version seen.
// After commit, events of one showtime may reach the hub out of order.
func staleEvent(ev domain.ShowtimeEvent, seen int64) bool {
	if ev.SeatsVersion == 0 {
		return false
	}
	if ev.Type == domain.EventSeatsChanged {
		return ev.SeatsVersion <= seen
	}
	return ev.SeatsVersion < seen
}
