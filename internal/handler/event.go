package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// EventHandler serves the public event views.
type EventHandler struct {
	events AvailabilityReader
	log    logrus.FieldLogger
}

// NewEventHandler returns an EventHandler.
func NewEventHandler(events AvailabilityReader, log logrus.FieldLogger) *EventHandler {
	return &EventHandler{events: events, log: log}
}

// Availability handles GET /v1/events/:id/availability.  Responses are
// cached per event and dropped whenever its inventory changes.
func (h *EventHandler) Availability(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	a, err := h.events.Availability(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, a)
}
