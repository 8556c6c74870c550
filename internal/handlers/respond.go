package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

// resourceIDKey carries the id of a created or changed resource in the gin
// context so middleware can record it.
const resourceIDKey = "resource_id"

type mutationResponse struct {
	Status  string `json:"status"`
	ID      int64  `json:"id,omitempty"`
	Message string `json:"message"`
}

type errorDetails struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Entity  string `json:"entity,omitempty"`
	ID      int64  `json:"id,omitempty"`
	Field   string `json:"field,omitempty"`
}

type errorResponse struct {
	Status  string       `json:"status"`
	Details errorDetails `json:"details"`
}

func success(c *gin.Context, status int, id int64, message string) {
	if id != 0 {
		c.Set(resourceIDKey, id)
	}
	c.JSON(status, mutationResponse{Status: "success", ID: id, Message: message})
}

func statusFor(k orders.Kind) int {
	switch k {
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindValidation, orders.KindIllegalFieldWrite:
		return http.StatusBadRequest
	case orders.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the error envelope. Causes of internal errors
// are logged by the service and never sent to the client.
func writeError(c *gin.Context, err error) {
	var oe *orders.Error
	if !errors.As(err, &oe) {
		oe = orders.Internal("unexpected error", err).(*orders.Error)
	}
	code := statusFor(oe.Kind)
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, errorResponse{
		Status: "error",
		Details: errorDetails{
			Code:    code,
			Name:    string(oe.Kind),
			Message: oe.Message,
			Entity:  oe.Entity,
			ID:      oe.ID,
			Field:   oe.Field,
		},
	})
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, orders.Validation(name, "%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

// queryID parses an optional positive integer query parameter; absent is 0.
func queryID(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, orders.Validation(name, "%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}
