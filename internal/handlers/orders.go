package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
	"github.com/imrishuroy/go-customer-orders/internal/validation"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func (h *handler) listOrders(c *gin.Context) {
	customerID, err := queryID(c, "customer_id")
	if err != nil {
		writeError(c, err)
		return
	}
	list, err := h.store.ListOrders(c.Request.Context(), orders.OrderFilter{
		Product:    c.Query("product"),
		CustomerID: customerID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) getOrder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	o, err := h.store.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) updateOrder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	fields, err := bindFields(c)
	if err != nil {
		writeError(c, err)
		return
	}
	patch, err := orders.DecodeOrderPatch(fields)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.svc.UpdateOrder(c.Request.Context(), id, patch); err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, id, "Successfully Updated Order")
}

func (h *handler) deleteOrder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.svc.DeleteOrder(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, id, "Successfully Removed Order")
}

func (h *handler) createItem(c *gin.Context) {
	orderID, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	var req validation.CreateItemRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		writeError(c, err)
		return
	}
	it, err := h.svc.AddItem(c.Request.Context(), orderID, req.Input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/items/"+itoa(it.ID))
	success(c, http.StatusCreated, it.ID, "Successfully Created Order Item")
}

func (h *handler) recompute(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	o, err := h.svc.RecomputeTotals(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) recreate(s Reseeder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Recreate(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		h.log.Warn("sample database recreated")
		success(c, http.StatusCreated, 0, "Successfully Recreated Database")
	}
}
