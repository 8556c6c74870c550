package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

func (h *handler) listItems(c *gin.Context) {
	orderID, err := queryID(c, "order_id")
	if err != nil {
		writeError(c, err)
		return
	}
	list, err := h.store.ListItems(c.Request.Context(), orders.ItemFilter{
		Product: c.Query("product"),
		OrderID: orderID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) getItem(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	it, err := h.store.GetItem(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *handler) updateItem(c *gin.Context) {
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
	patch, err := orders.DecodeItemPatch(fields)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.svc.UpdateItem(c.Request.Context(), id, patch); err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, id, "Successfully Updated Item")
}

func (h *handler) deleteItem(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.svc.DeleteItem(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, id, "Successfully Removed Item")
}
