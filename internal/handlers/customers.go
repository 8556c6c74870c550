package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
	"github.com/imrishuroy/go-customer-orders/internal/validation"
)

func (h *handler) listCustomers(c *gin.Context) {
	list, err := h.store.ListCustomers(c.Request.Context(), orders.CustomerFilter{
		FirstName: c.Query("first_name"),
		LastName:  c.Query("last_name"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) createCustomer(c *gin.Context) {
	var req validation.CreateCustomerRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		writeError(c, err)
		return
	}
	cust, err := h.store.CreateCustomer(c.Request.Context(), req.Input())
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusCreated, cust.ID, "Successfully Added New Customer")
}

func (h *handler) getCustomer(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	cust, err := h.store.GetCustomer(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

func (h *handler) updateCustomer(c *gin.Context) {
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
	patch, err := orders.DecodeCustomerPatch(fields)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.store.UpdateCustomer(c.Request.Context(), id, patch); err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, id, "Successfully Updated Customer")
}

func (h *handler) deleteCustomer(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.svc.DeleteCustomer(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, id, "Successfully Removed Customer")
}

func (h *handler) customerOrders(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	cust, err := h.store.GetCustomer(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	list := cust.Orders
	if list == nil {
		list = []orders.Order{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) createOrder(c *gin.Context) {
	customerID, err := pathID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		writeError(c, err)
		return
	}
	in, items := req.Input()
	o, err := h.svc.CreateOrderWithItems(c.Request.Context(), customerID, in, items)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/orders/"+itoa(o.ID))
	success(c, http.StatusCreated, o.ID, "Successfully Created Order")
}

// bindFields decodes an update body into its raw top-level fields so the
// patch decoders can reject anything that is not writable.
func bindFields(c *gin.Context) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil {
		return nil, orders.Validation("body", "invalid request body: %v", err)
	}
	return fields, nil
}
