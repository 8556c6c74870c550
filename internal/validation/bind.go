package validation

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

// BindAndValidate binds the JSON body into out and runs validation.
// Failures come back as an orders ValidationError naming the first bad
// field; the caller renders it.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return orders.Validation("body", "invalid request body: %v", err)
	}
	if err := v.Struct(out); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return orders.Validation("body", "%v", err)
	}
	fe := ve[0]
	field := fieldPath(fe.Namespace())
	if fe.Param() != "" {
		return orders.Validation(field, "%s failed on %s=%s", field, fe.Tag(), fe.Param())
	}
	return orders.Validation(field, "%s failed on %s", field, fe.Tag())
}

// fieldPath drops the root struct name: "CreateOrderRequest.items[0].quantity"
// becomes "items[0].quantity".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
