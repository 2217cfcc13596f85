package handlers

import (
	"database/sql"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"motoshop-payments/config"
	"motoshop-payments/middleware"
	"motoshop-payments/models"
	"motoshop-payments/payu"
)

// checkoutFormTmpl renders a self-submitting form so the buyer lands on the
// gateway's hosted checkout page. All values are computed server-side; the
// browser only relays them.
var checkoutFormTmpl = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html>
<head><title>Redirecting to PayU...</title></head>
<body onload="document.getElementById('payu-form').submit()">
<p>Redirecting to the payment gateway...</p>
<form id="payu-form" method="post" action="{{.Action}}">
{{- range $name, $value := .Fields}}
<input name="{{$name}}" type="hidden" value="{{$value}}">
{{- end}}
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

type CheckoutHandler struct {
	db     *sql.DB
	payu   config.PayU
	logger *zap.Logger
}

func NewCheckoutHandler(db *sql.DB, payuCfg config.PayU, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		db:     db,
		payu:   payuCfg,
		logger: logger,
	}
}

// Checkout builds the signed WebCheckout form for one of the buyer's own
// pending orders. It mutates nothing: the order stays Pending until the
// gateway's confirmation callback arrives.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	ctx, span := otel.Tracer("payments-service").Start(c.Request.Context(), "Checkout")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	userID := c.GetInt(middleware.CtxUserID)

	var order models.Order
	err = h.db.QueryRowContext(ctx,
		"SELECT id, user_id, total, status, created_at FROM orders WHERE id = $1 AND user_id = $2",
		orderID, userID,
	).Scan(&order.ID, &order.UserID, &order.Total, &order.Status, &order.CreatedAt)
	if err != nil {
		// Someone else's order looks the same as a missing one on purpose.
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to load order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	reference := payu.Reference(h.payu.ReferencePrefix, order.ID)
	amount := payu.FormatAmount(order.Total)
	signature := payu.SignPaymentRequest(h.payu, reference, amount, h.payu.Currency)

	test := "0"
	if h.payu.Test {
		test = "1"
	}

	fields := map[string]string{
		"merchantId":      h.payu.MerchantID,
		"accountId":       h.payu.AccountID,
		"description":     "Pedido " + reference,
		"referenceCode":   reference,
		"amount":          amount,
		"currency":        h.payu.Currency,
		"signature":       signature,
		"test":            test,
		"buyerFullName":   c.GetString(middleware.CtxUserName),
		"buyerEmail":      c.GetString(middleware.CtxUserEmail),
		"responseUrl":     h.payu.ResponseURL,
		"confirmationUrl": h.payu.ConfirmationURL,
	}

	h.logger.Info("Checkout initiated",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", order.ID),
		zap.String("reference", reference),
		zap.String("amount", amount),
	)

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := checkoutFormTmpl.Execute(c.Writer, gin.H{
		"Action": h.payu.CheckoutURL,
		"Fields": fields,
	}); err != nil {
		h.logger.Error("Failed to render checkout form", zap.Error(err))
	}
}
