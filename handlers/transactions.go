package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"motoshop-payments/middleware"
	"motoshop-payments/models"
)

type TransactionHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTransactionHandler(db *sql.DB, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{db: db, logger: logger}
}

// ListByOrder returns the gateway transactions recorded for one of the
// buyer's orders, newest first. The storefront uses this to show payment
// history next to the order.
func (h *TransactionHandler) ListByOrder(c *gin.Context) {
	ctx, span := otel.Tracer("payments-service").Start(c.Request.Context(), "ListTransactions")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	userID := c.GetInt(middleware.CtxUserID)

	// Ownership check first; transactions themselves carry no user id.
	var ownerID int
	err = h.db.QueryRowContext(ctx,
		"SELECT user_id FROM orders WHERE id = $1", orderID,
	).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to load order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if ownerID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, order_id, payu_transaction_id, state_pol, response_message, payment_method, value, currency, created_at
		 FROM transactions WHERE order_id = $1 ORDER BY created_at DESC`,
		orderID,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch transactions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.OrderID, &t.PayUTransactionID, &t.StatePol, &t.ResponseMessage, &t.PaymentMethod, &t.Value, &t.Currency, &t.CreatedAt); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan transaction", zap.Error(err))
			continue
		}
		transactions = append(transactions, t)
	}

	span.SetAttributes(attribute.Int("transactions.count", len(transactions)))
	c.JSON(http.StatusOK, transactions)
}
