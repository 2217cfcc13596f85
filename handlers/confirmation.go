package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"motoshop-payments/cache"
	"motoshop-payments/config"
	"motoshop-payments/kafka"
	"motoshop-payments/middleware"
	"motoshop-payments/models"
	"motoshop-payments/payu"
)

type ConfirmationHandler struct {
	db          *sql.DB
	payu        config.PayU
	producer    sarama.SyncProducer
	redisClient *redis.Client
	kafkaTopic  string
	logger      *zap.Logger
}

func NewConfirmationHandler(
	db *sql.DB,
	payuCfg config.PayU,
	producer sarama.SyncProducer,
	redisClient *redis.Client,
	kafkaTopic string,
	logger *zap.Logger,
) *ConfirmationHandler {
	return &ConfirmationHandler{
		db:          db,
		payu:        payuCfg,
		producer:    producer,
		redisClient: redisClient,
		kafkaTopic:  kafkaTopic,
		logger:      logger,
	}
}

// settlement is what a confirmation did to order state, used for the
// post-commit side effects.
type settlement struct {
	orderID  int
	outcome  models.OrderStatus // Processing or Cancelled; zero when no-op
	products []int              // product ids whose stock changed
}

// Confirm is the gateway's server-to-server webhook. The signature is the
// only authentication; once it checks out we must answer 200 no matter what,
// because the gateway retries anything else and a retry cannot fix an
// application-side failure. Everything after verification is therefore
// logged and swallowed.
func (h *ConfirmationHandler) Confirm(c *gin.Context) {
	ctx, span := otel.Tracer("payments-service").Start(c.Request.Context(), "Confirm")
	defer span.End()

	traceID := middleware.GetTraceID(ctx)

	var notice models.ConfirmationNotice
	if err := c.ShouldBind(&notice); err != nil {
		// Missing fields make the signature impossible to recompute, so
		// this is part of the authentication boundary.
		h.logger.Warn("Confirmation payload rejected",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		c.String(http.StatusBadRequest, "Invalid payload")
		return
	}

	span.SetAttributes(
		attribute.String("payu.reference_sale", notice.ReferenceSale),
		attribute.String("payu.state_pol", notice.StatePol),
		attribute.String("payu.transaction_id", notice.TransactionID),
	)

	expected, err := payu.SignConfirmation(h.payu, notice.ReferenceSale, notice.Value, notice.Currency, notice.StatePol)
	if err != nil || !payu.VerifySignature(expected, notice.Sign) {
		// Distinct log taxonomy: a burst here means a compromised secret or
		// a broken gateway integration, not ordinary bad input.
		middleware.RecordSignatureFailure()
		h.logger.Warn("Confirmation signature mismatch",
			zap.String("trace_id", traceID),
			zap.String("reference_sale", notice.ReferenceSale),
			zap.String("transaction_id", notice.TransactionID),
			zap.Error(err),
		)
		c.String(http.StatusBadRequest, "Invalid signature")
		return
	}

	orderID, refOK := payu.ParseReference(h.payu.ReferencePrefix, notice.ReferenceSale)
	if !refOK {
		h.logger.Warn("Unparseable reference_sale, recording transaction without order",
			zap.String("trace_id", traceID),
			zap.String("reference_sale", notice.ReferenceSale),
		)
	}

	if err := h.upsertTransaction(ctx, orderID, refOK, notice); err != nil {
		h.logger.Error("Failed to record transaction",
			zap.String("trace_id", traceID),
			zap.String("transaction_id", notice.TransactionID),
			zap.Error(err),
		)
	}

	if refOK {
		st, err := h.settle(ctx, orderID, notice.StatePol)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to settle order",
				zap.String("trace_id", traceID),
				zap.Int("order_id", orderID),
				zap.Error(err),
			)
		} else if st.outcome != "" {
			h.applySideEffects(ctx, st, notice)
		}
	}

	c.String(http.StatusOK, "OK")
}

// upsertTransaction records the gateway event keyed on its transaction id.
// Redelivery overwrites the mutable fields of the same row, which keeps the
// record an insert-or-update race away from duplicates.
func (h *ConfirmationHandler) upsertTransaction(ctx context.Context, orderID int, refOK bool, notice models.ConfirmationNotice) error {
	ref := sql.NullInt64{}
	if refOK {
		ref = sql.NullInt64{Int64: int64(orderID), Valid: true}
	}

	value, err := payu.NormalizeValue(notice.Value)
	if err != nil {
		// Signature verification already parsed the value, so this cannot
		// happen; keep the raw string if it somehow does.
		value = notice.Value
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO transactions (order_id, payu_transaction_id, state_pol, response_message, payment_method, value, currency)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (payu_transaction_id) DO UPDATE SET
			state_pol = EXCLUDED.state_pol,
			response_message = EXCLUDED.response_message,
			payment_method = EXCLUDED.payment_method,
			value = EXCLUDED.value,
			currency = EXCLUDED.currency`,
		ref, notice.TransactionID, notice.StatePol, notice.ResponseMessage, notice.PaymentMethod, value, notice.Currency,
	)
	if err != nil && refOK {
		// A transaction for a deleted order keeps its record with a NULL
		// order reference; the FK rejects a dangling id, so retry without it.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return h.upsertTransaction(ctx, 0, false, notice)
		}
	}
	return err
}

// settle runs the order/stock transition in one database transaction with
// the order row locked, so two concurrent deliveries for the same order
// serialize on the row and only the first one sees Pending.
func (h *ConfirmationHandler) settle(ctx context.Context, orderID int, statePol string) (settlement, error) {
	st := settlement{orderID: orderID}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()

	var status models.OrderStatus
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE",
		orderID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.logger.Info("Confirmation for unknown order", zap.Int("order_id", orderID))
			return st, nil
		}
		return st, err
	}

	if status != models.OrderStatusPending {
		// Already settled; the retry was deduplicated by the status check.
		return st, tx.Commit()
	}

	switch statePol {
	case payu.StateApproved:
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET status = $1 WHERE id = $2",
			models.OrderStatusProcessing, orderID,
		); err != nil {
			return st, err
		}
		products, err := h.decrementStock(ctx, tx, orderID)
		if err != nil {
			return st, err
		}
		st.outcome = models.OrderStatusProcessing
		st.products = products

	case payu.StateExpired, payu.StateDeclined:
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET status = $1 WHERE id = $2",
			models.OrderStatusCancelled, orderID,
		); err != nil {
			return st, err
		}
		st.outcome = models.OrderStatusCancelled

	default:
		// Pending or unknown gateway state: record only, no transition.
		return st, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		st = settlement{orderID: orderID}
		return st, err
	}
	return st, nil
}

func (h *ConfirmationHandler) decrementStock(ctx context.Context, tx *sql.Tx, orderID int) ([]int, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT product_id, quantity FROM order_items WHERE order_id = $1",
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	products := make([]int, 0, len(items))
	for _, item := range items {
		// Stock is clamped at zero rather than rejected: the payment has
		// already been captured by this point, so an oversold item becomes
		// a backorder problem for fulfillment, not a reason to lose money.
		var remaining int
		err := tx.QueryRowContext(ctx,
			"UPDATE products SET stock = GREATEST(stock - $1, 0), updated_at = CURRENT_TIMESTAMP WHERE id = $2 RETURNING stock",
			item.Quantity, item.ProductID,
		).Scan(&remaining)
		if err != nil {
			return nil, err
		}
		if remaining == 0 {
			h.logger.Warn("Product stock exhausted",
				zap.Int("product_id", item.ProductID),
				zap.Int("order_id", orderID),
			)
		}
		products = append(products, item.ProductID)
	}
	return products, nil
}

// applySideEffects runs the best-effort post-commit work: cache
// invalidation, the Kafka event and the settled-payment counter. None of it
// can fail the webhook response.
func (h *ConfirmationHandler) applySideEffects(ctx context.Context, st settlement, notice models.ConfirmationNotice) {
	status := "approved"
	eventType := "payment_approved"
	if st.outcome == models.OrderStatusCancelled {
		status = "declined"
		eventType = "payment_declined"
	}
	middleware.RecordPaymentProcessed(status)

	if h.redisClient != nil {
		for _, productID := range st.products {
			if err := cache.InvalidateProduct(ctx, h.redisClient, productID); err != nil {
				h.logger.Warn("Failed to invalidate product cache",
					zap.Int("product_id", productID),
					zap.Error(err),
				)
			}
		}
	}

	if h.producer != nil {
		event := models.PaymentEvent{
			OrderID:       st.orderID,
			TransactionID: notice.TransactionID,
			StatePol:      notice.StatePol,
			Status:        string(st.outcome),
			Value:         notice.Value,
			Currency:      notice.Currency,
			EventType:     eventType,
		}
		if err := kafka.PublishPaymentEvent(ctx, h.producer, h.kafkaTopic, event, h.logger); err != nil {
			h.logger.Error("Failed to publish payment event", zap.Error(err))
		}
	}
}
