package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"motoshop-payments/config"
	"motoshop-payments/models"
	"motoshop-payments/payu"
)

func testPayUConfig() config.PayU {
	return config.PayU{
		APIKey:          "4Vj8eK4rloUd272L48hsrarnUA",
		MerchantID:      "508029",
		AccountID:       "512321",
		SignatureAlg:    "md5",
		Currency:        "COP",
		ReferencePrefix: "MOTO",
	}
}

func setupConfirmationTest(t *testing.T) (*ConfirmationHandler, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	// Kafka and Redis side effects are best effort and skipped when the
	// clients are absent, so the webhook contract can be tested without them.
	handler := NewConfirmationHandler(db, testPayUConfig(), nil, nil, "payment_events", logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/payment/confirmation/", handler.Confirm)

	return handler, mock, router
}

// confirmationForm builds a correctly signed confirmation payload for the
// fixture credentials.
func confirmationForm(t *testing.T, reference, value, statePol, transactionID string) url.Values {
	t.Helper()

	sign, err := payu.SignConfirmation(testPayUConfig(), reference, value, "COP", statePol)
	if err != nil {
		t.Fatalf("Failed to sign fixture payload: %v", err)
	}

	form := url.Values{}
	form.Set("merchant_id", "508029")
	form.Set("reference_sale", reference)
	form.Set("value", value)
	form.Set("currency", "COP")
	form.Set("state_pol", statePol)
	form.Set("sign", sign)
	form.Set("transaction_id", transactionID)
	form.Set("response_message_pol", "APPROVED")
	form.Set("payment_method_name", "VISA")
	return form
}

func postConfirmation(router *gin.Engine, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payment/confirmation/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestConfirm_ApprovedPendingOrder(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(42, "payu-tx-1", "4", "APPROVED", "VISA", "150.0", "COP").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OrderStatusPending))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(models.OrderStatusProcessing, 42).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT product_id, quantity FROM order_items").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity"}).
			AddRow(7, 3).
			AddRow(9, 1))
	mock.ExpectQuery("UPDATE products SET stock = GREATEST").
		WithArgs(3, 7).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(7))
	mock.ExpectQuery("UPDATE products SET stock = GREATEST").
		WithArgs(1, 9).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(4))
	mock.ExpectCommit()

	w := postConfirmation(router, confirmationForm(t, "MOTO-42", "150.00", "4", "payu-tx-1"))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body %q, got %q", "OK", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestConfirm_BadSignature(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	form := confirmationForm(t, "MOTO-42", "150.00", "4", "payu-tx-1")
	form.Set("sign", "0000000000000000000000000000dead")

	w := postConfirmation(router, form)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if w.Body.String() != "Invalid signature" {
		t.Errorf("Expected body %q, got %q", "Invalid signature", w.Body.String())
	}
	// No order or stock mutation of any kind.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestConfirm_TamperedStatePol(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	// Signed for declined, delivered claiming approved.
	form := confirmationForm(t, "MOTO-42", "150.00", "6", "payu-tx-1")
	form.Set("state_pol", "4")

	w := postConfirmation(router, form)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestConfirm_MissingRequiredField(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	form := confirmationForm(t, "MOTO-42", "150.00", "4", "payu-tx-1")
	form.Del("transaction_id")

	w := postConfirmation(router, form)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestConfirm_DeclinedPendingOrder(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(42, "payu-tx-2", "6", "APPROVED", "VISA", "150.0", "COP").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OrderStatusPending))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(models.OrderStatusCancelled, 42).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := postConfirmation(router, confirmationForm(t, "MOTO-42", "150.00", "6", "payu-tx-2"))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

// A redelivered approval for an already settled order refreshes the
// transaction record and nothing else: no status change, no stock change.
func TestConfirm_RedeliveryIsNoOp(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(42, "payu-tx-1", "4", "APPROVED", "VISA", "150.0", "COP").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OrderStatusProcessing))
	mock.ExpectCommit()

	w := postConfirmation(router, confirmationForm(t, "MOTO-42", "150.00", "4", "payu-tx-1"))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

// Two deliveries for the same order serialize on the locked order row: the
// first transitions and decrements, the second finds the order settled.
func TestConfirm_SecondDeliverySeesSettledOrder(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	// First delivery: full approved flow.
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OrderStatusPending))
	mock.ExpectExec("UPDATE orders SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT product_id, quantity FROM order_items").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity"}).AddRow(7, 3))
	mock.ExpectQuery("UPDATE products SET stock = GREATEST").
		WithArgs(3, 7).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(7))
	mock.ExpectCommit()

	// Second delivery: upsert refresh, lock, no-op.
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OrderStatusProcessing))
	mock.ExpectCommit()

	form := confirmationForm(t, "MOTO-42", "150.00", "4", "payu-tx-1")
	for i := 0; i < 2; i++ {
		w := postConfirmation(router, form)
		if w.Code != http.StatusOK {
			t.Errorf("Delivery %d: expected status %d, got %d", i+1, http.StatusOK, w.Code)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestConfirm_UnknownOrderStillRecordsTransaction(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(999).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	w := postConfirmation(router, confirmationForm(t, "MOTO-999", "150.00", "4", "payu-tx-9"))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestConfirm_MalformedReferenceRecordsOrphanTransaction(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	// No parseable order id: transaction is recorded with a NULL order
	// reference and no settlement is attempted.
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(nil, "payu-tx-5", "4", "APPROVED", "VISA", "150.0", "COP").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postConfirmation(router, confirmationForm(t, "MOTO-", "150.00", "4", "payu-tx-5"))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestConfirm_UnhandledStatePolRecordsOnly(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(42, "payu-tx-7", "7", "APPROVED", "VISA", "150.0", "COP").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OrderStatusPending))
	mock.ExpectCommit()

	w := postConfirmation(router, confirmationForm(t, "MOTO-42", "150.00", "7", "payu-tx-7"))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestConfirm_SettleFailureStillAnswersOK(t *testing.T) {
	handler, mock, router := setupConfirmationTest(t)
	defer handler.db.Close()

	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectBegin().WillReturnError(sqlmock.ErrCancelled)

	w := postConfirmation(router, confirmationForm(t, "MOTO-42", "150.00", "4", "payu-tx-1"))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body %q, got %q", "OK", w.Body.String())
	}
}
