package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	chargedomain "github.com/matheusscotini/payment-gateway/internal/charge/domain"
	"github.com/matheusscotini/payment-gateway/internal/config"
	idemdomain "github.com/matheusscotini/payment-gateway/internal/idempotency/domain"
	merchantdomain "github.com/matheusscotini/payment-gateway/internal/merchant/domain"
	webhookdomain "github.com/matheusscotini/payment-gateway/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testAPIKey = "sk_test_abc123"

// -- Fakes --

type fakeChargeService struct {
	createFn  func(ctx context.Context, merchantID snowflake.ID, key string, req chargedomain.CreateChargeRequest) (chargedomain.Snapshot, error)
	detailsFn func(ctx context.Context, merchantID snowflake.ID, id string) (*chargedomain.Details, error)
}

func (f *fakeChargeService) Create(ctx context.Context, merchantID snowflake.ID, key string, req chargedomain.CreateChargeRequest) (chargedomain.Snapshot, error) {
	return f.createFn(ctx, merchantID, key, req)
}

func (f *fakeChargeService) Process(ctx context.Context, chargeID snowflake.ID) error {
	return nil
}

func (f *fakeChargeService) GetDetails(ctx context.Context, merchantID snowflake.ID, id string) (*chargedomain.Details, error) {
	return f.detailsFn(ctx, merchantID, id)
}

type fakeWebhookService struct {
	retryFn func(ctx context.Context, merchantID snowflake.ID, chargeID string) (webhookdomain.RetryResponse, error)
}

func (f *fakeWebhookService) Deliver(ctx context.Context, deliveryID snowflake.ID) error { return nil }
func (f *fakeWebhookService) RecordFailure(ctx context.Context, deliveryID snowflake.ID, attempts int, cause string) {
}
func (f *fakeWebhookService) Retry(ctx context.Context, merchantID snowflake.ID, chargeID string) (webhookdomain.RetryResponse, error) {
	return f.retryFn(ctx, merchantID, chargeID)
}

// -- Setup --

func newTestServer(t *testing.T, charges *fakeChargeService, webhooks *fakeWebhookService) (*Server, snowflake.ID) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&merchantdomain.Merchant{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	merchantID := node.Generate()
	require.NoError(t, db.Exec(
		`INSERT INTO merchants (id, name, api_key_hash, created_at) VALUES (?, ?, ?, ?)`,
		merchantID, "mrc_test_001", merchantdomain.HashAPIKey(testAPIKey), time.Now().UTC(),
	).Error)

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:        r,
		Cfg:        config.Config{},
		DB:         db,
		Log:        zap.NewNop(),
		ChargeSvc:  charges,
		WebhookSvc: webhooks,
	})
	return srv, merchantID
}

func doRequest(srv *Server, method, path, apiKey, idempotencyKey string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyKeyHeader, idempotencyKey)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func validBody() map[string]any {
	return map[string]any{
		"amount":   1990,
		"currency": "BRL",
		"customer": map[string]any{
			"name":  "Maria Silva",
			"email": "maria@example.com",
		},
		"payment_method": map[string]any{
			"type":  "card",
			"token": "tok_4242",
		},
		"webhook_url": "https://merchant.example.com/webhooks",
	}
}

// -- Tests --

func TestCreateCharge_Success(t *testing.T) {
	var gotMerchant snowflake.ID
	var gotKey string
	charges := &fakeChargeService{
		createFn: func(ctx context.Context, merchantID snowflake.ID, key string, req chargedomain.CreateChargeRequest) (chargedomain.Snapshot, error) {
			gotMerchant = merchantID
			gotKey = key
			return chargedomain.Snapshot{ID: "123", Status: "PENDING", Amount: req.Amount, Currency: req.Currency}, nil
		},
	}
	srv, merchantID := newTestServer(t, charges, &fakeWebhookService{})

	w := doRequest(srv, http.MethodPost, "/v1/charges", testAPIKey, "key-1", validBody())

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, merchantID, gotMerchant)
	assert.Equal(t, "key-1", gotKey)

	var snapshot chargedomain.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, "PENDING", snapshot.Status)
	assert.Equal(t, int64(1990), snapshot.Amount)
}

func TestCreateCharge_MissingAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChargeService{}, &fakeWebhookService{})
	w := doRequest(srv, http.MethodPost, "/v1/charges", "", "key-1", validBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateCharge_WrongAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChargeService{}, &fakeWebhookService{})
	w := doRequest(srv, http.MethodPost, "/v1/charges", "sk_test_wrong", "key-1", validBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateCharge_MissingIdempotencyKey(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChargeService{}, &fakeWebhookService{})
	w := doRequest(srv, http.MethodPost, "/v1/charges", testAPIKey, "", validBody())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error.Type)
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, idempotencyKeyHeader, resp.Error.Errors[0].Field)
}

func TestCreateCharge_ValidationErrors(t *testing.T) {
	charges := &fakeChargeService{
		createFn: func(ctx context.Context, merchantID snowflake.ID, key string, req chargedomain.CreateChargeRequest) (chargedomain.Snapshot, error) {
			return chargedomain.Snapshot{}, req.Validate()
		},
	}
	srv, _ := newTestServer(t, charges, &fakeWebhookService{})

	body := validBody()
	body["currency"] = "USD"
	w := doRequest(srv, http.MethodPost, "/v1/charges", testAPIKey, "key-1", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "currency", resp.Error.Errors[0].Field)
}

func TestCreateCharge_IdempotencyConflict(t *testing.T) {
	charges := &fakeChargeService{
		createFn: func(ctx context.Context, merchantID snowflake.ID, key string, req chargedomain.CreateChargeRequest) (chargedomain.Snapshot, error) {
			return chargedomain.Snapshot{}, idemdomain.ErrKeyConflict
		},
	}
	srv, _ := newTestServer(t, charges, &fakeWebhookService{})

	w := doRequest(srv, http.MethodPost, "/v1/charges", testAPIKey, "key-1", validBody())

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "idempotency_key_conflict", resp.Error.Type)
}

func TestGetCharge(t *testing.T) {
	charges := &fakeChargeService{
		detailsFn: func(ctx context.Context, merchantID snowflake.ID, id string) (*chargedomain.Details, error) {
			if id != "123" {
				return nil, chargedomain.ErrChargeNotFound
			}
			return &chargedomain.Details{
				Charge: chargedomain.Charge{Status: chargedomain.ChargePaid, Amount: 1990, Currency: "BRL"},
			}, nil
		},
	}
	srv, _ := newTestServer(t, charges, &fakeWebhookService{})

	w := doRequest(srv, http.MethodGet, "/v1/charges/123", testAPIKey, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"PAID"`)

	w = doRequest(srv, http.MethodGet, "/v1/charges/999", testAPIKey, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryWebhook(t *testing.T) {
	webhooks := &fakeWebhookService{
		retryFn: func(ctx context.Context, merchantID snowflake.ID, chargeID string) (webhookdomain.RetryResponse, error) {
			if chargeID != "123" {
				return webhookdomain.RetryResponse{}, chargedomain.ErrChargeNotFound
			}
			return webhookdomain.RetryResponse{DeliveryID: "456", Status: "ENQUEUED"}, nil
		},
	}
	srv, _ := newTestServer(t, &fakeChargeService{}, webhooks)

	w := doRequest(srv, http.MethodPost, "/v1/charges/123/webhooks/retry", testAPIKey, "", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp webhookdomain.RetryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "456", resp.DeliveryID)
	assert.Equal(t, "ENQUEUED", resp.Status)

	w = doRequest(srv, http.MethodPost, "/v1/charges/999/webhooks/retry", testAPIKey, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
