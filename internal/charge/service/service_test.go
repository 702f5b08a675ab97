package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/matheusscotini/payment-gateway/internal/audit/domain"
	auditrepository "github.com/matheusscotini/payment-gateway/internal/audit/repository"
	"github.com/matheusscotini/payment-gateway/internal/charge/domain"
	"github.com/matheusscotini/payment-gateway/internal/charge/repository"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	idemdomain "github.com/matheusscotini/payment-gateway/internal/idempotency/domain"
	idemrepository "github.com/matheusscotini/payment-gateway/internal/idempotency/repository"
	idemservice "github.com/matheusscotini/payment-gateway/internal/idempotency/service"
	"github.com/matheusscotini/payment-gateway/internal/queue"
	webhookdomain "github.com/matheusscotini/payment-gateway/internal/webhook/domain"
	webhookrepository "github.com/matheusscotini/payment-gateway/internal/webhook/repository"
	pkgdb "github.com/matheusscotini/payment-gateway/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -- Fakes --

type enqueuedTask struct {
	queue   string
	payload any
}

type fakeEnqueuer struct {
	tasks []enqueuedTask
	fail  bool
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, q string, payload any, opts ...queue.EnqueueOption) error {
	if f.fail {
		return fmt.Errorf("redis unavailable")
	}
	f.tasks = append(f.tasks, enqueuedTask{queue: q, payload: payload})
	return nil
}

func (f *fakeEnqueuer) byQueue(q string) []enqueuedTask {
	var out []enqueuedTask
	for _, task := range f.tasks {
		if task.queue == q {
			out = append(out, task)
		}
	}
	return out
}

// -- Setup --

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	enqueuer *fakeEnqueuer
	clk      *clock.FakeClock
	node     *snowflake.Node
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Charge{},
		&auditdomain.Event{},
		&webhookdomain.WebhookDelivery{},
		&idemdomain.Record{},
	))
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX uq_webhook_deliveries_auto ON webhook_deliveries (charge_id) WHERE origin = 'AUTO'`,
	).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	enqueuer := &fakeEnqueuer{}

	coord := idemservice.New(idemservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  idemrepository.Provide(),
	})

	svc := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		GenID:      node,
		Repo:       repository.Provide(),
		Events:     auditrepository.Provide(),
		Deliveries: webhookrepository.Provide(),
		Idem:       coord,
		Enqueuer:   enqueuer,
	})

	return &fixture{svc: svc, db: db, enqueuer: enqueuer, clk: clk, node: node}
}

func validRequest() domain.CreateChargeRequest {
	return domain.CreateChargeRequest{
		Amount:   1990,
		Currency: "BRL",
		Customer: domain.Customer{
			Name:  "Maria Silva",
			Email: "maria@example.com",
		},
		PaymentMethod: domain.PaymentMethod{
			Type:  "card",
			Token: "tok_4242",
		},
		WebhookURL: "https://merchant.example.com/webhooks",
	}
}

func (f *fixture) events(t *testing.T, chargeID snowflake.ID) []auditdomain.Event {
	t.Helper()
	events, err := auditrepository.Provide().ListByCharge(context.Background(), f.db, chargeID)
	require.NoError(t, err)
	return events
}

func eventTypes(events []auditdomain.Event) []auditdomain.EventType {
	types := make([]auditdomain.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// -- Create --

func TestCreate_NewCharge(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()

	snapshot, err := f.svc.Create(context.Background(), merchantID, "key-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, "PENDING", snapshot.Status)
	assert.Equal(t, int64(1990), snapshot.Amount)
	assert.Equal(t, "BRL", snapshot.Currency)
	assert.NotEmpty(t, snapshot.ID)

	chargeID, err := snowflake.ParseString(snapshot.ID)
	require.NoError(t, err)
	charge, err := repository.Provide().FindByID(context.Background(), f.db, chargeID)
	require.NoError(t, err)
	require.NotNil(t, charge)
	assert.Equal(t, domain.ChargePending, charge.Status)
	assert.Equal(t, "4242", charge.CardLast4)

	assert.Equal(t, []auditdomain.EventType{auditdomain.EventChargeCreated}, eventTypes(f.events(t, chargeID)))

	tasks := f.enqueuer.byQueue(queue.QueueChargeProcessing)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.ProcessPayload{ChargeID: snapshot.ID}, tasks[0].payload)
}

func TestCreate_DuplicateKeyReplays(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()
	req := validRequest()

	first, err := f.svc.Create(context.Background(), merchantID, "key-1", req)
	require.NoError(t, err)

	second, err := f.svc.Create(context.Background(), merchantID, "key-1", req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// The replay neither creates a second charge nor a second task.
	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM charges`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, f.enqueuer.byQueue(queue.QueueChargeProcessing), 1)
}

func TestCreate_EnqueueFailureRollsBackEverything(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()
	req := validRequest()

	f.enqueuer.fail = true
	_, err := f.svc.Create(context.Background(), merchantID, "key-1", req)
	require.Error(t, err)

	// Nothing was committed, so a retry after the outage runs the full
	// creation path instead of replaying a stranded PENDING charge.
	var charges, keys int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM charges`).Scan(&charges).Error)
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM idempotency_keys`).Scan(&keys).Error)
	assert.Zero(t, charges)
	assert.Zero(t, keys)

	f.enqueuer.fail = false
	snapshot, err := f.svc.Create(context.Background(), merchantID, "key-1", req)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", snapshot.Status)
	require.Len(t, f.enqueuer.byQueue(queue.QueueChargeProcessing), 1)
	assert.Equal(t, domain.ProcessPayload{ChargeID: snapshot.ID}, f.enqueuer.byQueue(queue.QueueChargeProcessing)[0].payload)
}

func TestCreate_SameKeyDifferentBody(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()

	_, err := f.svc.Create(context.Background(), merchantID, "key-1", validRequest())
	require.NoError(t, err)

	other := validRequest()
	other.Amount = 5000
	_, err = f.svc.Create(context.Background(), merchantID, "key-1", other)
	assert.ErrorIs(t, err, idemdomain.ErrKeyConflict)
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()

	tests := []struct {
		name   string
		mutate func(*domain.CreateChargeRequest)
		field  string
	}{
		{"zero amount", func(r *domain.CreateChargeRequest) { r.Amount = 0 }, "amount"},
		{"negative amount", func(r *domain.CreateChargeRequest) { r.Amount = -1 }, "amount"},
		{"wrong currency", func(r *domain.CreateChargeRequest) { r.Currency = "USD" }, "currency"},
		{"short name", func(r *domain.CreateChargeRequest) { r.Customer.Name = "a" }, "customer.name"},
		{"bad email", func(r *domain.CreateChargeRequest) { r.Customer.Email = "nope" }, "customer.email"},
		{"wrong method", func(r *domain.CreateChargeRequest) { r.PaymentMethod.Type = "pix" }, "payment_method.type"},
		{"short token", func(r *domain.CreateChargeRequest) { r.PaymentMethod.Token = "tok" }, "payment_method.token"},
		{"bad url", func(r *domain.CreateChargeRequest) { r.WebhookURL = "not-a-url" }, "webhook_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := f.svc.Create(context.Background(), merchantID, "key-"+tt.name, req)
			var vErr domain.ValidationErrors
			require.ErrorAs(t, err, &vErr)
			require.Len(t, vErr, 1)
			assert.Equal(t, tt.field, vErr[0].Field)
		})
	}
}

// -- Process --

func createCharge(t *testing.T, f *fixture, merchantID snowflake.ID, token string) snowflake.ID {
	t.Helper()
	req := validRequest()
	req.PaymentMethod.Token = token
	snapshot, err := f.svc.Create(context.Background(), merchantID, "key-"+token, req)
	require.NoError(t, err)
	id, err := snowflake.ParseString(snapshot.ID)
	require.NoError(t, err)
	return id
}

func TestProcess_SettlesPaid(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()
	chargeID := createCharge(t, f, merchantID, "tok_4242")

	require.NoError(t, f.svc.Process(context.Background(), chargeID))

	charge, err := repository.Provide().FindByID(context.Background(), f.db, chargeID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargePaid, charge.Status)

	assert.Equal(t, []auditdomain.EventType{
		auditdomain.EventChargeCreated,
		auditdomain.EventChargeProcessing,
		auditdomain.EventChargePaid,
		auditdomain.EventWebhookEnqueued,
	}, eventTypes(f.events(t, chargeID)))

	deliveries, err := webhookrepository.Provide().ListByCharge(context.Background(), f.db, chargeID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, webhookdomain.DeliveryPending, deliveries[0].Status)
	assert.Equal(t, webhookdomain.OriginAuto, deliveries[0].Origin)
	assert.Equal(t, "https://merchant.example.com/webhooks", deliveries[0].URL)

	require.Len(t, f.enqueuer.byQueue(queue.QueueWebhookDelivery), 1)
}

func TestProcess_DeclinesTokenEndingInZeros(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()
	chargeID := createCharge(t, f, merchantID, "tok_0000")

	require.NoError(t, f.svc.Process(context.Background(), chargeID))

	charge, err := repository.Provide().FindByID(context.Background(), f.db, chargeID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeFailed, charge.Status)

	types := eventTypes(f.events(t, chargeID))
	assert.Contains(t, types, auditdomain.EventChargeFailed)
	assert.NotContains(t, types, auditdomain.EventChargePaid)

	// Declines still notify.
	deliveries, err := webhookrepository.Provide().ListByCharge(context.Background(), f.db, chargeID)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestProcess_Reentrant(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()
	chargeID := createCharge(t, f, merchantID, "tok_4242")

	require.NoError(t, f.svc.Process(context.Background(), chargeID))
	require.NoError(t, f.svc.Process(context.Background(), chargeID))

	// The second pass observes the terminal state and must neither add
	// events nor create another delivery.
	assert.Len(t, f.events(t, chargeID), 4)
	deliveries, err := webhookrepository.Provide().ListByCharge(context.Background(), f.db, chargeID)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
	assert.Len(t, f.enqueuer.byQueue(queue.QueueWebhookDelivery), 1)
}

func TestProcess_ManualDeliveryDoesNotSuppressAuto(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()
	chargeID := createCharge(t, f, merchantID, "tok_4242")

	// A manual retry can land while the charge is still PENDING. The
	// settlement must still create its own automatic delivery.
	now := f.clk.Now()
	manual := &webhookdomain.WebhookDelivery{
		ID:        f.node.Generate(),
		ChargeID:  chargeID,
		Origin:    webhookdomain.OriginManual,
		URL:       "https://merchant.example.com/webhooks",
		Status:    webhookdomain.DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, webhookrepository.Provide().Insert(context.Background(), f.db, manual))

	require.NoError(t, f.svc.Process(context.Background(), chargeID))

	deliveries, err := webhookrepository.Provide().ListByCharge(context.Background(), f.db, chargeID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	origins := []webhookdomain.DeliveryOrigin{deliveries[0].Origin, deliveries[1].Origin}
	assert.Contains(t, origins, webhookdomain.OriginAuto)
	assert.Contains(t, origins, webhookdomain.OriginManual)
	assert.Len(t, f.enqueuer.byQueue(queue.QueueWebhookDelivery), 1)
}

func TestProcess_AutoDeliveryUniquePerCharge(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()
	chargeID := createCharge(t, f, merchantID, "tok_4242")
	require.NoError(t, f.svc.Process(context.Background(), chargeID))

	// The index backstops the count check when two workers settle the
	// same charge concurrently.
	now := f.clk.Now()
	dup := &webhookdomain.WebhookDelivery{
		ID:        f.node.Generate(),
		ChargeID:  chargeID,
		Origin:    webhookdomain.OriginAuto,
		URL:       "https://merchant.example.com/webhooks",
		Status:    webhookdomain.DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := webhookrepository.Provide().Insert(context.Background(), f.db, dup)
	assert.True(t, pkgdb.IsDuplicateKeyErr(err))
}

func TestProcess_UnknownChargeIsDropped(t *testing.T) {
	f := setup(t)
	assert.NoError(t, f.svc.Process(context.Background(), f.node.Generate()))
}

// -- GetDetails --

func TestGetDetails_OrderingAndScoping(t *testing.T) {
	f := setup(t)
	merchantID := f.node.Generate()
	chargeID := createCharge(t, f, merchantID, "tok_4242")

	f.clk.Advance(time.Second)
	require.NoError(t, f.svc.Process(context.Background(), chargeID))

	details, err := f.svc.GetDetails(context.Background(), merchantID, chargeID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.ChargePaid, details.Status)
	require.Len(t, details.Events, 4)
	for i := 1; i < len(details.Events); i++ {
		assert.False(t, details.Events[i].CreatedAt.Before(details.Events[i-1].CreatedAt))
	}
	assert.Len(t, details.WebhookDeliveries, 1)

	// Another merchant cannot see the charge.
	_, err = f.svc.GetDetails(context.Background(), f.node.Generate(), chargeID.String())
	assert.ErrorIs(t, err, domain.ErrChargeNotFound)

	_, err = f.svc.GetDetails(context.Background(), merchantID, "not-an-id")
	assert.ErrorIs(t, err, domain.ErrChargeNotFound)
}
