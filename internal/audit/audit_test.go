package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/metrics"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func sampleEvent(action string) Event {
	return Event{
		EntityType: "change_order",
		EntityID:   "co-1",
		Action:     action,
		TenantID:   "t1",
		ActorID:    "u1",
		Before:     Snapshot(map[string]string{"status": "proposed"}),
		After:      Snapshot(map[string]string{"status": "approved"}),
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	a := sampleEvent("approved")
	b := sampleEvent("approved")
	c := sampleEvent("rejected")

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

type flakySink struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakySink) Write(context.Context, Event) error {
	if f.calls.Add(1) <= f.failures {
		return errors.New("temporarily unavailable")
	}
	return nil
}

func TestDispatcherDeliversAndDrainsOnShutdown(t *testing.T) {
	mem := &Memory{}
	flaky := &flakySink{failures: 1}
	d := NewDispatcher(Options{QueueSize: 8, Retries: 2, Backoff: time.Millisecond}, mem, flaky)

	d.Emit(context.Background(), sampleEvent("proposed"), sampleEvent("approved"))

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	cancel()
	<-d.Done()

	require.Len(t, mem.Events(), 2)
	assert.Equal(t, []string{"proposed", "approved"}, mem.Actions("co-1"))
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(Options{QueueSize: 1, EnqueueTimeout: 5 * time.Millisecond, Metrics: m})

	d.Emit(context.Background(), sampleEvent("a"), sampleEvent("b"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDroppedTotal.WithLabelValues("queue_full")))
}

func TestDispatcherWaitsForRoomBeforeDropping(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	mem := &Memory{}
	d := NewDispatcher(Options{QueueSize: 1, EnqueueTimeout: 5 * time.Second, Metrics: m}, mem)
	d.Emit(context.Background(), sampleEvent("a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Run(ctx)
	}()

	d.Emit(context.Background(), sampleEvent("b"))
	cancel()
	<-d.Done()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.AuditDroppedTotal.WithLabelValues("queue_full")))
	assert.Equal(t, []string{"a", "b"}, mem.Actions("co-1"))
}

func TestDispatcherStopsWaitingWhenContextIsDone(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(Options{QueueSize: 1, EnqueueTimeout: time.Hour, Metrics: m})
	d.Emit(context.Background(), sampleEvent("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, sampleEvent("b"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDroppedTotal.WithLabelValues("queue_full")))
}

func TestWebhookSinkPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Event-Fingerprint"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := WebhookSink{URL: srv.URL}.Write(context.Background(), sampleEvent("approved"))
	require.NoError(t, err)
	assert.Equal(t, "co-1", got.EntityID)
	assert.Equal(t, "approved", got.Action)
}

func TestWebhookSinkReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := WebhookSink{URL: srv.URL}.Write(context.Background(), sampleEvent("approved"))
	assert.Error(t, err)
}

func TestGormSinkIsIdempotent(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Record{}))

	sink := GormSink{DB: db}
	ev := sampleEvent("approved")
	require.NoError(t, sink.Write(context.Background(), ev))
	require.NoError(t, sink.Write(context.Background(), ev))

	var count int64
	require.NoError(t, db.Model(&Record{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
