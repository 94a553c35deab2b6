package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/observ/internal/pubsub"
)

func TestCollector_RecordsEmit(t *testing.T) {
	c := NewCollector("test")

	c.OnActivity(context.Background(), pubsub.Activity{
		Type:      pubsub.ActivityEmit,
		Event:     "saved",
		Callbacks: 3,
		Failures:  1,
		Duration:  5 * time.Millisecond,
		Err:       errors.New("boom"),
	})
	c.OnActivity(context.Background(), pubsub.Activity{
		Type:      pubsub.ActivityEmit,
		Event:     "saved",
		Callbacks: 2,
	})

	require.Equal(t, 2.0, testutil.ToFloat64(c.emitsTotal.WithLabelValues("saved")))
	require.Equal(t, 5.0, testutil.ToFloat64(c.callbacksTotal.WithLabelValues("saved")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.failuresTotal.WithLabelValues("saved")))
	require.Equal(t, 1, testutil.CollectAndCount(c.emitDuration))
}

func TestCollector_RecordsSubscriptions(t *testing.T) {
	c := NewCollector("")
	ctx := context.Background()

	c.OnActivity(ctx, pubsub.Activity{Type: pubsub.ActivitySubscribe, Event: "a"})
	c.OnActivity(ctx, pubsub.Activity{Type: pubsub.ActivitySubscribe, Event: "a", Weak: true})
	c.OnActivity(ctx, pubsub.Activity{Type: pubsub.ActivitySubscribe, Event: "b", Weak: true})
	c.OnActivity(ctx, pubsub.Activity{Type: pubsub.ActivityUnsubscribe, Event: pubsub.AllEvents, Callbacks: 4})
	c.OnActivity(ctx, pubsub.Activity{Type: pubsub.ActivitySweep, Event: "b", Callbacks: 2})

	require.Equal(t, 1.0, testutil.ToFloat64(c.subscriptions.WithLabelValues("strong")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.subscriptions.WithLabelValues("weak")))
	require.Equal(t, 4.0, testutil.ToFloat64(c.unsubscriptions.WithLabelValues("*")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.sweptTotal))
}

func TestCollector_WiredAsProbe(t *testing.T) {
	c := NewCollector("wired")
	obs := pubsub.New(pubsub.WithProbe(c))

	obs.On("saved", pubsub.Func(func(context.Context, pubsub.Event) error { return nil }))
	require.NoError(t, obs.Emit(context.Background(), "saved"))
	require.NoError(t, obs.Emit(context.Background(), "saved"))

	require.Equal(t, 2.0, testutil.ToFloat64(c.emitsTotal.WithLabelValues("saved")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.callbacksTotal.WithLabelValues("saved")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.subscriptions.WithLabelValues("strong")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("scrape")
	c.OnActivity(context.Background(), pubsub.Activity{Type: pubsub.ActivityEmit, Event: "saved", Callbacks: 1})

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.True(t, strings.Contains(body, "scrape_pubsub_emits_total"), "metrics body: %.200s", body)
	require.Contains(t, body, `event="saved"`)
}
