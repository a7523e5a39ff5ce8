package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/pricewise/pkg/context"
	"github.com/Ramsey-B/pricewise/pkg/models"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestProducer(price, pass *fakeWriter) *Producer {
	return &Producer{
		priceWriter: price,
		passWriter:  pass,
		priceTopic:  "price-updates",
		passTopic:   "price-passes",
		logger:      ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_PublishPriceChange(t *testing.T) {
	price, pass := &fakeWriter{}, &fakeWriter{}
	p := newTestProducer(price, pass)

	product := models.NewTrackedProduct(models.CandidateListing{ProductID: "X", Title: "Kettle", Price: "$45", Source: "Shop"}, time.Now())
	outcome := models.PriceUpdated(product, "$45", "$50")
	outcome.At = time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)

	ctx := appctx.SetPassID(context.Background(), "pass-1")
	require.NoError(t, p.PublishPriceChange(ctx, product, outcome))

	require.Len(t, price.messages, 1)
	assert.Empty(t, pass.messages)

	msg := price.messages[0]
	assert.Equal(t, "X", string(msg.Key))
	assert.Equal(t, EventPriceUpdated, headerValue(msg, "type"))
	assert.Equal(t, "pass-1", headerValue(msg, "pass_id"))

	var evt PriceUpdatedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, EventPriceUpdated, evt.Type)
	assert.Equal(t, "pass-1", evt.PassID)
	assert.Equal(t, product.ID.String(), evt.TrackedID)
	assert.Equal(t, "$45", evt.OldPrice)
	assert.Equal(t, "$50", evt.NewPrice)
	assert.True(t, outcome.At.Equal(evt.Timestamp))
}

func TestProducer_PublishPassSummary(t *testing.T) {
	price, pass := &fakeWriter{}, &fakeWriter{}
	p := newTestProducer(price, pass)

	summary := models.PassSummary{PassID: "pass-9", Total: 4, Updated: 1, Unchanged: 2, SearchFailed: 1}
	require.NoError(t, p.PublishPassSummary(context.Background(), summary))

	require.Len(t, pass.messages, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(pass.messages[0].Value, &body))
	assert.Equal(t, EventPassCompleted, body["type"])
	assert.Equal(t, "pass-9", body["pass_id"])
	assert.EqualValues(t, 4, body["total"])
	assert.EqualValues(t, 1, body["search_failed"])
}

func TestProducer_WriteError(t *testing.T) {
	price := &fakeWriter{err: errors.New("leader not available")}
	p := newTestProducer(price, &fakeWriter{})

	product := &models.TrackedProduct{ProductID: "X"}
	err := p.PublishPriceChange(context.Background(), product, models.PriceUpdated(product, "$1", "$2"))
	assert.ErrorContains(t, err, "leader not available")
}

func TestProducer_Close(t *testing.T) {
	price, pass := &fakeWriter{}, &fakeWriter{}
	require.NoError(t, newTestProducer(price, pass).Close())
	assert.True(t, price.closed)
	assert.True(t, pass.closed)
}
