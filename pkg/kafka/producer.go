package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	appctx "github.com/Ramsey-B/pricewise/pkg/context"
	"github.com/Ramsey-B/pricewise/pkg/metrics"
	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/tracing"
)

const (
	EventPriceUpdated  = "price.updated"
	EventPassCompleted = "pass.completed"
)

// Config holds Kafka configuration
type Config struct {
	Brokers    []string
	PriceTopic string
	PassTopic  string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes price changes and pass summaries
type Producer struct {
	priceWriter messageWriter
	passWriter  messageWriter
	priceTopic  string
	passTopic   string
	logger      ectologger.Logger
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Dev brokers may not have the topics yet.
		AllowAutoTopicCreation: true,
	}
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	return &Producer{
		priceWriter: newWriter(cfg.Brokers, cfg.PriceTopic),
		passWriter:  newWriter(cfg.Brokers, cfg.PassTopic),
		priceTopic:  cfg.PriceTopic,
		passTopic:   cfg.PassTopic,
		logger:      logger,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	var firstErr error
	if err := p.priceWriter.Close(); err != nil {
		firstErr = err
	}
	if err := p.passWriter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// PriceUpdatedEvent is published after a price change is committed
type PriceUpdatedEvent struct {
	Type      string    `json:"type"`
	PassID    string    `json:"pass_id,omitempty"`
	TrackedID string    `json:"tracked_id"`
	ProductID string    `json:"product_id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Link      string    `json:"link"`
	OldPrice  string    `json:"old_price"`
	NewPrice  string    `json:"new_price"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// PassCompletedEvent carries a finished pass summary
type PassCompletedEvent struct {
	Type string `json:"type"`
	models.PassSummary
	TraceID string `json:"trace_id,omitempty"`
}

func (p *Producer) PublishPriceChange(ctx context.Context, product *models.TrackedProduct, outcome models.Outcome) error {
	ts := outcome.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	evt := PriceUpdatedEvent{
		Type:      EventPriceUpdated,
		PassID:    appctx.GetPassID(ctx),
		TrackedID: product.ID.String(),
		ProductID: product.ProductID,
		Title:     product.Title,
		Source:    product.Source,
		Link:      product.Link,
		OldPrice:  outcome.OldPrice,
		NewPrice:  outcome.NewPrice,
		Timestamp: ts,
		TraceID:   tracing.GetTraceID(ctx),
	}
	return p.publish(ctx, p.priceWriter, p.priceTopic, EventPriceUpdated, product.ProductID, evt)
}

func (p *Producer) PublishPassSummary(ctx context.Context, summary models.PassSummary) error {
	evt := PassCompletedEvent{
		Type:        EventPassCompleted,
		PassSummary: summary,
		TraceID:     tracing.GetTraceID(ctx),
	}
	return p.publish(ctx, p.passWriter, p.passTopic, EventPassCompleted, summary.PassID, evt)
}

func (p *Producer) publish(ctx context.Context, w messageWriter, topic, eventType, key string, payload any) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event.type", eventType),
	)

	data, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	start := time.Now()
	err = w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers(ctx, eventType),
	})
	if err != nil {
		metrics.RecordKafkaPublish(topic, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", topic)
		return err
	}

	metrics.RecordKafkaPublish(topic, "success", time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published %s to Kafka topic %s: key=%s", eventType, topic, key)
	return nil
}

// headers carries the event type and W3C trace context.
func headers(ctx context.Context, eventType string) []kafka.Header {
	h := []kafka.Header{{Key: "type", Value: []byte(eventType)}}
	if passID := appctx.GetPassID(ctx); passID != "" {
		h = append(h, kafka.Header{Key: "pass_id", Value: []byte(passID)})
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		h = append(h, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		h = append(h, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}
	return h
}
