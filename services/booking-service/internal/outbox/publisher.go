package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/vetbook/libs/db"
	"github.com/md-rashed-zaman/vetbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/vetbook/libs/otel"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Writer is the part of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher relays committed outbox rows to Kafka. Rows are claimed with
// FOR UPDATE SKIP LOCKED so several instances can run side by side.
type Publisher struct {
	pool        *db.Pool
	repo        *Repository
	writer      Writer
	logger      zerolog.Logger
	topicPrefix string
	pollEvery   time.Duration
	batchSize   int
}

type PublisherConfig struct {
	TopicPrefix string
	PollEvery   time.Duration
	BatchSize   int
}

func NewPublisher(pool *db.Pool, repo *Repository, writer Writer, logger zerolog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:        pool,
		repo:        repo,
		writer:      writer,
		logger:      logger,
		topicPrefix: cfg.TopicPrefix,
		pollEvery:   cfg.PollEvery,
		batchSize:   cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	defer p.writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.publishBatch(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error().Err(err).Msg("outbox publish failed")
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, Message(ctx, p.topicPrefix, r))
		ids = append(ids, r.ID)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return err
	}
	p.logger.Debug().Int("count", len(records)).Msg("outbox batch published")
	return tx.Commit(ctx)
}

// Message builds the Kafka message for a record, restoring the trace context
// captured when the event was raised.
func Message(ctx context.Context, topicPrefix string, r Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
	msg := kafka.Message{
		Topic: topicPrefix + r.EventType,
		Key:   []byte(r.AggregateID),
		Value: r.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(r.EventID)},
			{Key: "event_type", Value: []byte(r.EventType)},
			{Key: "recipient_id", Value: []byte(r.RecipientID)},
			{Key: "sequence", Value: []byte(strconv.Itoa(r.Sequence))},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
