// Package dispatchlog is the durable job-creation log on Redis Streams.
// Creation events are appended with XADD and consumed through a consumer
// group with per-entry acknowledgement; entries left pending by a crashed
// consumer are reclaimed and redelivered.
//
// The event payload is advisory (job id plus minimal metadata). All
// authoritative state lives in the job record, so consumers treat events as
// idempotent "ensure this job is picked up" signals.
package dispatchlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the stream key for job-creation events.
const DefaultStream = "gohaul:jobs:created"

// Event is one job-creation notification.
type Event struct {
	ID      string // stream message id
	JobID   string
	OwnerID string
	JobType string
}

// EventPublisher is the publish-side contract consumed by the orchestrator.
type EventPublisher interface {
	// PublishCreated appends a creation event and returns the message id.
	PublishCreated(ctx context.Context, jobID, ownerID, jobType string) (string, error)
}

// Publisher appends creation events to a Redis stream.
type Publisher struct {
	client goredis.Cmdable
	stream string
}

var _ EventPublisher = (*Publisher)(nil)

func NewPublisher(client goredis.Cmdable, stream string) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{client: client, stream: stream}
}

func (p *Publisher) PublishCreated(ctx context.Context, jobID, ownerID, jobType string) (string, error) {
	id, err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"job_id":   jobID,
			"owner_id": ownerID,
			"job_type": jobType,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("dispatchlog: publish created: %w", err)
	}
	return id, nil
}

// Handler processes one redelivered-or-fresh event. Returning nil
// acknowledges the entry; an error leaves it pending for redelivery.
type Handler func(ctx context.Context, evt Event) error

// Consumer reads creation events through a consumer group.
type Consumer struct {
	client  goredis.Cmdable
	logger  *zap.Logger
	stream  string
	group   string
	name    string
	block   time.Duration
	minIdle time.Duration
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Stream string // default DefaultStream
	Group  string // required
	Name   string // required; unique per consumer instance
	// Block is the XREADGROUP block duration. Default 5s.
	Block time.Duration
	// MinIdle is how long an entry may sit pending on a dead consumer before
	// it is reclaimed. Default 1m.
	MinIdle time.Duration
}

func NewConsumer(client goredis.Cmdable, logger *zap.Logger, cfg ConsumerConfig) (*Consumer, error) {
	if strings.TrimSpace(cfg.Group) == "" || strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("dispatchlog: consumer group and name are required")
	}
	c := &Consumer{
		client:  client,
		logger:  logger,
		stream:  cfg.Stream,
		group:   cfg.Group,
		name:    cfg.Name,
		block:   cfg.Block,
		minIdle: cfg.MinIdle,
	}
	if c.stream == "" {
		c.stream = DefaultStream
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	if c.minIdle <= 0 {
		c.minIdle = time.Minute
	}
	return c, nil
}

// Run consumes events until the context is cancelled. Each pass first claims
// entries abandoned by crashed consumers, then blocks for fresh entries.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.claimAbandoned(ctx, handle)

		streams, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    16,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.Warn("dispatch log read failed", zap.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.dispatch(ctx, msg, handle)
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("dispatchlog: create consumer group: %w", err)
	}
	return nil
}

// claimAbandoned reclaims entries whose consumer stopped acking.
func (c *Consumer) claimAbandoned(ctx context.Context, handle Handler) {
	msgs, _, err := c.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  c.minIdle,
		Start:    "0-0",
		Count:    16,
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		c.logger.Warn("dispatch log autoclaim failed", zap.Error(err))
		return
	}
	for _, msg := range msgs {
		c.dispatch(ctx, msg, handle)
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg goredis.XMessage, handle Handler) {
	evt := Event{
		ID:      msg.ID,
		JobID:   str(msg.Values["job_id"]),
		OwnerID: str(msg.Values["owner_id"]),
		JobType: str(msg.Values["job_type"]),
	}
	if evt.JobID == "" {
		// Malformed entry; ack so it does not redeliver forever.
		c.ack(ctx, msg.ID)
		return
	}
	if err := handle(ctx, evt); err != nil {
		// Leave unacked for redelivery.
		c.logger.Warn("dispatch event handling failed",
			zap.String("job_id", evt.JobID), zap.Error(err))
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.logger.Warn("dispatch log ack failed", zap.String("message_id", id), zap.Error(err))
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
