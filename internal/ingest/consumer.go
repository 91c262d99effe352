package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

const consumerName = "ingest-worker"

type deduper interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, deliveryID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, deliveryID uuid.UUID) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer pulls ingest requests from Pub/Sub and runs the pipeline for each.
type Consumer struct {
	ingester     Ingester
	subscription receiver
	idempotency  deduper
	logg         *logger.Logger
}

// NewConsumer builds the ingest request consumer.
func NewConsumer(ingester Ingester, subscription *pubsub.Subscriber, manager deduper, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("ingest subscription required")
	}
	return newConsumer(ingester, subscription, manager, logg)
}

func newConsumer(ingester Ingester, subscription receiver, manager deduper, logg *logger.Logger) (*Consumer, error) {
	if ingester == nil {
		return nil, fmt.Errorf("ingester required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{ingester: ingester, subscription: subscription, idempotency: manager, logg: logg}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id":   msg.ID,
		"request_type": msg.Attributes[attrRequestType],
	})

	if msg.Attributes[attrRequestType] != requestTypeIngest {
		c.logg.Info(logCtx, "skipping unknown request type")
		return processResult{ack: true}
	}

	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.logg.Error(logCtx, "failed to decode ingest request", err)
		return processResult{ack: true}
	}
	if req.RequestID == uuid.Nil || req.JobID == uuid.Nil {
		c.logg.Warn(logCtx, "ingest request missing ids")
		return processResult{ack: true}
	}
	logCtx = c.logg.WithJobID(logCtx, req.JobID.String())

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, consumerName, req.RequestID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "ingest request already processed")
		return processResult{ack: true}
	}

	if err := c.ingester.Ingest(logCtx, req.JobID); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) || pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			c.logg.Warn(logCtx, "dropping ingest request: "+err.Error())
			return processResult{ack: true}
		}
		// A job already marked FAILED hits the terminal guard on redelivery and is acked then.
		c.logg.Error(logCtx, "ingestion failed", err)
		if err := c.idempotency.Delete(ctx, consumerName, req.RequestID); err != nil {
			// The redelivery will be acked unprocessed; the stale-upload watchdog fails the job.
			c.logg.Error(logCtx, "failed to forget ingest request; redelivery will be skipped", err)
		}
		return processResult{nack: true}
	}
	return processResult{ack: true}
}
