package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/angelmondragon/ledgermatch-backend/internal/uploads"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

const (
	defaultWorkers    = 4
	publishTimeout    = 10 * time.Second
	attrRequestType   = "request_type"
	requestTypeIngest = "ingest_upload"
)

// Ingester is the pipeline surface dispatchers drive.
type Ingester interface {
	Ingest(ctx context.Context, jobID uuid.UUID) error
}

// Request is the Pub/Sub payload asking a worker to ingest one job.
type Request struct {
	RequestID   uuid.UUID `json:"request_id"`
	JobID       uuid.UUID `json:"job_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// LocalDispatcher runs ingestion in-process on a bounded pool of goroutines.
type LocalDispatcher struct {
	ingester Ingester
	sem      *semaphore.Weighted
	logg     *logger.Logger
	wg       sync.WaitGroup
}

func NewLocalDispatcher(ingester Ingester, workers int64, logg *logger.Logger) (*LocalDispatcher, error) {
	if ingester == nil {
		return nil, fmt.Errorf("ingester required")
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &LocalDispatcher{ingester: ingester, sem: semaphore.NewWeighted(workers), logg: logg}, nil
}

// Dispatch returns immediately. The run is detached from the caller's cancellation.
func (d *LocalDispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(runCtx, 1); err != nil {
			d.logg.Error(runCtx, "failed to acquire ingest worker", err)
			return
		}
		defer d.sem.Release(1)
		if err := d.ingester.Ingest(runCtx, jobID); err != nil {
			d.logg.Error(runCtx, "local ingestion failed", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned or ctx ends.
func (d *LocalDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type publisher interface {
	Publish(context.Context, *pubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubDispatcher publishes an ingest request for cmd/worker to consume.
type PubSubDispatcher struct {
	publisher publisher
	logg      *logger.Logger
}

func NewPubSubDispatcher(p *pubsub.Publisher, logg *logger.Logger) (*PubSubDispatcher, error) {
	if p == nil {
		return nil, fmt.Errorf("ingest publisher required")
	}
	return newPubSubDispatcher(&gcpPublisher{Publisher: p}, logg), nil
}

func newPubSubDispatcher(p publisher, logg *logger.Logger) *PubSubDispatcher {
	if logg == nil {
		logg = logger.Nop()
	}
	return &PubSubDispatcher{publisher: p, logg: logg}
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	req := Request{RequestID: uuid.New(), JobID: jobID, RequestedAt: time.Now().UTC()}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode ingest request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	res := d.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			attrRequestType: requestTypeIngest,
			"job_id":        jobID.String(),
		},
	})
	if res == nil {
		return errors.New("publish result is nil")
	}
	msgID, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish ingest request: %w", err)
	}
	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"message_id": msgID,
		"request_id": req.RequestID.String(),
	}), "ingest request published")
	return nil
}

type gcpPublisher struct {
	*pubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

var (
	_ uploads.Dispatcher = (*LocalDispatcher)(nil)
	_ uploads.Dispatcher = (*PubSubDispatcher)(nil)
)
