package workerproc

import (
	"context"
	"errors"
	"sync"
	"time"

	"url-analyzer/internal/queue"
	"url-analyzer/internal/shared/metrics"
	"url-analyzer/internal/shared/telemetry"
)

const (
	defaultConcurrency     = 4
	defaultShutdownTimeout = 30 * time.Second
	receiveBackoff         = time.Second
)

// Options tunes Run.
type Options struct {
	Concurrency     int
	ShutdownTimeout time.Duration
	// Sleep waits after a receive error. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration)
}

// Run polls consumer until ctx is cancelled, processing up to Concurrency
// deliveries at once. On shutdown it waits up to ShutdownTimeout for
// in-flight jobs before returning.
func Run(ctx context.Context, consumer queue.Consumer, processor Processor, opts Options) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{"concurrency": concurrency})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		deliveries, err := consumer.Receive(ctx, concurrency)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			sleep(ctx, receiveBackoff)
			continue
		}

		for _, d := range deliveries {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(d queue.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				// Jobs outlive the poll context so shutdown lets them finish.
				HandleDelivery(context.WithoutCancel(ctx), processor, d)
			}(d)
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout_ms": shutdownTimeout.Milliseconds()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"timeout_ms": shutdownTimeout.Milliseconds()})
	}
}

// HandleDelivery processes one delivery. Successful and unrecoverable
// messages are acknowledged; failed ones are left for redelivery.
func HandleDelivery(ctx context.Context, processor Processor, d queue.Delivery) bool {
	decoded, meta, err := ParseMessage(d.Body)
	if err != nil {
		fields := baseFields(d, "", "")
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		var missing ErrMissingJobID
		if errors.As(err, &missing) {
			fields["request_id"] = missing.RequestID
			telemetry.Error("worker.job.missing_id", fields)
		} else {
			telemetry.Error("worker.job.decode_failed", fields)
		}
		ack(ctx, d, "", "")
		metrics.IncWorkerMessage(true)
		return false
	}

	telemetry.Info("worker.job.received", baseFields(d, decoded.JobID, decoded.RequestID))

	if err := HandleMessage(WithParsedMessage(ctx, decoded), processor, d.Body); err != nil {
		fields := baseFields(d, decoded.JobID, decoded.RequestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.failed", fields)
		metrics.IncWorkerMessage(true)
		return false
	}

	if !ack(ctx, d, decoded.JobID, decoded.RequestID) {
		metrics.IncWorkerMessage(true)
		return false
	}
	telemetry.Info("worker.job.completed", baseFields(d, decoded.JobID, decoded.RequestID))
	metrics.IncWorkerMessage(false)
	return true
}

func ack(ctx context.Context, d queue.Delivery, jobID, requestID string) bool {
	if d.Ack == nil {
		return true
	}
	if err := d.Ack(ctx); err != nil {
		fields := baseFields(d, jobID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.ack_failed", fields)
		return false
	}
	return true
}

func baseFields(d queue.Delivery, jobID, requestID string) map[string]any {
	fields := map[string]any{
		"job_id":        jobID,
		"message_id":    d.ID,
		"receive_count": d.ReceiveCount,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
