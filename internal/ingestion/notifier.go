package ingestion

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/pkg/kafka"
	"github.com/devstudio-tyler/company-on/pkg/logger"
	"github.com/devstudio-tyler/company-on/pkg/metrics"
)

// Notifier receives progress after every state change. Notify must never
// block the pipeline or fail it.
type Notifier interface {
	Notify(ctx context.Context, uploadID string, status document.SessionStatus, message string)
}

// LogNotifier writes progress to the log only.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, uploadID string, status document.SessionStatus, message string) {
	logger.FromContext(ctx).Info("upload progress", "upload_id", uploadID, "status", status, "message", message)
}

// Fanout delivers each event to every notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, uploadID string, status document.SessionStatus, message string) {
	for _, n := range f {
		n.Notify(ctx, uploadID, status, message)
	}
}

// Sink is where an AsyncNotifier delivers events.
type Sink interface {
	Send(ctx context.Context, ev ProgressEvent) error
}

// AsyncNotifier queues events into a bounded buffer drained by Run. When the
// buffer is full the event is dropped and counted. Events accepted before
// Run returns are always delivered; later ones are dropped.
type AsyncNotifier struct {
	name    string
	sink    Sink
	events  chan ProgressEvent
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewAsyncNotifier(name string, sink Sink, buffer int, m *metrics.Metrics) *AsyncNotifier {
	if buffer <= 0 {
		buffer = 1024
	}
	return &AsyncNotifier{
		name:    name,
		sink:    sink,
		events:  make(chan ProgressEvent, buffer),
		metrics: m,
		logger:  slog.Default().With("component", "notifier", "sink", name),
	}
}

func (n *AsyncNotifier) Notify(_ context.Context, uploadID string, status document.SessionStatus, message string) {
	ev := ProgressEvent{UploadID: uploadID, Status: status, Message: message, Timestamp: time.Now().UTC()}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.metrics.DropProgressEvent()
		return
	}
	select {
	case n.events <- ev:
	default:
		n.metrics.DropProgressEvent()
		n.logger.Warn("progress buffer full, event dropped", "upload_id", uploadID, "status", status)
	}
}

// Run delivers queued events until ctx is done. It then stops accepting
// events and flushes the buffer with a short grace period.
func (n *AsyncNotifier) Run(ctx context.Context) {
	for {
		select {
		case ev := <-n.events:
			n.send(ctx, ev)
		case <-ctx.Done():
			// Once the write lock is held no Notify is mid-send, so the
			// flush sees every accepted event.
			n.mu.Lock()
			n.closed = true
			n.mu.Unlock()
			n.flush()
			return
		}
	}
}

func (n *AsyncNotifier) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-n.events:
			n.send(ctx, ev)
		default:
			return
		}
	}
}

func (n *AsyncNotifier) send(ctx context.Context, ev ProgressEvent) {
	if err := n.sink.Send(ctx, ev); err != nil {
		n.logger.Warn("delivering progress event failed", "upload_id", ev.UploadID, "status", ev.Status, "error", err)
	}
}

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// KafkaSink publishes progress events keyed by upload id, so one upload's
// events stay ordered on a partition.
type KafkaSink struct {
	Producer EventPublisher
}

func (s KafkaSink) Send(ctx context.Context, ev ProgressEvent) error {
	return s.Producer.Publish(ctx, kafka.Event{Key: ev.UploadID, Type: "upload.progress", Value: ev})
}

// ChannelPublisher is satisfied by *redis.Client.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message any) (int64, error)
}

// RedisSink publishes progress to the channel <prefix><upload_id> for live
// subscribers such as the progress stream.
type RedisSink struct {
	Client ChannelPublisher
	Prefix string
}

func (s RedisSink) Send(ctx context.Context, ev ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.Client.Publish(ctx, s.Prefix+ev.UploadID, payload)
	return err
}

// ChannelSubscriber is satisfied by *redis.Client.
type ChannelSubscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

// RedisFeed reads back what RedisSink publishes. Each Subscribe call owns
// one pub/sub connection until its stop func is called.
type RedisFeed struct {
	Client ChannelSubscriber
	Prefix string
}

// Subscribe delivers the upload's progress events until stop is called or
// ctx is done. Payloads that do not decode are skipped.
func (f RedisFeed) Subscribe(ctx context.Context, uploadID string) (<-chan ProgressEvent, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	raw, closeSub, err := f.Client.Subscribe(ctx, f.Prefix+uploadID)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	out := make(chan ProgressEvent, 16)
	go func() {
		defer close(out)
		for payload := range raw {
			var ev ProgressEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				slog.Debug("skipping undecodable progress payload", "upload_id", uploadID, "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() {
		cancel()
		if err := closeSub(); err != nil {
			slog.Debug("closing progress subscription", "upload_id", uploadID, "error", err)
		}
	}
	return out, stop, nil
}
