package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...kafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type runnerFunc func(ctx context.Context, uploadID string) (*RunResult, error)

func (f runnerFunc) Run(ctx context.Context, uploadID string) (*RunResult, error) {
	return f(ctx, uploadID)
}

func TestKafkaDispatcherKeysByUpload(t *testing.T) {
	pub := &recordingPublisher{}
	require.NoError(t, NewKafkaDispatcher(pub).Dispatch(context.Background(), "u1"))

	require.Len(t, pub.events, 1)
	assert.Equal(t, "u1", pub.events[0].Key)
	task, ok := pub.events[0].Value.(Task)
	require.True(t, ok)
	assert.Equal(t, "u1", task.UploadID)
}

func TestTaskHandlerCommitsHandledOutcomes(t *testing.T) {
	value, err := json.Marshal(Task{UploadID: "u1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"busy", apperrors.New(apperrors.ErrPipelineBusy, http.StatusConflict, "busy")},
		{"stale", apperrors.New(apperrors.ErrStatusConflict, http.StatusConflict, "completed")},
		{"pipeline failure", apperrors.ParseFailure(nil, "empty")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TaskHandler(runnerFunc(func(_ context.Context, id string) (*RunResult, error) {
				got = id
				return nil, tt.err
			}))
			assert.NoError(t, h(context.Background(), []byte("u1"), value))
			assert.Equal(t, "u1", got)
		})
	}
}

func TestTaskHandlerDropsMalformedTask(t *testing.T) {
	called := false
	h := TaskHandler(runnerFunc(func(context.Context, string) (*RunResult, error) {
		called = true
		return nil, nil
	}))
	assert.NoError(t, h(context.Background(), nil, []byte("{not json")))
	assert.NoError(t, h(context.Background(), nil, []byte(`{"upload_id":""}`)))
	assert.False(t, called)
}

func TestTaskHandlerLeavesTaskOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := TaskHandler(runnerFunc(func(context.Context, string) (*RunResult, error) {
		cancel()
		return nil, errors.New("interrupted")
	}))
	value, _ := json.Marshal(Task{UploadID: "u1"})
	assert.ErrorIs(t, h(ctx, nil, value), context.Canceled)
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []ProgressEvent
}

func (s *blockingSink) Send(_ context.Context, ev ProgressEvent) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return nil
}

func (s *blockingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestAsyncNotifierDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	n := NewAsyncNotifier("test", sink, 2, nil)

	for range 5 {
		n.Notify(context.Background(), "u1", document.SessionProcessing, "step")
	}
	assert.Len(t, n.events, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	close(sink.release)
	require.Eventually(t, func() bool { return sink.len() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	n.Notify(context.Background(), "u1", document.SessionCompleted, "late")
	assert.Equal(t, 2, sink.len())
}

func TestAsyncNotifierFlushesBufferOnShutdown(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	close(sink.release)
	n := NewAsyncNotifier("test", sink, 8, nil)
	for _, msg := range []string{"text extracted", "text chunked (3 chunks)", "processing completed"} {
		n.Notify(context.Background(), "u1", document.SessionProcessing, msg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Run(ctx)

	assert.Equal(t, 3, sink.len(), "events accepted before shutdown are delivered")
	assert.Empty(t, n.events)
}

func TestKafkaSinkPublishesProgress(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewAsyncNotifier("kafka", KafkaSink{Producer: pub}, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	defer cancel()

	n.Notify(context.Background(), "u9", document.SessionCompleted, "done")
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "u9", pub.events[0].Key)
	assert.Equal(t, document.SessionCompleted, pub.events[0].Value.(ProgressEvent).Status)
}

type recordingChannel struct {
	channel string
	payload []byte
}

func (r *recordingChannel) Publish(_ context.Context, channel string, message any) (int64, error) {
	r.channel = channel
	r.payload, _ = message.([]byte)
	return 1, nil
}

func TestRedisSinkUsesPerUploadChannel(t *testing.T) {
	ch := &recordingChannel{}
	sink := RedisSink{Client: ch, Prefix: "upload:"}
	require.NoError(t, sink.Send(context.Background(), ProgressEvent{UploadID: "u1", Status: document.SessionFailed, Message: "boom"}))

	assert.Equal(t, "upload:u1", ch.channel)
	var ev ProgressEvent
	require.NoError(t, json.Unmarshal(ch.payload, &ev))
	assert.Equal(t, "boom", ev.Message)
}

type fakeSubscriber struct {
	channel string
	raw     chan []byte
	closed  bool
	err     error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, channel string) (<-chan []byte, func() error, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.channel = channel
	return f.raw, func() error { f.closed = true; return nil }, nil
}

func TestRedisFeedDecodesWhatRedisSinkPublishes(t *testing.T) {
	pub := &recordingChannel{}
	sink := RedisSink{Client: pub, Prefix: "upload:"}
	require.NoError(t, sink.Send(context.Background(), ProgressEvent{UploadID: "u1", Status: document.SessionCompleted, Message: "processing completed"}))

	sub := &fakeSubscriber{raw: make(chan []byte, 2)}
	sub.raw <- []byte("not json")
	sub.raw <- pub.payload
	close(sub.raw)

	events, stop, err := RedisFeed{Client: sub, Prefix: "upload:"}.Subscribe(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, pub.channel, sub.channel)

	var got []ProgressEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, document.SessionCompleted, got[0].Status)
	assert.Equal(t, "processing completed", got[0].Message)

	stop()
	assert.True(t, sub.closed)

	_, _, err = RedisFeed{Client: &fakeSubscriber{err: errors.New("redis down")}}.Subscribe(context.Background(), "u1")
	assert.Error(t, err)
}
