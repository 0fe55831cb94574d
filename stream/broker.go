package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/batchflow/ext"
	"github.com/xraph/batchflow/queue"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Broker)(nil)
	_ ext.GroupStarted   = (*Broker)(nil)
	_ ext.GroupCompleted = (*Broker)(nil)
	_ ext.JobStarted     = (*Broker)(nil)
	_ ext.JobCompleted   = (*Broker)(nil)
	_ ext.JobFailed      = (*Broker)(nil)
	_ ext.JobPaused      = (*Broker)(nil)
	_ ext.JobResumed     = (*Broker)(nil)
	_ ext.TickFired      = (*Broker)(nil)
	_ ext.Shutdown       = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker receives lifecycle events as an extension and fans them out to
// subscribers by topic.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	now    func() time.Time

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		now:            time.Now,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers a subscriber on topics. Subscribing an existing ID
// replaces the previous subscriber, which is closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	b.RemoveSubscriber(subscriberID)
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	stats := BrokerStats{
		TopicCount:     b.topics.TopicCount(),
		TotalPublished: b.totalPublished.Load(),
	}
	b.subscribers.Range(func(_, v any) bool {
		stats.SubscriberCount++
		stats.TotalDropped += v.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return stats
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

func (b *Broker) publish(t EventType, data any, topics ...string) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Warn("stream: marshal event",
			slog.String("type", string(t)),
			slog.String("error", err.Error()),
		)
		return
	}
	evt := &Event{
		Type:      t,
		Timestamp: b.now().UTC(),
		Topics:    topics,
		Data:      raw,
	}
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

func runData(run *queue.Group, elapsed time.Duration) RunEventData {
	return RunEventData{
		RunID:     run.ID.String(),
		Group:     run.JobGroupName,
		TimeZone:  run.TimeZone,
		RunDate:   run.RunDateKey(),
		Status:    string(run.RunStatus),
		ElapsedMs: elapsed.Milliseconds(),
	}
}

func jobData(j *queue.Job) JobEventData {
	return JobEventData{
		JobID:    j.ID.String(),
		RunID:    j.GroupID.String(),
		JobName:  j.JobName,
		Handler:  j.Handler,
		Status:   string(j.Status),
		NextStep: string(j.NextStep),
	}
}

func runTopics(run *queue.Group) []string {
	return []string{RunTopic(run.ID.String()), TimeZoneTopic(run.TimeZone)}
}

func jobTopics(j *queue.Job) []string {
	return []string{RunTopic(j.GroupID.String()), JobTopic(j.ID.String())}
}

// ── Run lifecycle hooks ─────────────────────────────

func (b *Broker) OnGroupStarted(_ context.Context, run *queue.Group) error {
	b.publish(EventGroupStarted, runData(run, 0), runTopics(run)...)
	return nil
}

func (b *Broker) OnGroupCompleted(_ context.Context, run *queue.Group, elapsed time.Duration) error {
	b.publish(EventGroupCompleted, runData(run, elapsed), runTopics(run)...)
	return nil
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobStarted(_ context.Context, j *queue.Job) error {
	b.publish(EventJobStarted, jobData(j), jobTopics(j)...)
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *queue.Job, r queue.Result, elapsed time.Duration) error {
	d := jobData(j)
	d.Status, d.NextStep = string(r.Status), string(r.NextStep)
	d.Progress = j.FormatProgress()
	d.ElapsedMs = elapsed.Milliseconds()
	b.publish(EventJobCompleted, d, jobTopics(j)...)
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *queue.Job, jobErr error) error {
	d := jobData(j)
	if jobErr != nil {
		d.Error = jobErr.Error()
	}
	b.publish(EventJobFailed, d, jobTopics(j)...)
	return nil
}

func (b *Broker) OnJobPaused(_ context.Context, j *queue.Job) error {
	b.publish(EventJobPaused, jobData(j), jobTopics(j)...)
	return nil
}

func (b *Broker) OnJobResumed(_ context.Context, j *queue.Job) error {
	b.publish(EventJobResumed, jobData(j), jobTopics(j)...)
	return nil
}

// ── Scheduler hooks ─────────────────────────────────

func (b *Broker) OnTickFired(_ context.Context, tz string, at time.Time, started int) error {
	b.publish(EventTickFired, TickEventData{TimeZone: tz, At: at, Started: started}, TimeZoneTopic(tz))
	return nil
}

// OnShutdown closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, _ any) bool {
		b.RemoveSubscriber(key.(string)) //nolint:errcheck // keys are subscriber IDs
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
