package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	run:<runID>   events of one group run and its jobs
//	job:<jobID>   events of one job
//	tz:<zone>     run and tick events of one time zone
//	runs          every run event
//	jobs          every job event
//	firehose      everything
const (
	TopicRuns     = "runs"
	TopicJobs     = "jobs"
	TopicFirehose = "firehose"
)

// RunTopic returns the topic of a group run.
func RunTopic(runID string) string { return "run:" + runID }

// JobTopic returns the topic of a job.
func JobTopic(jobID string) string { return "job:" + jobID }

// TimeZoneTopic returns the topic of a time zone.
func TimeZoneTopic(tz string) string { return "tz:" + tz }

// TopicRegistry manages subscriber sets per topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		topics: make(map[string]map[string]*Subscriber),
	}
}

// Subscribe adds a subscriber to a topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.follow(topic)
}

// UnsubscribeAll removes a subscriber from all topics. Empty topics are
// dropped.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.unfollow(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// Broadcast sends an event once to every subscriber of any of topics and
// returns how many received it.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns every topic evt is published on.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	switch {
	case strings.HasPrefix(string(evt.Type), "job."):
		topics = append(topics, TopicJobs)
	case strings.HasPrefix(string(evt.Type), "group."):
		topics = append(topics, TopicRuns)
	}
	return append(topics, evt.Topics...)
}

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicRuns, TopicJobs, TopicFirehose:
		return nil
	}

	kind, entity, ok := strings.Cut(topic, ":")
	if !ok || entity == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "run", "job", "tz":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic kind %q", kind)
	}
}
