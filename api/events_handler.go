package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/batchflow/stream"
)

// heartbeatInterval keeps idle event streams open through proxies.
const heartbeatInterval = 15 * time.Second

// events streams lifecycle events as server-sent events. Query
// parameters: topic (repeatable, default firehose) and type (repeatable,
// default every type).
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topics := q["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			badRequest(w, err.Error())
			return
		}
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	subID := uuid.NewString()
	sub := a.broker.Subscribe(subID, topics...)
	defer a.broker.RemoveSubscriber(subID)
	if types := q["type"]; len(types) > 0 {
		ets := make([]stream.EventType, 0, len(types))
		for _, t := range types {
			ets = append(ets, stream.EventType(t))
		}
		sub.OnlyTypes(ets...)
	}

	if _, err := fmt.Fprintf(w, ": subscribed %s\n\n", subID); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		a.logger.Warn("event stream not flushable", slog.String("error", err.Error()))
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
				return
			}
			sub.AddCredits(1)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
