// Package metrics holds the engine's Prometheus collectors. Collectors are
// usable unregistered; Register exposes them on a registry.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convo_messages_admitted_total",
		Help: "Messages admitted into the conversation store.",
	})
	MessagesDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convo_messages_duplicate_total",
		Help: "Re-delivered message identities dropped by deduplication.",
	})
	UpdatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convo_message_updates_dropped_total",
		Help: "Message update events for identities not yet admitted.",
	})
	InvariantViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convo_store_invariant_violations_total",
		Help: "Mutations aborted because immutable message fields disagreed.",
	})
	FeedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_feed_events_total",
		Help: "Realtime feed events by table and operation.",
	}, []string{"table", "operation"})
	WaitingNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_waiting_notifications_total",
		Help: "Waiting notifications by outcome (sent, suppressed, failed).",
	}, []string{"outcome"})
	Sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_outbound_sends_total",
		Help: "Outbound actions by kind and outcome.",
	}, []string{"kind", "outcome"})
	SuggestionStreams = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_suggestion_streams_total",
		Help: "Suggestion streams by outcome (complete, eof, canceled, error).",
	}, []string{"outcome"})
	SLATier = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "convo_sla_conversations",
		Help: "Loaded conversations per SLA tier at the last evaluation.",
	}, []string{"state"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MessagesAdmitted, MessagesDuplicate, UpdatesDropped, InvariantViolations,
		FeedEvents, WaitingNotifications, Sends, SuggestionStreams, SLATier,
	}
}

// Register adds every collector to reg. Collectors already registered on reg
// are skipped so repeated command runs in one process do not fail.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the collectors registered on reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
