package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_outbox_messages_total",
			Help: "Outbox rows handled by the publisher by result and type",
		},
		[]string{"result", "type"}, // published|failed|stale , PAYMENT|APPROVAL
	)

	ListenerDuplicatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_listener_duplicates_total",
			Help: "Deliveries dropped because their outbox entry already existed",
		},
		[]string{"listener"},
	)

	ResponsesDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_responses_discarded_total",
			Help: "Saga responses that did not match the current saga step",
		},
		[]string{"listener"},
	)

	SagaTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_transitions_total",
			Help: "Saga step transitions by target step",
		},
		[]string{"to"},
	)

	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_consumer_messages_total",
			Help: "Kafka records handled by listener workers by topic and result",
		},
		[]string{"topic", "result"}, // ok|malformed|stalled|dropped
	)
)

// MustRegister registers every collector. Collectors already registered
// with r are skipped.
func MustRegister(r prometheus.Registerer) {
	for _, c := range []prometheus.Collector{
		OutboxMessagesTotal,
		ListenerDuplicatesTotal,
		ResponsesDiscardedTotal,
		SagaTransitionsTotal,
		ConsumerMessagesTotal,
	} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
