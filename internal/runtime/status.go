package runtime

import (
	"net/http"

	"github.com/drblury/cdcsync/internal/runtime/jsoncodec"
)

// StatusPath serves the consumer status next to /metrics.
const StatusPath = "/api/status"

// Status is the document served on StatusPath.
type Status struct {
	PubSubSystem      string        `json:"pubsub_system"`
	Topic             string        `json:"topic"`
	DeadLetterTopic   string        `json:"dead_letter_topic,omitempty"`
	ConsumerGroup     string        `json:"consumer_group,omitempty"`
	OrderedDelivery   bool          `json:"ordered_delivery"`
	ReliableDelivery  bool          `json:"reliable_delivery"`
	DestinationDriver string        `json:"destination_driver,omitempty"`
	DestinationTable  string        `json:"destination_table,omitempty"`
	Stats             StatsSnapshot `json:"stats"`
}

// Status returns the current consumer status.
func (s *Service) Status() Status {
	st := Status{
		PubSubSystem:     s.Conf.PubSubSystem,
		Topic:            s.Conf.Topic,
		DeadLetterTopic:  s.Conf.DeadLetterTopic,
		ConsumerGroup:    s.Conf.KafkaConsumerGroup,
		OrderedDelivery:  s.capabilities.PreservesRowOrder(),
		ReliableDelivery: s.capabilities.SupportsReliableDelivery(),
	}
	if s.ownedSink != nil {
		st.DestinationDriver = s.ownedSink.Driver()
		st.DestinationTable = s.ownedSink.Table()
	}
	if s.stats != nil {
		st.Stats = s.stats.Snapshot()
	}
	return st
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, s.Status()); err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
