package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaSink forwards every bus event to a Kafka topic for external telemetry
// consumers. Delivery is best-effort: a broker outage is logged, never
// propagated into the trading path.
type KafkaSink struct {
	writer *kafka.Writer
	log    zerolog.Logger

	ch          chan *Event
	stop        chan struct{}
	done        chan struct{}
	unsubscribe func()
}

// NewKafkaSink creates a sink writing to the given brokers and topic
func NewKafkaSink(brokers []string, topic string, log zerolog.Logger) *KafkaSink {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})

	return &KafkaSink{
		writer: writer,
		log:    log.With().Str("component", "kafka_sink").Logger(),
		ch:     make(chan *Event, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Attach subscribes the sink to the bus and starts the writer goroutine.
// The bus handler never blocks; events are dropped when the buffer is full.
func (s *KafkaSink) Attach(bus *Bus) {
	s.unsubscribe = bus.SubscribeAll(func(event *Event) {
		select {
		case s.ch <- event:
		default:
			s.log.Warn().Str("event_type", string(event.Type)).Msg("Kafka buffer full, dropping event")
		}
	})

	go s.run()
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for {
		select {
		case event := <-s.ch:
			s.write(event)
		case <-s.stop:
			// Drain what is already buffered before exiting
			for {
				select {
				case event := <-s.ch:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *KafkaSink) write(event *Event) {
	value, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Type),
		Value: value,
		Time:  event.Timestamp,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to publish event")
	}
}

// Close stops the writer goroutine and closes the underlying writer
func (s *KafkaSink) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	close(s.stop)
	<-s.done
	return s.writer.Close()
}
