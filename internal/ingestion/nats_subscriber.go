package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrancheLedger/internal/observability"
	"TrancheLedger/internal/oracle"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	PriceStream   = "TRANCHE_PRICES"
	PriceSubjects = "tranche.prices.>"
	PriceConsumer = "tranche-ledger-prices"

	CommandStream = "TRANCHE_COMMANDS"
)

// SubjectConfig binds a subject filter to a durable consumer on a stream.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// PriceSubjectConfigs is the price feed subscription.
func PriceSubjectConfigs() []SubjectConfig {
	return []SubjectConfig{
		{Subject: PriceSubjects, ConsumerName: PriceConsumer, StreamName: PriceStream},
	}
}

// CommandSubjectConfigs returns one consumer per account command subject,
// so a stuck kind does not hold up the others.
func CommandSubjectConfigs() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "tranche.funding.>", ConsumerName: "tranche-ledger-funding", StreamName: CommandStream},
		{Subject: "tranche.deposits.>", ConsumerName: "tranche-ledger-deposits", StreamName: CommandStream},
		{Subject: "tranche.withdrawals.>", ConsumerName: "tranche-ledger-withdrawals", StreamName: CommandStream},
		{Subject: "tranche.bookkeeping.>", ConsumerName: "tranche-ledger-bookkeeping", StreamName: CommandStream},
		{Subject: "tranche.collateral.withdraw.>", ConsumerName: "tranche-ledger-collateral-withdraw", StreamName: CommandStream},
	}
}

// NATSSubscriber consumes JetStream subjects and hands raw messages to
// eventChan. A PriceIngestor or CommandHandler drains the channel.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is an undecoded message plus its acknowledgement callbacks.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the message was handled
	NakFunc   func() // NAK for redelivery
	TermFunc  func() // terminate, never redeliver
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates a durable consumer for every configured subject.
// Explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
				TermFunc:  func() { msg.Term() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// PriceIngestor parses raw price messages and pushes them into a FeedOracle.
type PriceIngestor struct {
	feed    *oracle.FeedOracle
	in      <-chan RawEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPriceIngestor(feed *oracle.FeedOracle, in <-chan RawEvent, metrics *observability.Metrics, logger zerolog.Logger) *PriceIngestor {
	return &PriceIngestor{feed: feed, in: in, metrics: metrics, logger: logger}
}

// Run drains the channel until ctx is cancelled or the channel closes.
func (pi *PriceIngestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-pi.in:
			if !ok {
				return nil
			}
			pi.Handle(raw)
		}
	}
}

// Handle processes one message. Malformed messages are terminated, stale
// ones acknowledged and dropped.
func (pi *PriceIngestor) Handle(raw RawEvent) {
	u, err := ParsePriceUpdate(raw.Data)
	if err != nil {
		pi.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed price")
		pi.count("malformed")
		call(raw.TermFunc)
		return
	}

	if err := pi.feed.Update(u); err != nil {
		if errors.Is(err, oracle.ErrStalePrice) {
			pi.logger.Debug().Int64("sequence", u.Sequence).Msg("stale price ignored")
			pi.count("stale")
			call(raw.AckFunc)
			return
		}
		pi.logger.Warn().Err(err).Int64("sequence", u.Sequence).Msg("price rejected")
		pi.count("rejected")
		call(raw.TermFunc)
		return
	}

	pi.count("accepted")
	call(raw.AckFunc)
}

func (pi *PriceIngestor) count(result string) {
	if pi.metrics != nil {
		pi.metrics.PriceUpdates.WithLabelValues(result).Inc()
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

// EnsureStreams creates the inbound price and command streams if they do
// not exist. FileStorage, retention=Limits, max_age=72h. The command stream
// deduplicates on Nats-Msg-Id for two minutes.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PriceStream,
			Subjects:  []string{PriceSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name: CommandStream,
			Subjects: []string{
				"tranche.funding.>",
				"tranche.deposits.>",
				"tranche.withdrawals.>",
				"tranche.bookkeeping.>",
				"tranche.collateral.withdraw.>",
			},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 2 * time.Minute,
			Replicas:   1,
		},
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
