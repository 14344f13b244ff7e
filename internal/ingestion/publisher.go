package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"TrancheLedger/internal/event"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	OutboundStream   = "TRANCHE_LEDGER_EVENTS"
	OutboundSubjects = "tranche.ledger.events.>"
)

// OutboundPublisher publishes engine events to NATS for downstream consumers.
// Subjects follow the pattern: tranche.ledger.events.{event_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Envelope
	logger    zerolog.Logger
}

// PublishableEvent is the JSON form of an envelope on the wire.
type PublishableEvent struct {
	Sequence  int64       `json:"sequence"`
	EventID   uuid.UUID   `json:"event_id"`
	EventType string      `json:"event_type"`
	Epoch     int64       `json:"epoch"`
	AccountID *uuid.UUID  `json:"account_id,omitempty"`
	Payload   event.Event `json:"payload"`
	StateHash string      `json:"state_hash"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewPublishableEvent(env event.Envelope) PublishableEvent {
	pe := PublishableEvent{
		Sequence:  env.Sequence,
		EventID:   env.EventID,
		EventType: env.EventType.String(),
		Epoch:     env.Epoch,
		Payload:   env.Payload,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		Timestamp: env.Timestamp,
	}
	if env.Payload != nil {
		pe.AccountID = env.Payload.AccountID()
	}
	return pe
}

// SubjectFor returns tranche.ledger.events.{event_type}.
func SubjectFor(env event.Envelope) string {
	return fmt.Sprintf("tranche.ledger.events.%s", env.EventType.Subject())
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan event.Envelope, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				// Non-fatal: consumers can read the event log in Postgres.
				op.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(NewPublishableEvent(env))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The event id doubles as the JetStream dedup key, so a retried publish
	// inside the stream's duplicate window is stored once.
	_, err = op.js.Publish(ctx, SubjectFor(env), data, jetstream.WithMsgID(env.EventID.String()))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      OutboundStream,
		Subjects:  []string{OutboundSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
