package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"producer-dashboard/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks a message that can never be handled; consumers skip it
var ErrMalformedEvent = errors.New("malformed event")

// EventPublisher handles publishing dashboard events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func producerKey(producer string) string {
	return "producer-" + strings.ToLower(producer)
}

// PublishRegistrationSubmitted publishes RegistrationSubmitted event
func (ep *EventPublisher) PublishRegistrationSubmitted(ctx context.Context, event *models.RegistrationSubmittedEvent) error {
	return ep.producer.PublishEvent(ctx, producerKey(event.Producer), event)
}

// PublishRegistrationConfirmed publishes RegistrationConfirmed event
func (ep *EventPublisher) PublishRegistrationConfirmed(ctx context.Context, event *models.RegistrationConfirmedEvent) error {
	return ep.producer.PublishEvent(ctx, producerKey(event.Producer), event)
}

// PublishRegistrationFailed publishes RegistrationFailed event
func (ep *EventPublisher) PublishRegistrationFailed(ctx context.Context, event *models.RegistrationFailedEvent) error {
	return ep.producer.PublishEvent(ctx, producerKey(event.Producer), event)
}

// PublishProductsRefreshed publishes ProductsRefreshed event
func (ep *EventPublisher) PublishProductsRefreshed(ctx context.Context, event *models.ProductsRefreshedEvent) error {
	return ep.producer.PublishEvent(ctx, producerKey(event.Producer), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onRegistrationConfirmed func(context.Context, *models.RegistrationConfirmedEvent) error
	onRegistrationFailed    func(context.Context, *models.RegistrationFailedEvent) error
	logger                  *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(logger *zap.Logger) *EventHandler {
	return &EventHandler{logger: logger}
}

// OnRegistrationConfirmed registers a handler for RegistrationConfirmed events
func (eh *EventHandler) OnRegistrationConfirmed(handler func(context.Context, *models.RegistrationConfirmedEvent) error) {
	eh.onRegistrationConfirmed = handler
}

// OnRegistrationFailed registers a handler for RegistrationFailed events
func (eh *EventHandler) OnRegistrationFailed(handler func(context.Context, *models.RegistrationFailedEvent) error) {
	eh.onRegistrationFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: base event: %v", ErrMalformedEvent, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeRegistrationConfirmed:
		if eh.onRegistrationConfirmed != nil {
			var event models.RegistrationConfirmedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: RegistrationConfirmed event: %v", ErrMalformedEvent, err)
			}
			return eh.onRegistrationConfirmed(ctx, &event)
		}

	case models.EventTypeRegistrationFailed:
		if eh.onRegistrationFailed != nil {
			var event models.RegistrationFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: RegistrationFailed event: %v", ErrMalformedEvent, err)
			}
			return eh.onRegistrationFailed(ctx, &event)
		}

	default:
		eh.logger.Debug("Ignoring event", zap.String("type", baseEvent.EventType))
	}

	return nil
}
