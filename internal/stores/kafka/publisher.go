package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"storefront-service/internal/checkout"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

type Producer interface {
	ProduceMessage(topic string, key, value []byte) error
}

type message struct {
	topic string
	value []byte
}

// Publisher forwards checkout lifecycle events, and the conversions derived from them, to kafka.
// It produces synchronously and is meant to run behind a checkout.QueuedObserver, which keeps the
// events of a checkout in order.
type Publisher struct {
	p Producer
}

func NewPublisher(p Producer) *Publisher {
	return &Publisher{p: p}
}

func (pub *Publisher) Observe(ctx context.Context, ev checkout.Event) {
	traceId := ctxmanage.GetTraceId(ctx)
	key := []byte(ev.CheckoutID)

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal checkout event", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		return
	}
	msgs := []message{{topic: TopicCheckoutEvents, value: data}}

	if conv, ok := conversion(ev); ok {
		data, err := json.Marshal(conv)
		if err != nil {
			slog.Error("failed to marshal analytics event", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		} else {
			msgs = append(msgs, message{topic: TopicAnalytics, value: data})
		}
	}

	for _, m := range msgs {
		if err := pub.p.ProduceMessage(m.topic, key, m.value); err != nil {
			slog.Error("failed to produce message", slog.String(logkey.TraceID, traceId),
				slog.String("topic", m.topic), slog.String(logkey.ERROR, err.Error()))
			continue
		}
		slog.Debug("message produced", slog.String(logkey.TraceID, traceId), slog.String("topic", m.topic),
			slog.String("type", string(ev.Type)))
	}
}

func conversion(ev checkout.Event) (AnalyticsEvent, bool) {
	var name string
	switch ev.Type {
	case checkout.EventCheckoutInitiated:
		name = EventInitiateCheckout
	case checkout.EventPaymentSucceeded:
		name = EventPurchase
	default:
		return AnalyticsEvent{}, false
	}
	return AnalyticsEvent{
		EventName:  name,
		EventID:    name + ":" + ev.OrderID,
		ContentIDs: []string{ev.ProductID},
		Quantity:   ev.Quantity,
		Value:      ev.Value,
		Currency:   ev.Currency,
		OrderID:    ev.OrderID,
		CreatedAt:  ev.At.UTC(),
	}, true
}
