package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EventType — тип события жизненного цикла.
type EventType string

// Типы событий.
const (
	EventWorkorderStarted   EventType = "workorder.started"
	EventWorkorderCompleted EventType = "workorder.completed"
	EventWorkorderRefunded  EventType = "workorder.refunded"
)

// Event — сообщение о жизненном цикле work order.
type Event struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	Type EventType `json:"type"`

	TenantID    string `json:"tenant_id"`
	WorkOrderID string `json:"work_order_id"`

	// Status — агрегированный статус (для workorder.completed).
	Status string `json:"status,omitempty"`

	// StepID / ReasonCode / AmountCredits — детали возврата
	// (для workorder.refunded).
	StepID        string `json:"step_id,omitempty"`
	ReasonCode    string `json:"reason_code,omitempty"`
	AmountCredits int64  `json:"amount_credits,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Publisher публикует события жизненного цикла.
//
// Publisher с nil-соединением — no-op: все публикации молча
// пропускаются. Ошибки публикации логируются и не прерывают выполнение
// work order.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт издатель событий. conn может быть nil.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// publish отправляет событие в обменник; nil-соединение — no-op.
func (p *Publisher) publish(ctx context.Context, routingKey string, ev *Event) {
	if p == nil || p.conn == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshal lifecycle event failed", "type", ev.Type, "error", err)
		return
	}
	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			Exchange,
			routingKey,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    ev.ID,
				Timestamp:    ev.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", Exchange, routingKey, err)
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("publish lifecycle event failed",
			"type", ev.Type,
			"work_order_id", ev.WorkOrderID,
			"error", err,
		)
		return
	}
	p.logger.Debug("published lifecycle event",
		"type", ev.Type,
		"work_order_id", ev.WorkOrderID,
		"message_id", ev.ID,
	)
}

// WorkorderStarted публикует начало выполнения work order.
func (p *Publisher) WorkorderStarted(ctx context.Context, tenantID, workOrderID string) {
	p.publish(ctx, RoutingKeyStarted, &Event{
		ID:          uuid.NewString(),
		Type:        EventWorkorderStarted,
		TenantID:    tenantID,
		WorkOrderID: workOrderID,
		Timestamp:   time.Now().UTC(),
	})
}

// WorkorderCompleted публикует терминальный статус work order.
func (p *Publisher) WorkorderCompleted(ctx context.Context, tenantID, workOrderID, status string) {
	p.publish(ctx, RoutingKeyCompleted, &Event{
		ID:          uuid.NewString(),
		Type:        EventWorkorderCompleted,
		TenantID:    tenantID,
		WorkOrderID: workOrderID,
		Status:      status,
		Timestamp:   time.Now().UTC(),
	})
}

// WorkorderRefunded публикует возврат за упавший шаг.
func (p *Publisher) WorkorderRefunded(ctx context.Context, tenantID, workOrderID, stepID, reasonCode string, amount int64) {
	p.publish(ctx, RoutingKeyRefunded, &Event{
		ID:            uuid.NewString(),
		Type:          EventWorkorderRefunded,
		TenantID:      tenantID,
		WorkOrderID:   workOrderID,
		StepID:        stepID,
		ReasonCode:    reasonCode,
		AmountCredits: amount,
		Timestamp:     time.Now().UTC(),
	})
}
