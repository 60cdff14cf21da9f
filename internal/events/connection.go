// Package events публикует жизненный цикл work orders в RabbitMQ.
//
// Только публикация: оркестратор ничего не потребляет из брокера и не
// строит на нём планирование. Publisher с nil-соединением — безопасный
// no-op, брокер в dev-режиме не обязателен.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — обменник событий жизненного цикла.
const Exchange = "conveyor.workorders"

// Routing keys событий.
const (
	RoutingKeyStarted   = "workorder.started"
	RoutingKeyCompleted = "workorder.completed"
	RoutingKeyRefunded  = "workorder.refunded"
)

// Connection — обёртка над AMQP-соединением с одним каналом.
type Connection struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// Dial подключается к брокеру, открывает канал и объявляет топологию.
func Dial(url string, logger *slog.Logger) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}

	logger.Info("connected to RabbitMQ", "exchange", Exchange)
	return &Connection{logger: logger, conn: conn, channel: ch}, nil
}

// WithChannel выполняет fn на открытом канале под мьютексом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("events: connection closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(c.channel)
}

// Close закрывает канал и соединение.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
