// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/multierr"
)

// amqpChannel is the part of *amqp.Channel the publisher uses
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes snapshots to a fanout exchange
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	node     string
}

// DialAMQP connects to url and declares a durable fanout exchange
func DialAMQP(url, exchange, node string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to open channel: %w", err), conn.Close())
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("failed to declare exchange %s: %w", exchange, err), ch.Close(), conn.Close())
	}

	p := newAMQPPublisher(ch, exchange, node)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange, node string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, node: node}
}

// Publish implements Publisher. The channel call does not take a context;
// ctx is only checked before sending.
func (p *AMQPPublisher) Publish(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return p.ch.Publish(
		p.exchange, // exchange
		"",         // routing key, ignored by fanout
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: ContentType,
			AppId:       p.node,
			Timestamp:   s.Timestamp(),
			Body:        data,
		},
	)
}

// Close implements Publisher
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = multierr.Append(err, p.conn.Close())
	}
	return err
}
