// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// MQTTOptions configures an MQTT publisher
type MQTTOptions struct {
	Broker   string // tcp://host:1883, ssl://, ws://; mqtt:// is tcp
	Topic    string // snapshots go to Topic/<node>
	ClientID string // defaults to NodeID()
	Username string
	Password string
	QoS      byte
	Retain   bool
}

// MQTTPublisher publishes snapshots to an MQTT broker
type MQTTPublisher struct {
	client paho.Client
	topic  string
	qos    byte
	retain bool
}

// clientOptions maps opts onto paho options
func clientOptions(opts MQTTOptions) (*paho.ClientOptions, error) {
	u, err := url.Parse(opts.Broker)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid broker URL %q: no host", opts.Broker)
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}

	clientID := opts.ClientID
	if clientID == "" {
		clientID = NodeID()
	}

	o := paho.NewClientOptions()
	o.AddBroker(scheme + "://" + u.Host).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(5 * time.Second)

	username, password := opts.Username, opts.Password
	if u.User != nil {
		username = u.User.Username()
		if pwd, ok := u.User.Password(); ok {
			password = pwd
		}
	}
	if username != "" {
		o.SetUsername(username)
		o.SetPassword(password)
	}

	o.SetOnConnectHandler(func(paho.Client) {
		glog.Infof("mqtt connected to %s", u.Host)
	})
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		glog.Warningf("mqtt connection lost: %v", err)
	})
	return o, nil
}

// topicFor returns the publish topic of node under base
func topicFor(base, node string) string {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		return node
	}
	return base + "/" + node
}

// DialMQTT connects to the broker and returns a publisher for node
func DialMQTT(ctx context.Context, node string, opts MQTTOptions) (*MQTTPublisher, error) {
	o, err := clientOptions(opts)
	if err != nil {
		return nil, err
	}
	client := paho.NewClient(o)

	token := client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Broker, err)
	}
	return newMQTTPublisher(client, node, opts), nil
}

func newMQTTPublisher(client paho.Client, node string, opts MQTTOptions) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		topic:  topicFor(opts.Topic, node),
		qos:    opts.QoS,
		retain: opts.Retain,
	}
}

// Topic returns the topic snapshots are published to
func (p *MQTTPublisher) Topic() string {
	return p.topic
}

// Publish implements Publisher
func (p *MQTTPublisher) Publish(ctx context.Context, s Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return waitToken(ctx, p.client.Publish(p.topic, p.qos, p.retain, data))
}

// Close implements Publisher
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// waitToken waits for token or ctx, whichever comes first
func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
