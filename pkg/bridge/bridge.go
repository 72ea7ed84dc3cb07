// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge mirrors the signal table and link events to an MQTT broker
// and accepts signal writes from it.
//
// Topics, below a configurable prefix:
//
//	<prefix>/signals/<name>  retained, engineering value as text
//	<prefix>/events          JSON encoded link.Event for status and link events
//	<prefix>/write/<name>    subscribed; a number, or a label for selector signals
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Thermoquad/commutator/pkg/config"
	"github.com/Thermoquad/commutator/pkg/link"
)

const (
	eventBuffer    = 256
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
	quiesce        = 250 // ms
)

// Link is the part of link.Session the bridge needs
type Link interface {
	Subscribe(buffer int) (<-chan link.Event, func())
	WriteSignalText(name, text string) error
}

var _ Link = (*link.Session)(nil)

// Bridge connects one link to one broker
type Bridge struct {
	client paho.Client
	prefix string
	qos    byte
	link   Link
	log    *zap.Logger
}

// ClientOptions builds paho options from the mqtt config section
func ClientOptions(cfg config.MQTTConfig) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// New creates a bridge. The write subscription is renewed on every
// (re)connect.
func New(cfg config.MQTTConfig, l Link, log *zap.Logger) *Bridge {
	b := &Bridge{
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:    cfg.QoS,
		link:   l,
		log:    log.With(zap.String("broker", cfg.Broker)),
	}
	opts := ClientOptions(cfg)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.log.Warn("mqtt connection lost", zap.Error(err))
	})
	b.client = paho.NewClient(opts)
	return b
}

// SignalTopic returns the topic a signal value is published on
func SignalTopic(prefix, name string) string {
	return prefix + "/signals/" + name
}

// EventsTopic returns the topic events are published on
func EventsTopic(prefix string) string {
	return prefix + "/events"
}

// WriteFilter returns the subscription filter for inbound writes
func WriteFilter(prefix string) string {
	return prefix + "/write/+"
}

// WriteName extracts the signal name from an inbound write topic
func WriteName(prefix, topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, prefix+"/write/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// FormatValue renders a signal value for its retained topic
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// publication is one outbound MQTT message
type publication struct {
	topic   string
	payload []byte
	retain  bool
}

// publicationsFor maps an event to what gets published. message-sent is
// not forwarded.
func publicationsFor(prefix string, e link.Event) ([]publication, error) {
	switch {
	case e.Kind == link.EventSignalUpdated:
		return []publication{{
			topic:   SignalTopic(prefix, e.Signal),
			payload: []byte(FormatValue(e.Value)),
			retain:  true,
		}}, nil
	case e.Kind.IsStatus(), e.Kind == link.EventConnected, e.Kind == link.EventDisconnected:
		data, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		return []publication{{topic: EventsTopic(prefix), payload: data}}, nil
	}
	return nil, nil
}

// Run connects to the broker and forwards events until ctx is done
func (b *Bridge) Run(ctx context.Context) error {
	events, unsubscribe := b.link.Subscribe(eventBuffer)
	defer unsubscribe()

	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer b.client.Disconnect(quiesce)
	b.log.Info("mqtt bridge started", zap.String("prefix", b.prefix))

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			b.forward(e)
		}
	}
}

func (b *Bridge) forward(e link.Event) {
	pubs, err := publicationsFor(b.prefix, e)
	if err != nil {
		b.log.Warn("encode event", zap.Error(err))
		return
	}
	for _, p := range pubs {
		t := b.client.Publish(p.topic, b.qos, p.retain, p.payload)
		if b.qos > 0 && !t.WaitTimeout(publishTimeout) {
			b.log.Debug("publish timed out", zap.String("topic", p.topic))
			continue
		}
		if err := t.Error(); err != nil {
			b.log.Debug("publish failed", zap.String("topic", p.topic), zap.Error(err))
		}
	}
}

func (b *Bridge) onConnect(c paho.Client) {
	b.log.Info("mqtt connected")
	c.Subscribe(WriteFilter(b.prefix), b.qos, b.onWrite)
}

func (b *Bridge) onWrite(_ paho.Client, msg paho.Message) {
	name, ok := WriteName(b.prefix, msg.Topic())
	if !ok {
		return
	}
	text := strings.TrimSpace(string(msg.Payload()))
	if err := b.link.WriteSignalText(name, text); err != nil {
		b.log.Info("mqtt write rejected", zap.String("signal", name), zap.String("payload", text), zap.Error(err))
		return
	}
	b.log.Debug("mqtt write", zap.String("signal", name), zap.String("payload", text))
}
