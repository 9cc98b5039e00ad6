// Package io provides a file-backed transport that records and replays change
// envelopes as JSON lines. The subscriber follows the file like tail -f and
// holds each message until it is acked, so replay order equals file order.
package io

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cdcsync/internal/runtime/ids"
	jsoncodec "github.com/drblury/cdcsync/internal/runtime/jsoncodec"
	"github.com/drblury/cdcsync/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

var (
	// PollInterval is how long the subscriber waits at end of file.
	PollInterval = 50 * time.Millisecond
	// RedeliveryDelay is how long a nacked message waits before it is sent again.
	RedeliveryDelay = 100 * time.Millisecond
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(filePath, logger), nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return NewSubscriber(filePath, logger), nil
}

func init() {
	Register()
}

// Register registers the I/O transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new I/O transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		return transport.Transport{}, fmt.Errorf("io: file path is required")
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		_ = pub.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// storedMessage is one line of the file. JSON payloads are stored inline so
// envelopes stay readable and hand-editable; anything else goes to Data.
type storedMessage struct {
	UUID     string               `json:"uuid,omitempty"`
	Topic    string               `json:"topic"`
	Metadata map[string]string    `json:"metadata,omitempty"`
	Payload  jsoncodec.RawMessage `json:"payload,omitempty"`
	Data     []byte               `json:"data,omitempty"`
}

func encodeLine(topic string, msg *message.Message) ([]byte, error) {
	sm := storedMessage{
		UUID:     msg.UUID,
		Topic:    topic,
		Metadata: msg.Metadata,
	}
	if len(msg.Payload) > 0 && jsoncodec.Valid(msg.Payload) {
		sm.Payload = jsoncodec.RawMessage(msg.Payload)
	} else {
		sm.Data = msg.Payload
	}
	b, err := jsoncodec.Marshal(sm)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func decodeLine(line []byte) (storedMessage, []byte, error) {
	var sm storedMessage
	if err := jsoncodec.Unmarshal(line, &sm); err != nil {
		return sm, nil, err
	}
	payload := sm.Data
	if len(sm.Payload) > 0 {
		payload = []byte(sm.Payload)
	}
	return sm, payload, nil
}

// Publisher appends messages to a file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// NewPublisher creates a publisher appending to filePath.
func NewPublisher(filePath string, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{filePath: filePath, logger: logger}
}

// Publish appends one line per message.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range messages {
		line, err := encodeLine(topic, msg)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", msg.UUID, err)
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber replays messages from a file.
type Subscriber struct {
	filePath string
	logger   watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSubscriber creates a subscriber reading filePath.
func NewSubscriber(filePath string, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{filePath: filePath, logger: logger, closing: make(chan struct{})}
}

// Subscribe replays lines for topic from the start of the file, then follows
// appended lines until ctx is cancelled or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)

	s.wg.Add(1)
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer cancel()
		defer f.Close()
		s.follow(ctx, f, topic, out)
	}()

	return out, nil
}

func (s *Subscriber) follow(ctx context.Context, f *os.File, topic string, out chan<- *message.Message) {
	reader := bufio.NewReader(f)
	var partial []byte

	for {
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)
		if errors.Is(err, io.EOF) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(PollInterval):
			}
			continue
		}
		if err != nil {
			s.logger.Error("Failed to read file", err, watermill.LogFields{"file": s.filePath})
			return
		}

		line := partial
		partial = nil
		if len(line) <= 1 {
			continue
		}
		if !s.deliver(ctx, out, line, topic) {
			return
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, line []byte, topic string) bool {
	sm, payload, err := decodeLine(line)
	if err != nil {
		s.logger.Error("Failed to decode line", err, watermill.LogFields{"file": s.filePath})
		return true
	}
	if sm.Topic != topic {
		return true
	}
	if sm.UUID == "" {
		sm.UUID = ids.CreateULID()
	}

	for {
		msg := message.NewMessage(sm.UUID, payload)
		for k, v := range sm.Metadata {
			msg.Metadata.Set(k, v)
		}
		msgCtx, cancel := context.WithCancel(ctx)
		msg.SetContext(msgCtx)

		select {
		case out <- msg:
		case <-ctx.Done():
			cancel()
			return false
		}

		select {
		case <-msg.Acked():
			cancel()
			return true
		case <-msg.Nacked():
			cancel()
			s.logger.Debug("Message nacked, redelivering", watermill.LogFields{"uuid": msg.UUID})
			select {
			case <-time.After(RedeliveryDelay):
			case <-ctx.Done():
				return false
			}
		case <-ctx.Done():
			cancel()
			return false
		}
	}
}

// Close stops every subscription and waits for them to finish.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
	s.wg.Wait()
	return nil
}
