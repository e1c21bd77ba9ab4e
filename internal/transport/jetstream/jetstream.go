// Package jetstream provides a NATS JetStream transport. It is the only
// transport that fully honours per-source subscription options (manual
// ack, ack-wait, durable names, in-flight limits), which is what the
// import worker runs against in production.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/hydrosense/importworker/internal/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "jetstream"

const (
	// DefaultAckWait is the ack wait applied when a source does not
	// override it.
	DefaultAckWait = 30 * time.Second

	// DefaultStreamName is used when no stream is configured.
	DefaultStreamName = "IMPORT"
)

func init() {
	transport.Register(TransportName, Build)
}

// Build creates a new JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetJetStreamStream(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Config holds JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream holding the job subjects.
	// Defaults to "IMPORT".
	StreamName string

	// AckWait is the default ack wait for subscriptions that do not
	// override it.
	AckWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	return c
}

// Transport implements Publisher, Subscriber, and SourceSubscriber for
// NATS JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subscriptions []*nats.Subscription
	jobSubjects   map[string]struct{}
	subMu         sync.Mutex

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
}

// New creates a new JetStream transport.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &Transport{
		nc:          nc,
		js:          js,
		config:      cfg,
		logger:      logger,
		jobSubjects: make(map[string]struct{}),
		closedChan:  make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		Retention: nats.InterestPolicy,
		MaxAge:    24 * time.Hour * 7,
	}

	_, err := t.js.AddStream(streamCfg)
	if err != nil {
		if _, err = t.js.UpdateStream(streamCfg); err != nil && t.logger != nil {
			t.logger.Info("JetStream stream exists", watermill.LogFields{
				"stream": t.config.StreamName,
			})
		}
	}

	return nil
}

// ensureSubject widens the stream's subject space to cover a configured
// source subject. Source subjects come from the sources file and are not
// required to live under the "<stream>.>" namespace, so the stream has
// to be grown to match the configuration rather than the other way
// around.
func (t *Transport) ensureSubject(subject string) error {
	info, err := t.js.StreamInfo(t.config.StreamName)
	if err != nil {
		return fmt.Errorf("failed to look up stream %q: %w", t.config.StreamName, err)
	}

	for _, s := range info.Config.Subjects {
		if subjectMatches(s, subject) {
			return nil
		}
	}

	cfg := info.Config
	cfg.Subjects = append(cfg.Subjects, subject)
	if _, err := t.js.UpdateStream(&cfg); err != nil {
		return fmt.Errorf("failed to add subject %q to stream %q: %w", subject, t.config.StreamName, err)
	}

	if t.logger != nil {
		t.logger.Info("Added subject to JetStream stream", watermill.LogFields{
			"stream":  t.config.StreamName,
			"subject": subject,
		})
	}

	return nil
}

// subjectMatches reports whether a stream subject filter covers a
// concrete subject, honouring the NATS wildcards "*" (one token) and
// ">" (one or more trailing tokens).
func subjectMatches(filter, subject string) bool {
	ft := strings.Split(filter, ".")
	st := strings.Split(subject, ".")
	for i, tok := range ft {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(ft) == len(st)
}

// Publish publishes messages to the given subject. Subjects outside the
// worker's stream (record output subjects owned by downstream consumers)
// fall back to core NATS publishing.
func (t *Transport) Publish(subject string, messages ...*message.Message) error {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return errors.New("transport is closed")
	}
	t.closedMu.RUnlock()

	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}

		natsMsg := &nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}

		if _, err := t.js.PublishMsg(natsMsg); err != nil {
			if !errors.Is(err, nats.ErrNoStreamResponse) {
				return fmt.Errorf("failed to publish to JetStream: %w", err)
			}
			// Job subjects must land in the stream or the dispatch loses
			// its at-least-once guarantee. Only record output subjects,
			// whose streams belong to downstream consumers, may degrade
			// to core NATS.
			if t.isJobSubject(subject) {
				return fmt.Errorf("no stream accepted job subject %q: %w", subject, err)
			}
			if err := t.nc.PublishMsg(natsMsg); err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}
		}
	}

	return nil
}

// Subscribe subscribes to a subject with default source options.
func (t *Transport) Subscribe(ctx context.Context, subject string) (<-chan *message.Message, error) {
	return t.SubscribeSource(ctx, transport.SourceOptions{
		Subject:     subject,
		MaxInFlight: 1,
	})
}

// SubscribeSource subscribes to a subject honouring the source options:
// explicit acks, delivery starting at "now", and a hard cap on
// unacknowledged deliveries.
func (t *Transport) SubscribeSource(ctx context.Context, opts transport.SourceOptions) (<-chan *message.Message, error) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return nil, errors.New("transport is closed")
	}
	t.closedMu.RUnlock()

	ackWait := opts.AckWait
	if ackWait <= 0 {
		ackWait = t.config.AckWait
	}
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	if err := t.ensureSubject(opts.Subject); err != nil {
		return nil, err
	}

	output := make(chan *message.Message)

	subOpts := []nats.SubOpt{
		nats.ManualAck(),
		nats.DeliverNew(),
		nats.AckWait(ackWait),
		nats.MaxAckPending(maxInFlight),
	}
	if opts.DurableName != "" {
		subOpts = append(subOpts, nats.Durable(opts.DurableName))
	}

	sub, err := t.js.Subscribe(opts.Subject, func(natsMsg *nats.Msg) {
		t.deliver(ctx, natsMsg, output)
	}, subOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %q: %w", opts.Subject, err)
	}

	t.subMu.Lock()
	t.subscriptions = append(t.subscriptions, sub)
	t.jobSubjects[opts.Subject] = struct{}{}
	t.subMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-t.closedChan:
		}
		_ = sub.Unsubscribe()
		close(output)
	}()

	return output, nil
}

// deliver bridges one NATS delivery into a Watermill message and waits
// for the consumer's ack decision before touching the NATS ack state.
func (t *Transport) deliver(ctx context.Context, natsMsg *nats.Msg, output chan<- *message.Message) {
	wmMsg := message.NewMessage(messageID(natsMsg), natsMsg.Data)
	for k, v := range natsMsg.Header {
		if len(v) > 0 {
			wmMsg.Metadata.Set(k, v[0])
		}
	}

	select {
	case output <- wmMsg:
	case <-ctx.Done():
		return
	case <-t.closedChan:
		return
	}

	select {
	case <-wmMsg.Acked():
		if err := natsMsg.Ack(); err != nil && t.logger != nil {
			t.logger.Error("Failed to ack", err, nil)
		}
	case <-wmMsg.Nacked():
		// Leave the delivery unacknowledged. The ack-wait timer is the
		// redelivery authority, not an immediate NAK, so a deferred or
		// failed job retries on the bus's schedule.
	case <-ctx.Done():
	case <-t.closedChan:
	}
}

func (t *Transport) isJobSubject(subject string) bool {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for s := range t.jobSubjects {
		if s == subject || subjectMatches(s, subject) {
			return true
		}
	}
	return false
}

func messageID(natsMsg *nats.Msg) string {
	if id := natsMsg.Header.Get(nats.MsgIdHdr); id != "" {
		return id
	}
	if meta, err := natsMsg.Metadata(); err == nil {
		return fmt.Sprintf("%d", meta.Sequence.Stream)
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// Close closes the JetStream transport.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		_ = sub.Unsubscribe()
	}
	t.subscriptions = nil
	t.subMu.Unlock()

	t.nc.Close()

	return nil
}
