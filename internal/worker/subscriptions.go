package worker

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/hydrosense/importworker/internal/jsoncodec"
	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/transport"
)

// Source describes one configured job source: where its jobs arrive and
// where transformed records go.
type Source struct {
	Description  string      `json:"description,omitempty"`
	PubToSubject string      `json:"pub_to_subject"`
	SubToSubject string      `json:"sub_to_subject"`
	SubOptions   *SubOptions `json:"sub_options,omitempty"`
}

// SubOptions overrides subscription settings per source.
type SubOptions struct {
	// AckWaitMillis is the redelivery timeout. Imports can legitimately
	// run long, so sources typically set this well above the default.
	AckWaitMillis int64 `json:"ack_wait,omitempty"`

	// DurableName keeps the subscription position across restarts.
	DurableName string `json:"durable_name,omitempty"`
}

// ParseSources decodes raw source entries, merging defaults into each
// entry first. Entry values win over defaults key by key.
func ParseSources(raw []map[string]any, defaults map[string]any) ([]Source, error) {
	merged := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		m := make(map[string]any, len(defaults)+len(entry))
		maps.Copy(m, defaults)
		maps.Copy(m, entry)
		merged = append(merged, m)
	}

	payload, err := jsoncodec.Marshal(merged)
	if err != nil {
		return nil, err
	}

	var sources []Source
	if err := jsoncodec.Unmarshal(payload, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// Manager owns the subscription set lifecycle. Source configuration is
// versioned: UpdateSources stamps a new version, and the reconcile loop
// tears the previous set down completely before building the next, so
// dispatchers of an older version never run alongside the new set. Each
// in-flight message carries its set's version and is deferred to
// redelivery when the versions no longer match.
type Manager struct {
	base      Context
	transport transport.Transport
	identity  Identity
	methods   Methods
	logger    logging.ServiceLogger

	// Interval between reconcile checks. Zero means 500ms.
	Interval time.Duration

	version atomic.Int64
	built   atomic.Int64

	mu        sync.Mutex
	sources   []Source
	cancelSet context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager builds a manager around a shared handler context. The
// context's Jobs and Records fields are bound per source at build time.
func NewManager(base Context, tr transport.Transport, identity Identity, methods Methods, logger logging.ServiceLogger) *Manager {
	if methods == nil {
		methods = DefaultMethods()
	}
	return &Manager{
		base:      base,
		transport: tr,
		identity:  identity,
		methods:   methods,
		logger:    logger,
	}
}

// UpdateSources replaces the source configuration and bumps the version.
// The new set takes effect on the next reconcile pass. Returns the
// stamped version.
func (m *Manager) UpdateSources(sources []Source) int64 {
	m.mu.Lock()
	m.sources = append([]Source(nil), sources...)
	m.mu.Unlock()
	return m.version.Add(1)
}

// Version is the latest stamped configuration version.
func (m *Manager) Version() int64 { return m.version.Load() }

// BuiltVersion is the version of the currently running set.
func (m *Manager) BuiltVersion() int64 { return m.built.Load() }

// Run reconciles the subscription set until ctx is cancelled, then tears
// the set down.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.Interval
	if interval == 0 {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return nil
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

func (m *Manager) reconcile(ctx context.Context) {
	version := m.version.Load()
	if version == m.built.Load() {
		return
	}
	if m.transport.Subscriber == nil || m.base.Upstream == nil {
		return
	}

	m.mu.Lock()
	sources := m.sources
	m.mu.Unlock()
	if len(sources) == 0 {
		return
	}

	// The prior set must be fully gone before the next one starts, so a
	// message is never handled by two dispatcher generations at once.
	m.teardown()

	setCtx, cancel := context.WithCancel(ctx)
	built := 0
	for _, src := range sources {
		if err := m.buildSource(setCtx, src, version); err != nil {
			m.logger.Error("Subscribe error", err, logging.LogFields{
				"sub_to_subject": src.SubToSubject,
			})
			continue
		}
		built++
	}

	m.mu.Lock()
	m.cancelSet = cancel
	m.mu.Unlock()
	m.built.Store(version)

	m.logger.Info("Subscriptions ready", logging.LogFields{
		"version": version,
		"count":   built,
	})
}

func (m *Manager) buildSource(ctx context.Context, src Source, version int64) error {
	subject, err := ResolveSubject(src.SubToSubject, m.identity.Fields())
	if err != nil {
		return err
	}

	opts := transport.SourceOptions{
		Subject:     subject,
		MaxInFlight: 1,
	}
	if so := src.SubOptions; so != nil {
		opts.AckWait = time.Duration(so.AckWaitMillis) * time.Millisecond
		opts.DurableName = so.DurableName
	}

	var ch <-chan *message.Message
	if ss, ok := m.transport.Subscriber.(transport.SourceSubscriber); ok {
		ch, err = ss.SubscribeSource(ctx, opts)
	} else {
		ch, err = m.transport.Subscriber.Subscribe(ctx, subject)
	}
	if err != nil {
		return err
	}

	wctx := m.base.WithRecords(
		NewRecordProducer(m.transport.Publisher, src.PubToSubject, m.base.Logger, m.base.Metrics))
	wctx.Jobs = NewBusJobDispatcher(m.transport.Publisher, subject)

	dispatcher := NewDispatcher(wctx, m.methods, subject, version, m.Version)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		dispatcher.Run(ctx, ch)
	}()
	return nil
}

func (m *Manager) teardown() {
	m.mu.Lock()
	cancel := m.cancelSet
	m.cancelSet = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}
