package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hydrosense/importworker/internal/jsoncodec"
	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

// Dispatcher consumes one source's job messages, routes each through the
// method table and settles acknowledgement by outcome. A handler that
// completes acknowledges its message even when the result carries a
// structured error; only decode failures, unknown methods and errors that
// escape the handler leave the message unacknowledged so the bus
// redelivers it.
type Dispatcher struct {
	wctx    Context
	methods Methods
	subject string

	// version is the subscription-set version this dispatcher belongs
	// to; currentVersion reads the manager's live version. A mismatch
	// means a rebuild is pending and the message is deferred untouched.
	version        int64
	currentVersion func() int64

	tracer trace.Tracer
}

// NewDispatcher builds a dispatcher for one subscribed subject.
func NewDispatcher(wctx Context, methods Methods, subject string, version int64, currentVersion func() int64) *Dispatcher {
	return &Dispatcher{
		wctx:           wctx,
		methods:        methods,
		subject:        subject,
		version:        version,
		currentVersion: currentVersion,
		tracer:         otel.Tracer("importworker/worker"),
	}
}

// Run processes messages until the channel closes.
func (d *Dispatcher) Run(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		d.handle(ctx, msg)
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg *message.Message) {
	log := d.wctx.Logger.With(logging.LogFields{
		"sub_subject": d.subject,
		"msg_uuid":    msg.UUID,
	})

	if d.currentVersion != nil && d.currentVersion() != d.version {
		if m := d.wctx.Metrics; m != nil {
			m.JobsDeferred.Inc()
		}
		log.Trace("Deferring message during reconfiguration", nil)
		msg.Nack()
		return
	}

	var job model.Job
	if err := jsoncodec.Unmarshal(msg.Payload, &job); err != nil {
		log.Error("Message error", err, nil)
		d.failed("decode")
		msg.Nack()
		return
	}

	log = log.With(logging.LogFields{"import_id": job.ID, "method": job.Method})

	method, err := d.methods.Lookup(job.Method)
	if err != nil {
		log.Error("Processing error", err, nil)
		d.failed("route")
		msg.Nack()
		return
	}

	ctx, span := d.tracer.Start(ctx, "import."+job.Method,
		trace.WithAttributes(
			attribute.String("import.method", job.Method),
			attribute.String("import.dispatch_key", job.DispatchKey),
			attribute.String("bus.subject", d.subject),
		))
	defer span.End()

	startedAt := time.Now()
	res, err := method(ctx, d.wctx, &job)
	finishedAt := time.Now()

	if err == nil && res == nil {
		err = errors.New("Import result undefined")
	}
	if err != nil {
		span.RecordError(err)
		log.Error("Processing error", err, nil)
		d.failed("handler")
		msg.Nack()
		return
	}

	outcome := "ok"
	if res.Error != nil {
		outcome = "error"
	}

	log.Info("Import", logging.LogFields{
		"outcome":     outcome,
		"started_at":  startedAt.UTC().Format(time.RFC3339Nano),
		"finished_at": finishedAt.UTC().Format(time.RFC3339Nano),
	})
	if m := d.wctx.Metrics; m != nil {
		m.JobsProcessed.WithLabelValues(job.Method, outcome).Inc()
	}
	msg.Ack()
}

func (d *Dispatcher) failed(reason string) {
	if m := d.wctx.Metrics; m != nil {
		m.JobsFailed.WithLabelValues(reason).Inc()
	}
}
