package worker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/hydrosense/importworker/internal/ids"
	"github.com/hydrosense/importworker/internal/jsoncodec"
	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

// BusJobDispatcher publishes job envelopes back onto a source's request
// subject, closing the pipeline loop through the bus.
type BusJobDispatcher struct {
	publisher message.Publisher
	subject   string
}

// NewBusJobDispatcher binds a dispatcher to one request subject.
func NewBusJobDispatcher(publisher message.Publisher, subject string) *BusJobDispatcher {
	return &BusJobDispatcher{publisher: publisher, subject: subject}
}

func (d *BusJobDispatcher) Dispatch(ctx context.Context, job *model.Job) error {
	payload, err := jsoncodec.Marshal(job)
	if err != nil {
		return err
	}

	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.SetContext(ctx)
	return d.publisher.Publish(d.subject, msg)
}

// RecordProducer publishes record envelopes, resolving the configured
// subject template against each record's context at publish time.
// Publishing never blocks the caller: the outcome reaches the done
// callback and the counters, nothing else.
type RecordProducer struct {
	publisher message.Publisher
	template  string
	logger    logging.ServiceLogger
	metrics   *Metrics
}

// NewRecordProducer binds a producer to one publish subject template.
func NewRecordProducer(publisher message.Publisher, template string, logger logging.ServiceLogger, metrics *Metrics) *RecordProducer {
	return &RecordProducer{
		publisher: publisher,
		template:  template,
		logger:    logger,
		metrics:   metrics,
	}
}

func (p *RecordProducer) PublishRecord(rec *model.RecordMessage, done func(error)) {
	go func() {
		err := p.publish(rec)
		if p.metrics != nil {
			if err != nil {
				p.metrics.PublishErrors.Inc()
			} else {
				p.metrics.RecordsPublished.Inc()
			}
		}
		if done != nil {
			done(err)
		}
	}()
}

func (p *RecordProducer) publish(rec *model.RecordMessage) error {
	subject, err := ResolveSubject(p.template, rec.Context)
	if err != nil {
		return err
	}

	payload, err := jsoncodec.Marshal(rec)
	if err != nil {
		return err
	}

	return p.publisher.Publish(subject, message.NewMessage(ids.CreateULID(), payload))
}
