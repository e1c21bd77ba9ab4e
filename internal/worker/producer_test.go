package worker

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrosense/importworker/internal/jsoncodec"
	"github.com/hydrosense/importworker/internal/model"
)

func TestRecordProducerPublishesToResolvedSubject(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "hillside.importRecords.out")
	require.NoError(t, err)

	p := NewRecordProducer(pubSub, "{org_slug}.importRecords.out", testLogger(), nil)

	done := make(chan error, 1)
	p.PublishRecord(&model.RecordMessage{
		Context: map[string]any{"org_slug": "hillside", "upload_id": "upload-1"},
		Payload: map[string]any{"time": int64(1509576300000), "BattV_Min": 12.45},
	}, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publish outcome never reported")
	}

	select {
	case msg := <-messages:
		var rec model.RecordMessage
		require.NoError(t, jsoncodec.Unmarshal(msg.Payload, &rec))
		assert.Equal(t, "upload-1", rec.Context["upload_id"])
		assert.Equal(t, float64(1509576300000), rec.Payload["time"])
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("record never arrived")
	}
}

func TestRecordProducerReportsUnresolvedSubject(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	p := NewRecordProducer(pubSub, "{org_slug}.importRecords.out", testLogger(), nil)

	done := make(chan error, 1)
	p.PublishRecord(&model.RecordMessage{
		Context: map[string]any{},
		Payload: map[string]any{"time": int64(0)},
	}, func(err error) { done <- err })

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "org_slug")
	case <-time.After(5 * time.Second):
		t.Fatal("publish outcome never reported")
	}
}

func TestBusJobDispatcherRoundTrip(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "acme.fileImport.v2.req.0")
	require.NoError(t, err)

	d := NewBusJobDispatcher(pubSub, "acme.fileImport.v2.req.0")
	require.NoError(t, d.Dispatch(ctx, &model.Job{
		ID:          "fetchFiles-upload-1-1700000000000-abc",
		Method:      model.MethodFetchFiles,
		DispatchKey: "upload-1",
	}))

	select {
	case msg := <-messages:
		var job model.Job
		require.NoError(t, jsoncodec.Unmarshal(msg.Payload, &job))
		assert.Equal(t, model.MethodFetchFiles, job.Method)
		assert.Equal(t, "upload-1", job.DispatchKey)
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("job never arrived")
	}
}
