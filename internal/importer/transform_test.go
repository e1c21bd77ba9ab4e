package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

type capturePublisher struct {
	mu      sync.Mutex
	records []*model.RecordMessage
	err     error
}

func (p *capturePublisher) PublishRecord(rec *model.RecordMessage, done func(error)) {
	p.mu.Lock()
	p.records = append(p.records, rec)
	p.mu.Unlock()
	done(p.err)
}

func discardLogger() logging.ServiceLogger {
	return logging.NewSlogServiceLogger(slog.New(slog.DiscardHandler))
}

// loggerFixture builds a datalogger export: one station header line, the
// column names on line 2, units and aggregation rows on lines 3 and 4,
// then rows recorded every 15 minutes in station-local time.
func loggerFixture(rows int) string {
	var b strings.Builder
	b.WriteString(`"TOA5","CR1000_WS","CR1000","12345","CR1000.Std.31","CPU:ws.CR1","1138","TenMin"` + "\n")
	b.WriteString(`"TIMESTAMP","RECORD","BattV_Min","PTemp_C_Avg"` + "\n")
	b.WriteString(`"TS","RN","Volts","Deg C"` + "\n")
	b.WriteString(`"","","Min","Avg"` + "\n")

	start := time.Date(2017, 11, 1, 14, 45, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		ts := start.Add(time.Duration(i) * 15 * time.Minute)
		temp := fmt.Sprintf("%.2f", 20.5+float64(i)*0.1)
		if i == 5 {
			temp = "NAN"
		}
		fmt.Fprintf(&b, "\"%s\",%d,12.45,%s\n", ts.Format("2006-01-02 15:04:05"), i+1, temp)
	}
	return b.String()
}

func fixtureOptions() *Options {
	// The fixture's clock runs 8 hours behind UTC, hence time_adjust.
	opts, err := ParseOptions(map[string]any{
		"from_line":    2,
		"skip_lines":   map[string]any{"at": []any{3, 4}},
		"skip_columns": []any{"RECORD"},
		"time_adjust":  28800,
	})
	if err != nil {
		panic(err)
	}
	return opts
}

func TestTransformLoggerExport(t *testing.T) {
	opts := fixtureOptions()
	pub := &capturePublisher{}

	src := NewCSVSource(strings.NewReader(loggerFixture(30)), opts)
	stats, err := Transform(context.Background(), src, opts, pub, PublishScope{
		File:     model.FileRef{Name: "ws_tenmin.dat", Path: "/tmp/ws_tenmin.dat"},
		ReqID:    "processFiles-abc",
		UploadID: "upload-1",
		OrgSlug:  "hillside",
	}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, int64(30), stats.RecordCount)
	assert.Equal(t, int64(2), stats.SkippedRecordCount)
	assert.Equal(t, int64(30), stats.PublishCount)
	assert.Equal(t, int64(0), stats.PublishErrorCount)

	require.NotNil(t, stats.TimeMin)
	require.NotNil(t, stats.TimeMax)
	assert.Equal(t, int64(1509576300000), *stats.TimeMin)
	assert.Equal(t, int64(1509602400000), *stats.TimeMax)

	require.Len(t, pub.records, 30)

	first := pub.records[0]
	assert.Equal(t, int64(1509576300000), first.Payload["time"])
	assert.Equal(t, 12.45, first.Payload["BattV_Min"])
	assert.NotContains(t, first.Payload, "RECORD")
	assert.NotContains(t, first.Payload, "TIMESTAMP")

	assert.Equal(t, "processFiles-abc", first.Context["req_id"])
	assert.Equal(t, "upload-1", first.Context["upload_id"])
	assert.Equal(t, "hillside", first.Context["org_slug"])
	assert.Equal(t, model.FileRef{Name: "ws_tenmin.dat", Path: "/tmp/ws_tenmin.dat"}, first.Context["file"])

	// Row 6 carries the sentinel token; it must publish as the NaN value.
	assert.Equal(t, model.NaN, pub.records[5].Payload["PTemp_C_Avg"])
}

func TestTransformUserContextMerging(t *testing.T) {
	opts := fixtureOptions()
	opts.Context = map[string]any{
		"org_slug":   "override",
		"station_id": "st-9",
		"req_id":     "user-req",
	}
	pub := &capturePublisher{}

	src := NewCSVSource(strings.NewReader(loggerFixture(2)), opts)
	_, err := Transform(context.Background(), src, opts, pub, PublishScope{
		ReqID:   "system-req",
		OrgSlug: "hillside",
	}, discardLogger())
	require.NoError(t, err)
	require.NotEmpty(t, pub.records)

	ctx := pub.records[0].Context
	assert.Equal(t, "override", ctx["org_slug"], "user org_slug wins")
	assert.Equal(t, "st-9", ctx["station_id"], "user extras pass through")
	assert.Equal(t, "system-req", ctx["req_id"], "system req_id wins")
	assert.NotNil(t, ctx["imported_at"])
}

func TestTransformTimeColumnNotFound(t *testing.T) {
	opts := &Options{}
	pub := &capturePublisher{}

	src := NewCSVSource(strings.NewReader("a,b\n1,2\n"), opts)
	_, err := Transform(context.Background(), src, opts, pub, PublishScope{}, discardLogger())
	require.ErrorIs(t, err, ErrTimeColumnNotFound)
}

func TestTransformTimeValueNotValid(t *testing.T) {
	opts := &Options{}
	pub := &capturePublisher{}

	src := NewCSVSource(strings.NewReader("TIMESTAMP,v\nnot a time at all zzz,2\n"), opts)
	_, err := Transform(context.Background(), src, opts, pub, PublishScope{}, discardLogger())
	require.ErrorIs(t, err, ErrTimeValueNotValid)
}

func TestTransformPublishErrorsAreSoft(t *testing.T) {
	opts := fixtureOptions()
	pub := &capturePublisher{err: fmt.Errorf("connection reset")}

	src := NewCSVSource(strings.NewReader(loggerFixture(3)), opts)
	stats, err := Transform(context.Background(), src, opts, pub, PublishScope{}, discardLogger())
	require.NoError(t, err, "publish failures never abort the file")

	assert.Equal(t, int64(3), stats.RecordCount)
	assert.Equal(t, int64(0), stats.PublishCount)
	assert.Equal(t, int64(3), stats.PublishErrorCount)
}

func TestTransformCustomTimeColumnAndFormat(t *testing.T) {
	opts := &Options{
		TimeColumn: "logged",
		TimeFormat: "02/01/2006 15:04",
	}
	pub := &capturePublisher{}

	src := NewCSVSource(strings.NewReader("logged,v\n01/11/2017 14:45,7\n"), opts)
	stats, err := Transform(context.Background(), src, opts, pub, PublishScope{}, discardLogger())
	require.NoError(t, err)

	require.Len(t, pub.records, 1)
	assert.Equal(t, int64(1509547500000), pub.records[0].Payload["time"])
	assert.Equal(t, int64(1), stats.RecordCount)
}

func TestTransformNumericTimeIsEpochMillis(t *testing.T) {
	opts := &Options{}
	pub := &capturePublisher{}

	src := NewCSVSource(strings.NewReader("time,v\n1509547500000,7\n"), opts)
	_, err := Transform(context.Background(), src, opts, pub, PublishScope{}, discardLogger())
	require.NoError(t, err)

	require.Len(t, pub.records, 1)
	assert.Equal(t, int64(1509547500000), pub.records[0].Payload["time"])
}

func TestTransformNullTokens(t *testing.T) {
	opts := &Options{CastNull: true}
	pub := &capturePublisher{}

	src := NewCSVSource(strings.NewReader("time,v\n1000,NULL\n"), opts)
	_, err := Transform(context.Background(), src, opts, pub, PublishScope{}, discardLogger())
	require.NoError(t, err)

	require.Len(t, pub.records, 1)
	v, ok := pub.records[0].Payload["v"]
	require.True(t, ok, "nulled column stays present")
	assert.Nil(t, v)
}

func TestTransformCastDefaults(t *testing.T) {
	// With no cast options the NaN cast is on and the null cast is off:
	// NAN cells become NaN markers while literal NULL passes through.
	opts := &Options{}
	pub := &capturePublisher{}

	src := NewCSVSource(strings.NewReader("time,a,b\n1000,NAN,NULL\n"), opts)
	_, err := Transform(context.Background(), src, opts, pub, PublishScope{}, discardLogger())
	require.NoError(t, err)

	require.Len(t, pub.records, 1)
	assert.Equal(t, model.NaN, pub.records[0].Payload["a"])
	assert.Equal(t, "NULL", pub.records[0].Payload["b"])
}

func TestTransformCastDisabled(t *testing.T) {
	opts := &Options{CastNaN: false, CastNull: false}
	pub := &capturePublisher{}

	src := NewCSVSource(strings.NewReader("time,a,b\n1000,NAN,NULL\n"), opts)
	_, err := Transform(context.Background(), src, opts, pub, PublishScope{}, discardLogger())
	require.NoError(t, err)

	require.Len(t, pub.records, 1)
	assert.Equal(t, "NAN", pub.records[0].Payload["a"])
	assert.Equal(t, "NULL", pub.records[0].Payload["b"])
}
