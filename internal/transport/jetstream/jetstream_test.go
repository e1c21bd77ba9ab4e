package jetstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultStreamName, cfg.StreamName)
	assert.Equal(t, DefaultAckWait, cfg.AckWait)

	cfg = Config{StreamName: "JOBS", AckWait: DefaultAckWait * 2}.withDefaults()
	assert.Equal(t, "JOBS", cfg.StreamName)
	assert.Equal(t, DefaultAckWait*2, cfg.AckWait)
}

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		filter  string
		subject string
		want    bool
	}{
		{"IMPORT.>", "IMPORT.fileImport.v2.req", true},
		{"IMPORT.>", "IMPORT", false},
		{"IMPORT.>", "acme.fileImport.v2.req.host-0", false},
		{"acme.fileImport.v2.req.*", "acme.fileImport.v2.req.host-0", true},
		{"acme.fileImport.v2.req.*", "acme.fileImport.v2.req.host-0.extra", false},
		{"acme.*.v2.req.host-0", "acme.fileImport.v2.req.host-0", true},
		{"acme.fileImport.v2.req.host-0", "acme.fileImport.v2.req.host-0", true},
		{"acme.fileImport.v2.req.host-0", "acme.fileImport.v2.req.host-1", false},
		{">", "anything.at.all", true},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, subjectMatches(tt.filter, tt.subject),
			"filter %q subject %q", tt.filter, tt.subject)
	}
}

func TestIsJobSubject(t *testing.T) {
	tr := &Transport{jobSubjects: map[string]struct{}{
		"acme.fileImport.v2.req.host-0": {},
		"acme.fileImport.v2.req.*":      {},
	}}

	assert.True(t, tr.isJobSubject("acme.fileImport.v2.req.host-0"))
	assert.True(t, tr.isJobSubject("acme.fileImport.v2.req.host-7"))
	assert.False(t, tr.isJobSubject("acme.importRecords.out"))
}
