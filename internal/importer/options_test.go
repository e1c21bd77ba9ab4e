package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(map[string]any{
		"time_adjust":  7200,
		"time_column":  "logged_at",
		"skip_columns": []any{"RECORD", "extra"},
		"skip_lines":   map[string]any{"at": []any{3}, "from": 100},
		"delimiter":    "\t",
		"from_line":    2,
		"cast_nan":     []any{"NAN", "-9999"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7200), opts.TimeAdjust)
	assert.Equal(t, []string{"logged_at"}, opts.TimeColumns())
	assert.Equal(t, []string{"RECORD", "extra"}, opts.SkipColumns)
	assert.Equal(t, "\t", opts.Delimiter)
	assert.Equal(t, int64(2), opts.FromLine)
	assert.Equal(t, []string{"NAN", "-9999"}, opts.NaNTokens())

	require.NotNil(t, opts.SkipLines)
	assert.Equal(t, []int64{3}, opts.SkipLines.At)
	require.NotNil(t, opts.SkipLines.From)
	assert.Equal(t, int64(100), *opts.SkipLines.From)
}

func TestParseOptionsEmpty(t *testing.T) {
	opts, err := ParseOptions(nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"NAN", "NaN"}, opts.NaNTokens())
	assert.Nil(t, opts.NullTokens())
	assert.Equal(t, []string{"TIME", "time", "TIMESTAMP", "timestamp"}, opts.TimeColumns())
}

func TestCastTokenForms(t *testing.T) {
	assert.Equal(t, defaultNaNTokens, (&Options{CastNaN: true}).NaNTokens())
	assert.Nil(t, (&Options{CastNaN: false}).NaNTokens())
	assert.Equal(t, []string{"-9999"}, (&Options{CastNaN: "-9999"}).NaNTokens())
	assert.Equal(t, []string{"NULL", "null"}, (&Options{CastNull: true}).NullTokens())
	assert.Nil(t, (&Options{CastNull: false}).NullTokens())
	assert.Equal(t, []string{"NIL", "VOID"}, (&Options{CastNull: []any{"NIL", "VOID"}}).NullTokens())

	// Unrecognised option shapes disable the cast rather than silently
	// reverting to the default tokens.
	assert.Nil(t, (&Options{CastNaN: 7}).NaNTokens())
	assert.Nil(t, (&Options{CastNull: map[string]any{}}).NullTokens())
}

func TestSkipLinesMatches(t *testing.T) {
	var none *SkipLines
	assert.False(t, none.Matches(1))

	s := &SkipLines{At: []int64{3, 4}}
	assert.True(t, s.Matches(3))
	assert.True(t, s.Matches(4))
	assert.False(t, s.Matches(5))

	from := int64(10)
	s = &SkipLines{From: &from}
	assert.False(t, s.Matches(9))
	assert.True(t, s.Matches(10))
	assert.True(t, s.Matches(5000))

	to := int64(4)
	s = &SkipLines{To: &to}
	assert.True(t, s.Matches(1))
	assert.True(t, s.Matches(4))
	assert.False(t, s.Matches(5))

	// An explicit zero bound still applies.
	zero := int64(0)
	s = &SkipLines{From: &zero}
	assert.True(t, s.Matches(1))
	s = &SkipLines{To: &zero}
	assert.False(t, s.Matches(1))
}
