package importer

import (
	"fmt"

	"github.com/hydrosense/importworker/internal/jsoncodec"
)

// SkipLines selects source lines to drop: explicit 1-based line numbers,
// an inclusive lower bound, and an inclusive upper bound. A line matching
// any rule is skipped entirely and counted, never published.
type SkipLines struct {
	At   []int64 `json:"at,omitempty"`
	From *int64  `json:"from,omitempty"`
	To   *int64  `json:"to,omitempty"`
}

// Matches reports whether the 1-based line number is selected. The
// bounds apply whenever they are present, zero included.
func (s *SkipLines) Matches(line int64) bool {
	if s == nil {
		return false
	}
	for _, at := range s.At {
		if line == at {
			return true
		}
	}
	if s.From != nil && line >= *s.From {
		return true
	}
	if s.To != nil && line <= *s.To {
		return true
	}
	return false
}

// Options are the recognised csvStream transform options. CastNaN and
// CastNull accept a boolean, a single token, or a token list, matching
// the upload spec's wire format.
type Options struct {
	CastNaN     any            `json:"cast_nan,omitempty"`
	CastNull    any            `json:"cast_null,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	SkipColumns []string       `json:"skip_columns,omitempty"`
	SkipLines   *SkipLines     `json:"skip_lines,omitempty"`
	TimeAdjust  int64          `json:"time_adjust,omitempty"`
	TimeColumn  string         `json:"time_column,omitempty"`
	TimeFormat  string         `json:"time_format,omitempty"`

	// Low-level parse options, passed through to the CSV source.
	Delimiter        string `json:"delimiter,omitempty"`
	Comment          string `json:"comment,omitempty"`
	FromLine         int64  `json:"from_line,omitempty"`
	ToLine           int64  `json:"to_line,omitempty"`
	Trim             bool   `json:"trim,omitempty"`
	RelaxColumnCount bool   `json:"relax_column_count,omitempty"`
}

// ParseOptions decodes an upload spec's options object.
func ParseOptions(raw map[string]any) (*Options, error) {
	opts := &Options{}
	if len(raw) == 0 {
		return opts, nil
	}

	data, err := jsoncodec.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid import options: %w", err)
	}
	if err := jsoncodec.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("invalid import options: %w", err)
	}
	return opts, nil
}

var (
	defaultNaNTokens  = []string{"NAN", "NaN"}
	defaultNullTokens = []string{"NULL", "null"}
)

// NaNTokens resolves the cast_nan option to its literal token list.
// The NaN cast is on by default: absent or true yields the default
// tokens, false disables it.
func (o *Options) NaNTokens() []string {
	if o.CastNaN == nil {
		return defaultNaNTokens
	}
	return castTokens(o.CastNaN, defaultNaNTokens)
}

// NullTokens resolves the cast_null option to its literal token list.
// The null cast is opt-in: absent means literal cells pass through
// unchanged.
func (o *Options) NullTokens() []string {
	if o.CastNull == nil {
		return nil
	}
	return castTokens(o.CastNull, defaultNullTokens)
}

func castTokens(value any, defaults []string) []string {
	switch v := value.(type) {
	case bool:
		if v {
			return defaults
		}
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		tokens := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				tokens = append(tokens, s)
			}
		}
		return tokens
	default:
		return nil
	}
}

// TimeColumns returns the candidate time field names: the configured
// column if set, else the default candidate list.
func (o *Options) TimeColumns() []string {
	if o.TimeColumn != "" {
		return []string{o.TimeColumn}
	}
	return []string{"TIME", "time", "TIMESTAMP", "timestamp"}
}
