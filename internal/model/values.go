package model

// NaNValue is the sentinel a matching cast_nan token is rewritten to.
// JSON has no NaN literal, so it marshals as null on the wire while
// remaining distinguishable from NullValue in memory.
type NaNValue struct{}

func (NaNValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// NaN is the value stored for fields whose token matched cast_nan.
var NaN = NaNValue{}

// NullValue is what a matching cast_null token becomes: JSON null.
var NullValue any = nil
