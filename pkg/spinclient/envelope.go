package spinclient

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"net/http"
	"strings"
)

// Callback result codes understood by the provider
const (
	CodeSuccess             = 0
	CodeInsufficientBalance = 1
	CodeProcessingError     = 2
)

// Envelope is the only response shape returned to provider callbacks
type Envelope struct {
	Error   int   `json:"error"`
	Balance int64 `json:"balance"`
}

// SuccessEnvelope reports a processed callback and the resulting balance
func SuccessEnvelope(balance int64) Envelope {
	return Envelope{Error: CodeSuccess, Balance: balance}
}

// InsufficientBalanceEnvelope rejects a debit the player cannot cover
func InsufficientBalanceEnvelope(balance int64) Envelope {
	return Envelope{Error: CodeInsufficientBalance, Balance: balance}
}

// ProcessingErrorEnvelope reports any other callback failure
func ProcessingErrorEnvelope(balance int64) Envelope {
	return Envelope{Error: CodeProcessingError, Balance: balance}
}

// JSON returns the wire form of the envelope
func (e Envelope) JSON() []byte {
	// two integer fields never fail to marshal
	b, _ := json.Marshal(e)
	return b
}

func (e Envelope) String() string {
	return string(e.JSON())
}

// HasError reports whether the envelope carries a non-success code
func (e Envelope) HasError() bool {
	return e.Error > 0
}

// WriteEnvelope writes env as an application/json 200 response. The
// error is the one from writing the body; headers are already sent then.
func WriteEnvelope(w http.ResponseWriter, env Envelope) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(env.JSON())
	return err
}

// HasError classifies a callback or API response. input may be an
// Envelope, a decoded map, or raw JSON as string or bytes.
//
// It returns true when the "error" field is missing, is not an integer,
// or is a positive integer. Input that cannot be decoded counts as an error.
func HasError(input any) bool {
	switch v := input.(type) {
	case Envelope:
		return v.HasError()
	case *Envelope:
		if v == nil {
			return true
		}
		return v.HasError()
	case map[string]any:
		return fieldHasError(v)
	case string:
		return rawHasError([]byte(v))
	case []byte:
		return rawHasError(v)
	case json.RawMessage:
		return rawHasError(v)
	default:
		return true
	}
}

func rawHasError(raw []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return true
	}
	return fieldHasError(m)
}

func fieldHasError(m map[string]any) bool {
	code, ok := m["error"]
	if !ok || code == nil {
		return true
	}

	n, ok := integerValue(code)
	if !ok {
		return true
	}
	return n > 0
}

// integerValue extracts an integer from the types encoding/json and Go
// callers put into a map. Floats count only when they have no fraction.
// Integers beyond the int64 range are clamped so their sign survives.
func integerValue(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		s := n.String()
		if s == "" || strings.ContainsAny(s, ".eE") {
			return 0, false
		}
		if _, ok := new(big.Int).SetString(s, 10); !ok {
			return 0, false
		}
		if s[0] == '-' {
			return math.MinInt64, true
		}
		return math.MaxInt64, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return clampUint(uint64(n)), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return clampUint(n), true
	case float32:
		return floatValue(float64(n))
	case float64:
		return floatValue(n)
	default:
		return 0, false
	}
}

func clampUint(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

func floatValue(n float64) (int64, bool) {
	switch {
	case math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n):
		return 0, false
	case n >= math.MaxInt64:
		return math.MaxInt64, true
	case n < math.MinInt64:
		return math.MinInt64, true
	}
	return int64(n), true
}
