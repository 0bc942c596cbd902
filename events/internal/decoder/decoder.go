// Package decoder turns raw inbound payloads into model.RawEvent records.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/billhawk/billhawk/events/internal/model"
)

// ErrDecode is matched by every decoding failure.
var ErrDecode = errors.New("decode error")

// Error describes why a payload could not be decoded.
type Error struct {
	Field  string
	Detail string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "decode: " + e.Detail
	}
	return fmt.Sprintf("decode: %s: %s", e.Field, e.Detail)
}

// FailureReason implements model.Reasoned.
func (e *Error) FailureReason() model.FailureReason {
	return model.ReasonDecodeError
}

// Is lets errors.Is(err, ErrDecode) match.
func (e *Error) Is(target error) bool {
	return target == ErrDecode
}

func fail(field, format string, args ...any) *Error {
	return &Error{Field: field, Detail: fmt.Sprintf(format, args...)}
}

type wirePayload struct {
	OrganizationID          *string         `json:"organization_id"`
	TransactionID           *string         `json:"transaction_id"`
	ExternalSubscriptionID  *string         `json:"external_subscription_id"`
	Code                    *string         `json:"code"`
	Timestamp               json.RawMessage `json:"timestamp"`
	Properties              json.RawMessage `json:"properties"`
	Source                  *string         `json:"source"`
	PreciseTotalAmountCents json.RawMessage `json:"precise_total_amount_cents"`
}

// Decode parses payload into a RawEvent. receivedAt is used when the payload
// carries no timestamp. Every failure is an *Error.
func Decode(payload []byte, receivedAt time.Time) (*model.RawEvent, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fail("", "empty payload")
	}
	if trimmed[0] != '{' {
		return nil, fail("", "payload is not a JSON object")
	}

	var w wirePayload
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fail("", "malformed JSON: %v", err)
	}

	orgID, err := requiredString("organization_id", w.OrganizationID)
	if err != nil {
		return nil, err
	}
	code, err := requiredString("code", w.Code)
	if err != nil {
		return nil, err
	}
	txID, err := requiredString("transaction_id", w.TransactionID)
	if err != nil {
		return nil, err
	}

	ts, err := decodeTimestamp(w.Timestamp, receivedAt)
	if err != nil {
		return nil, err
	}

	props, err := decodeProperties(w.Properties)
	if err != nil {
		return nil, err
	}

	precise, err := decodeAmount(w.PreciseTotalAmountCents)
	if err != nil {
		return nil, err
	}

	return &model.RawEvent{
		OrganizationID:          orgID,
		TransactionID:           txID,
		ExternalSubscriptionID:  deref(w.ExternalSubscriptionID),
		Code:                    code,
		Timestamp:               ts,
		Properties:              props,
		Source:                  deref(w.Source),
		PreciseTotalAmountCents: precise,
	}, nil
}

func requiredString(field string, v *string) (string, error) {
	if v == nil {
		return "", fail(field, "is required")
	}
	if strings.TrimSpace(*v) == "" {
		return "", fail(field, "must not be blank")
	}
	return *v, nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// maxTimestamp is 9999-12-31T23:59:59Z in seconds since the epoch.
const maxTimestamp = 253402300799

// decodeTimestamp accepts seconds since the epoch as a JSON number or a
// numeric string. Fractional seconds are kept to microsecond precision.
func decodeTimestamp(raw json.RawMessage, receivedAt time.Time) (time.Time, error) {
	if isNull(raw) {
		return receivedAt.UTC(), nil
	}

	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fail("timestamp", "invalid string: %v", err)
		}
		text = strings.TrimSpace(s)
	}

	if !isJSONNumber(text) {
		return time.Time{}, fail("timestamp", "not a number: %q", text)
	}
	secs, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(secs, 0) || secs < 0 {
		return time.Time{}, fail("timestamp", "invalid value: %q", text)
	}
	if secs > maxTimestamp {
		return time.Time{}, fail("timestamp", "out of range: %q", text)
	}

	whole, frac := math.Modf(secs)
	micros := math.Round(frac * 1e6)
	return time.Unix(int64(whole), int64(micros)*int64(time.Microsecond)).UTC(), nil
}

func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

func decodeProperties(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, fail("properties", "is required")
	}
	if raw[0] != '{' {
		return nil, fail("properties", "must be an object")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fail("properties", "malformed: %v", err)
	}

	for k, v := range props {
		switch v.(type) {
		case nil, string, bool, json.Number:
		default:
			return nil, fail("properties", "value of %q is not a scalar", k)
		}
	}
	return props, nil
}

func decodeAmount(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fail("precise_total_amount_cents", "invalid string: %v", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fail("precise_total_amount_cents", "must be a number or string")
	}
	return n.String(), nil
}
