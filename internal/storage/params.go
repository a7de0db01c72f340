package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"piggy/internal/sanitize"
)

// Text is a parameter that binds as text even when it looks numeric, such as
// the last digits of a card ("0042").
type Text string

// paramTextLength bounds any string bound as a parameter.
const paramTextLength = 1000

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1<<53 - 1

var (
	integerLike = regexp.MustCompile(`^\+?\d+$`)
	decimalLike = regexp.MustCompile(`^[+-]?\d+([.,]\d+)?$`)
)

func sanitizeParams(params []any) ([]any, error) {
	out := make([]any, len(params))
	for i, p := range params {
		v, err := sanitizeParam(p)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func sanitizeParam(p any) (any, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case Text:
		return sanitize.Text(string(v), paramTextLength), nil
	case string:
		return sanitizeString(v)
	case json.Number:
		return sanitizeString(v.String())
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return v, nil
	case uint:
		return unsignedParam(uint64(v))
	case uint64:
		return unsignedParam(v)
	case float32, float64:
		if n, ok := sanitize.Number(v, -sanitize.MaxAmount, sanitize.MaxAmount).Get(); ok {
			return n, nil
		}
	case bool:
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidParam, p)
	}
	return nil, fmt.Errorf("%w: %v is not a finite number", ErrInvalidParam, p)
}

// unsignedParam rejects values above maxExactInt instead of clamping them.
func unsignedParam(v uint64) (any, error) {
	if v > maxExactInt {
		return nil, fmt.Errorf("%w: %d is out of range", ErrInvalidParam, v)
	}
	return int64(v), nil
}

// sanitizeString coerces numeric-looking strings: positive integers become
// ids, other decimals become bounded numbers. Everything else binds as text.
func sanitizeString(s string) (any, error) {
	t := strings.TrimSpace(s)
	if integerLike.MatchString(t) {
		if id, ok := sanitize.ID(t).Get(); ok {
			return id, nil
		}
		if strings.Trim(strings.TrimPrefix(t, "+"), "0") == "" {
			return int64(0), nil
		}
		return nil, fmt.Errorf("%w: integer %q out of range", ErrInvalidParam, t)
	}
	if decimalLike.MatchString(t) {
		if n, ok := sanitize.Number(t, -sanitize.MaxAmount, sanitize.MaxAmount).Get(); ok {
			return n, nil
		}
		return nil, fmt.Errorf("%w: number %q", ErrInvalidParam, t)
	}
	return sanitize.Text(s, paramTextLength), nil
}
