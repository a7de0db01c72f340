// Package sanitize validates and normalizes untyped input before it reaches persistence.
//
// Every value that crosses the trust boundary (manual entry, backup import, query
// parameters) passes through exactly one of these functions. None of them panics or
// returns an error: an unusable input yields an invalid Result, and callers branch on
// Result.Valid explicitly.
package sanitize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Bounds shared by the storage and backup layers.
const (
	// MaxAmount is the largest monetary value accepted anywhere in the app.
	MaxAmount = 999_999_999.99

	// TextLength bounds free-form descriptions and notes.
	TextLength = 500

	// NameLength bounds names of categories, cards and vaults.
	NameLength = 100

	// ShortLength bounds short codes such as colors, icons and currency codes.
	ShortLength = 32

	// maxSafeInteger is the largest integer a float64 represents exactly.
	maxSafeInteger = 1<<53 - 1
)

// Result is the outcome of a sanitizer. Value is the zero value when Valid is false.
type Result[T any] struct {
	Value T
	Valid bool
}

// Get returns the value and its validity, for use in if-statements.
func (r Result[T]) Get() (T, bool) {
	return r.Value, r.Valid
}

func valid[T any](v T) Result[T] {
	return Result[T]{Value: v, Valid: true}
}

func invalid[T any]() Result[T] {
	return Result[T]{}
}

var (
	numberPattern  = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	integerPattern = regexp.MustCompile(`^\+?\d+$`)
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	// statementPattern matches fragments that only make sense inside SQL. Parameterized
	// statements are the primary defense; this keeps such fragments out of stored text.
	statementPattern = regexp.MustCompile(`(?i)(;|--|/\*|\*/|\b(?:drop|truncate|alter)\s+table\b|\bunion\s+(?:all\s+)?select\b|\bdelete\s+from\b|\binsert\s+into\b|\bexec(?:ute)?\s*\(|\bxp_)`)
)

// Text converts input to a bounded, printable string.
//
// Control characters are removed (tabs and line breaks become spaces), SQL statement
// fragments are stripped, surrounding whitespace is trimmed and the result is
// truncated to maxLength runes. Non-string scalars are formatted; anything else
// yields "".
func Text(input any, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}

	var s string
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		s = v
	case []byte:
		s = string(v)
	case json.Number:
		s = v.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		s = strconv.FormatInt(toInt64(v), 10)
	case float32:
		s = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	default:
		return ""
	}

	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)

	// Removing one fragment can join two halves into a new one ("-;-" -> "--").
	for {
		stripped := statementPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxLength {
		s = string([]rune(s)[:maxLength])
		s = strings.TrimSpace(s)
	}
	return s
}

// Number parses input as a finite number and clamps it into [min, max].
//
// Accepted inputs are Go numeric types, json.Number and numeric strings using either
// a dot or a comma as decimal separator ("12.50", "12,50").
func Number(input any, min, max float64) Result[float64] {
	if min > max || math.IsNaN(min) || math.IsNaN(max) {
		return invalid[float64]()
	}
	n, ok := parseNumber(input)
	if !ok {
		return invalid[float64]()
	}
	return valid(math.Min(math.Max(n, min), max))
}

// NumberInRange is like Number but rejects values outside [min, max] instead of
// clamping them.
func NumberInRange(input any, min, max float64) Result[float64] {
	n, ok := parseNumber(input)
	if !ok || n < min || n > max {
		return invalid[float64]()
	}
	return valid(n)
}

// ID parses input as a positive integer identifier.
func ID(input any) Result[int64] {
	switch v := input.(type) {
	case int, int8, int16, int32, int64:
		if id := toInt64(v); id > 0 {
			return valid(id)
		}
	case uint, uint8, uint16, uint32, uint64:
		id := toInt64(v)
		if id > 0 {
			return valid(id)
		}
	case float32:
		return floatID(float64(v))
	case float64:
		return floatID(v)
	case json.Number:
		return ID(v.String())
	case string:
		s := strings.TrimSpace(v)
		if !integerPattern.MatchString(s) {
			break
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(s, "+"), 10, 64)
		if err == nil && id > 0 {
			return valid(id)
		}
	}
	return invalid[int64]()
}

func floatID(f float64) Result[int64] {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f <= 0 || f > maxSafeInteger {
		return invalid[int64]()
	}
	return valid(int64(f))
}

// ValidateDate reports whether input is a real calendar date written as YYYY-MM-DD.
// "2024-02-30" is rejected because it does not survive a parse/format round trip.
func ValidateDate(input string) bool {
	if !datePattern.MatchString(input) {
		return false
	}
	t, err := time.Parse(time.DateOnly, input)
	if err != nil {
		return false
	}
	return t.Format(time.DateOnly) == input
}

// ValidatePin reports whether input is exactly four ASCII digits.
func ValidatePin(input string) bool {
	if len(input) != 4 {
		return false
	}
	for i := 0; i < len(input); i++ {
		if input[i] < '0' || input[i] > '9' {
			return false
		}
	}
	return true
}

// OneOf normalizes input (trimmed, lower case) and accepts it only if it is one of
// the allowed values.
func OneOf(input any, allowed ...string) Result[string] {
	s, ok := input.(string)
	if !ok {
		return invalid[string]()
	}
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range allowed {
		if s == a {
			return valid(s)
		}
	}
	return invalid[string]()
}

// Bool accepts booleans, 0/1 numbers and the strings "true", "false", "1", "0".
func Bool(input any) Result[bool] {
	switch v := input.(type) {
	case bool:
		return valid(v)
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return valid(true)
		case "false", "0":
			return valid(false)
		}
	default:
		if n, ok := parseNumber(v); ok {
			switch n {
			case 1:
				return valid(true)
			case 0:
				return valid(false)
			}
		}
	}
	return invalid[bool]()
}

func parseNumber(input any) (float64, bool) {
	var f float64
	switch v := input.(type) {
	case int, int8, int16, int32, int64:
		f = float64(toInt64(v))
	case uint, uint8, uint16, uint32, uint64:
		f = float64(toInt64(v))
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		return parseNumber(v.String())
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
		if !numberPattern.MatchString(s) {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toInt64 converts any integer kind; uint64 values above MaxInt64 saturate.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return saturate(uint64(n))
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return saturate(n)
	}
	return 0
}

func saturate(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
