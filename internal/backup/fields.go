package backup

import (
	"fmt"
	"regexp"
	"strings"

	"piggy/internal/sanitize"
)

// fieldError names the offending field of a record.
type fieldError struct {
	field  string
	reason string
}

func (e *fieldError) Error() string {
	return e.field + ": " + e.reason
}

func fieldErr(field, format string, args ...any) error {
	return &fieldError{field: field, reason: fmt.Sprintf(format, args...)}
}

// record is one raw backup row as decoded from JSON.
type record map[string]any

// value returns the field, treating JSON null and absence alike.
func (r record) value(key string) (any, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (r record) id() (int64, error) {
	return r.requiredRef("id")
}

func (r record) requiredRef(key string) (int64, error) {
	v, ok := r.value(key)
	if !ok {
		return 0, fieldErr(key, "required")
	}
	id, valid := sanitize.ID(v).Get()
	if !valid {
		return 0, fieldErr(key, "must be a positive integer, got %v", v)
	}
	return id, nil
}

func (r record) optionalRef(key string) (*int64, error) {
	if _, ok := r.value(key); !ok {
		return nil, nil
	}
	id, err := r.requiredRef(key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (r record) text(key string, max int, required bool) (string, error) {
	v, ok := r.value(key)
	if !ok {
		if required {
			return "", fieldErr(key, "required")
		}
		return "", nil
	}
	s := sanitize.Text(v, max)
	if s == "" && required {
		return "", fieldErr(key, "must not be empty")
	}
	return s, nil
}

func (r record) matching(key string, pattern *regexp.Regexp, def string) (string, error) {
	v, ok := r.value(key)
	if !ok {
		return def, nil
	}
	s := sanitize.Text(v, sanitize.ShortLength)
	if s == "" {
		return def, nil
	}
	if !pattern.MatchString(s) {
		return "", fieldErr(key, "invalid value %q", s)
	}
	return s, nil
}

func (r record) amount(key string, required bool, def float64) (float64, error) {
	v, ok := r.value(key)
	if !ok {
		if required {
			return 0, fieldErr(key, "required")
		}
		return def, nil
	}
	n, valid := sanitize.NumberInRange(v, 0, sanitize.MaxAmount).Get()
	if !valid {
		return 0, fieldErr(key, "must be between 0 and %.2f, got %v", sanitize.MaxAmount, v)
	}
	return n, nil
}

func (r record) optionalAmount(key string) (*float64, error) {
	if _, ok := r.value(key); !ok {
		return nil, nil
	}
	n, err := r.amount(key, true, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r record) number(key string, min, max, def float64) (float64, error) {
	v, ok := r.value(key)
	if !ok {
		return def, nil
	}
	n, valid := sanitize.NumberInRange(v, min, max).Get()
	if !valid {
		return 0, fieldErr(key, "must be between %g and %g, got %v", min, max, v)
	}
	return n, nil
}

func (r record) integer(key string, min, max int64, required bool, def int64) (int64, error) {
	v, ok := r.value(key)
	if !ok {
		if required {
			return 0, fieldErr(key, "required")
		}
		return def, nil
	}
	n, valid := sanitize.NumberInRange(v, float64(min), float64(max)).Get()
	if !valid || n != float64(int64(n)) {
		return 0, fieldErr(key, "must be an integer between %d and %d, got %v", min, max, v)
	}
	return int64(n), nil
}

func (r record) optionalInteger(key string, min, max int64) (*int64, error) {
	if _, ok := r.value(key); !ok {
		return nil, nil
	}
	n, err := r.integer(key, min, max, true, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r record) date(key string, required bool) (string, error) {
	v, ok := r.value(key)
	if !ok {
		if required {
			return "", fieldErr(key, "required")
		}
		return "", nil
	}
	s, isString := v.(string)
	s = strings.TrimSpace(s)
	if !isString || !sanitize.ValidateDate(s) {
		return "", fieldErr(key, "must be a YYYY-MM-DD date, got %v", v)
	}
	return s, nil
}

func (r record) oneOf(key, def string, allowed ...string) (string, error) {
	v, ok := r.value(key)
	if !ok {
		if def == "" {
			return "", fieldErr(key, "required")
		}
		return def, nil
	}
	s, valid := sanitize.OneOf(v, allowed...).Get()
	if !valid {
		return "", fieldErr(key, "must be one of %s, got %v", strings.Join(allowed, ", "), v)
	}
	return s, nil
}

func (r record) boolean(key string, def bool) (bool, error) {
	v, ok := r.value(key)
	if !ok {
		return def, nil
	}
	b, valid := sanitize.Bool(v).Get()
	if !valid {
		return false, fieldErr(key, "must be a boolean, got %v", v)
	}
	return b, nil
}
