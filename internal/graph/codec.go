package graph

import (
	"fmt"
	"strings"
	"time"
)

// The codec routes every dynamic JSON access through one place so that
// JSON null, a missing key, and the literal string "null" all collapse to
// the same empty value. Several call sites rely on this doubling as a
// null guard.

// Str reads a string field, trimmed, with "null" scrubbed away.
func Str(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	raw, ok := obj[key].(string)
	if !ok {
		return ""
	}
	value := strings.TrimSpace(strings.ReplaceAll(raw, "null", ""))
	return value
}

// Bool reads a boolean field, false when missing.
func Bool(obj map[string]any, key string) bool {
	if obj == nil {
		return false
	}
	value, _ := obj[key].(bool)
	return value
}

// Int reads a numeric field. JSON numbers decode as float64.
func Int(obj map[string]any, key string) (int, bool) {
	if obj == nil {
		return 0, false
	}
	switch value := obj[key].(type) {
	case float64:
		return int(value), true
	case int:
		return value, true
	}
	return 0, false
}

// Child reads a nested object, nil when missing or not an object.
func Child(obj map[string]any, key string) map[string]any {
	if obj == nil {
		return nil
	}
	child, _ := obj[key].(map[string]any)
	return child
}

// Children reads a nested array of objects, skipping non-object entries.
func Children(obj map[string]any, key string) []map[string]any {
	if obj == nil {
		return nil
	}
	raw, _ := obj[key].([]any)
	var children []map[string]any
	for _, entry := range raw {
		if child, ok := entry.(map[string]any); ok {
			children = append(children, child)
		}
	}
	return children
}

// Time reads an ISO-8601 instant field and converts it into loc. The zero
// time is returned for blank values.
func Time(obj map[string]any, key string, loc *time.Location) (time.Time, error) {
	value := Str(obj, key)
	if value == "" {
		return time.Time{}, nil
	}
	instant, err := parseInstant(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: field %q: %v", ErrMapping, key, err)
	}
	return instant.In(loc), nil
}

// DateTimeField reads a Graph {dateTime, timeZone} object under key. When
// the reported timeZone is non-empty and differs from loc, the dateTime is
// interpreted as UTC (a trailing Z appended if missing) and converted into
// loc. Otherwise it is parsed as naive local time in loc.
func DateTimeField(obj map[string]any, key string, loc *time.Location) (time.Time, error) {
	field := Child(obj, key)
	if field == nil {
		return time.Time{}, fmt.Errorf("%w: missing %q object", ErrMapping, key)
	}

	value := Str(field, "dateTime")
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: missing %q dateTime", ErrMapping, key)
	}

	zone := Str(field, "timeZone")
	if zone != "" && !strings.EqualFold(zone, loc.String()) {
		if !strings.HasSuffix(value, "Z") {
			value += "Z"
		}
		instant, err := parseInstant(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: field %q: %v", ErrMapping, key, err)
		}
		return instant.In(loc), nil
	}

	naive, err := parseNaive(value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: field %q: %v", ErrMapping, key, err)
	}
	return naive, nil
}

// PutStr writes a string field, omitting blank values so the payload
// never carries empty strings.
func PutStr(obj map[string]any, key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	obj[key] = value
}

// PutDateTime writes a Graph {dateTime, timeZone:"UTC"} object. Start and
// end are always written in UTC.
func PutDateTime(obj map[string]any, key string, at time.Time) {
	if at.IsZero() {
		return
	}
	obj[key] = map[string]any{
		"dateTime": at.UTC().Format("2006-01-02T15:04:05"),
		"timeZone": "UTC",
	}
}

// PutEmail writes an {emailAddress:{address,name}} object, omitted when
// the address is blank.
func PutEmail(obj map[string]any, key, address, name string) {
	if strings.TrimSpace(address) == "" {
		return
	}
	email := map[string]any{"address": address}
	if strings.TrimSpace(name) != "" {
		email["name"] = name
	}
	obj[key] = map[string]any{"emailAddress": email}
}

// EmailEntry builds one {emailAddress:{address,name}} list entry, nil when
// the address is blank.
func EmailEntry(address, name string) map[string]any {
	if strings.TrimSpace(address) == "" {
		return nil
	}
	email := map[string]any{"address": address}
	if strings.TrimSpace(name) != "" {
		email["name"] = name
	}
	return map[string]any{"emailAddress": email}
}

var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.9999999Z",
}

func parseInstant(value string) (time.Time, error) {
	for _, layout := range instantLayouts {
		if instant, err := time.Parse(layout, value); err == nil {
			return instant, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable instant %q", value)
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseNaive(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSuffix(value, "Z")
	for _, layout := range naiveLayouts {
		if naive, err := time.ParseInLocation(layout, value, loc); err == nil {
			return naive, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable local time %q", value)
}
