package demolition

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var errPayload = errors.New("unexpected payload")

//unwrap returns the first of keys present when v is an object, or v itself
func unwrap(v any, keys ...string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for _, k := range keys {
		if inner, ok := m[k]; ok {
			return inner
		}
	}
	return nil
}

func decode(payload json.RawMessage, keys ...string) (any, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return unwrap(v, keys...), nil
}

//decodeBool accepts true/false, "yes"/"no", "true"/"false", or {"value"|"selected": ...}
func decodeBool(payload json.RawMessage) (bool, error) {
	v, err := decode(payload, "value", "selected")
	if err != nil {
		return false, err
	}

	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "yes", "true", "y", "포함", "있음":
			return true, nil
		case "no", "false", "n", "미포함", "없음":
			return false, nil
		}
	}
	return false, errPayload
}

//decodeNumber accepts a number, a numeric string, or {"value"|"area": ...}, returned as text for ParseArea
func decodeNumber(payload json.RawMessage) (string, error) {
	v, err := decode(payload, "value", "area")
	if err != nil {
		return "", err
	}

	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case string:
		return t, nil
	}
	return "", errPayload
}

//decodeString accepts a string or {key: string}
func decodeString(payload json.RawMessage, key string) (string, error) {
	v, err := decode(payload, key, "value")
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errPayload
}

//decodePhotoCount accepts {"count": n}, {"files": [...]}, a list of file names, or a bare count
func decodePhotoCount(payload json.RawMessage) (int, error) {
	v, err := decode(payload, "count", "files")
	if err != nil {
		return 0, err
	}

	switch t := v.(type) {
	case float64:
		if t < 0 || t != float64(int(t)) {
			return 0, errPayload
		}
		return int(t), nil
	case []any:
		return len(t), nil
	}
	return 0, errPayload
}
