package importer

import (
	"encoding/base64"
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeArgs decodes loosely typed parser arguments into out, a pointer to a
// struct tagged with `json`. []byte fields accept a byte slice, a buffer
// envelope ({"type":"Buffer","data":[...]}), a list of byte values, or a
// string (base64 when it decodes as such, raw text otherwise).
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       BytesHook(),
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

var bytesType = reflect.TypeOf([]byte(nil))

// BytesHook converts the transport shapes of binary data into []byte.
func BytesHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != bytesType {
			return data, nil
		}
		switch v := data.(type) {
		case []byte:
			return v, nil
		case string:
			if b, err := base64.StdEncoding.DecodeString(v); err == nil && v != "" {
				return b, nil
			}
			return []byte(v), nil
		case map[string]any:
			if v["type"] != "Buffer" {
				return data, nil
			}
			return ByteList(v["data"])
		case []any:
			return ByteList(v)
		}
		return data, nil
	}
}

// ByteList converts a JSON list of numbers into bytes.
func ByteList(v any) ([]byte, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: buffer data is %T, not a list", ErrInvalidArgs, v)
	}
	out := make([]byte, len(list))
	for i, x := range list {
		var n float64
		switch t := x.(type) {
		case float64:
			n = t
		case int:
			n = float64(t)
		case int64:
			n = float64(t)
		case uint8:
			n = float64(t)
		default:
			return nil, fmt.Errorf("%w: buffer byte %d is %T", ErrInvalidArgs, i, x)
		}
		if n < 0 || n > 255 || n != float64(int(n)) {
			return nil, fmt.Errorf("%w: buffer byte %d out of range: %v", ErrInvalidArgs, i, n)
		}
		out[i] = byte(n)
	}
	return out, nil
}
