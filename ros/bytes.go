package ros

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"reflect"

	"github.com/pkg/errors"
)

// ByteArray is a uint8[] message field. Bag exports write these as JSON number arrays while other
// JSON producers write base64 strings; both decode.
type ByteArray []byte

// UnmarshalJSON accepts a base64 string, a number array or null.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := byteArrayFrom(raw)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

func byteArrayFrom(raw interface{}) (ByteArray, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []byte:
		return ByteArray(v), nil
	case ByteArray:
		return v, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, errors.Wrap(err, "byte array is not valid base64")
		}
		return decoded, nil
	case []interface{}:
		out := make(ByteArray, len(v))
		for i, elem := range v {
			n, ok := elem.(float64)
			if !ok || n < 0 || n > math.MaxUint8 || n != math.Trunc(n) {
				return nil, errors.Errorf("byte array element %d is not a byte: %v", i, elem)
			}
			out[i] = byte(n)
		}
		return out, nil
	default:
		return nil, errors.Errorf("cannot decode %T as a byte array", raw)
	}
}

var byteArrayType = reflect.TypeOf(ByteArray(nil))

// byteArrayHook is a mapstructure decode hook routing ByteArray fields through byteArrayFrom.
func byteArrayHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != byteArrayType || from == byteArrayType {
		return data, nil
	}
	return byteArrayFrom(data)
}
