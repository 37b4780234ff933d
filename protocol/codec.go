package protocol

import (
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// jsonShapedDecMode decodes CBOR maps held in an interface value as
// map[string]any, the same shape encoding/json produces.
var jsonShapedDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// EncodeToServer serializes a ToServer envelope per the given encoding.
func EncodeToServer(enc EncodingKind, msg ToServer) ([]byte, error) {
	if enc == EncodingCBOR {
		return msg.MarshalCBOR()
	}
	return json.Marshal(msg)
}

// DecodeToServer deserializes a ToServer envelope, tolerating either
// encoding regardless of the requested one (a compatibility concession for
// frame-type tolerance).
func DecodeToServer(data []byte, preferCBOR bool) (ToServer, error) {
	var msg ToServer
	if preferCBOR {
		if err := msg.UnmarshalCBOR(data); err == nil {
			return msg, nil
		}
		err := json.Unmarshal(data, &msg)
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err == nil {
		return msg, nil
	}
	err := msg.UnmarshalCBOR(data)
	return msg, err
}

// EncodeToClient serializes a ToClient envelope per the given encoding.
func EncodeToClient(enc EncodingKind, msg ToClient) ([]byte, error) {
	if enc == EncodingCBOR {
		return msg.MarshalCBOR()
	}
	return json.Marshal(msg)
}

// DecodeToClient deserializes a ToClient envelope, tolerating either
// encoding regardless of the requested one.
func DecodeToClient(data []byte, preferCBOR bool) (ToClient, error) {
	var msg ToClient
	if preferCBOR {
		if err := msg.UnmarshalCBOR(data); err == nil {
			return msg, nil
		}
		err := json.Unmarshal(data, &msg)
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err == nil {
		return msg, nil
	}
	err := msg.UnmarshalCBOR(data)
	return msg, err
}

// EncodeArgs CBOR-encodes an action argument list. Inner args/output/
// metadata fields are always CBOR regardless of envelope encoding.
func EncodeArgs(args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return cbor.Marshal(args)
}

// DecodeArgs CBOR-decodes an action argument list into generic JSON-shaped
// values.
func DecodeArgs(data []byte) ([]any, error) {
	var args []any
	if err := jsonShapedDecMode.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// EncodeValue CBOR-encodes a single value (action params, create input).
func EncodeValue(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// DecodeValue CBOR-decodes a single value (action output).
func DecodeValue(data []byte) (any, error) {
	var v any
	if err := jsonShapedDecMode.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
