package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// RFC 8746 tags used by the sensor bridge for image buffers.
const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint16LE      = 69
)

// decodeColor accepts a plain byte string, a uint8 typed array, or a
// two-dimensional array wrapping one.
func decodeColor(value any) ([]byte, error) {
	flat, err := decodeImage(value)
	if err != nil {
		return nil, err
	}
	out, ok := flat.([]byte)
	if !ok {
		return nil, fmt.Errorf("colour buffer has element type %T", flat)
	}
	return out, nil
}

// decodeDepth accepts a uint16 little-endian typed array, optionally wrapped
// in a two-dimensional array.
func decodeDepth(value any) ([]uint16, error) {
	flat, err := decodeImage(value)
	if err != nil {
		return nil, err
	}
	out, ok := flat.([]uint16)
	if !ok {
		return nil, fmt.Errorf("depth buffer has element type %T", flat)
	}
	return out, nil
}

func decodeImage(value any) (any, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case cbor.Tag:
		if v.Number == tagMultiDimArray {
			return decodeMultiDimArray(v)
		}
		return decodeTypedArray(v)
	default:
		return nil, fmt.Errorf("unsupported image payload %T", value)
	}
}

// decodeMultiDimArray checks the declared [rows, cols] shape against the
// typed array and returns the flat, row-major data.
func decodeMultiDimArray(value any) (any, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return nil, fmt.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return nil, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return nil, fmt.Errorf("invalid multidim dimensions")
	}

	rows, err := toInt(dimsRaw[0])
	if err != nil {
		return nil, err
	}
	cols, err := toInt(dimsRaw[1])
	if err != nil {
		return nil, err
	}

	flat, err := decodeTypedArray(items[1])
	if err != nil {
		return nil, err
	}

	var n int
	switch v := flat.(type) {
	case []uint8:
		n = len(v)
	case []uint16:
		n = len(v)
	default:
		return nil, errors.New("unsupported typed array type")
	}
	if rows*cols != n {
		return nil, errors.New("dimension mismatch")
	}
	return flat, nil
}

func decodeTypedArray(value any) (any, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, fmt.Errorf("expected typed array tag")
	}

	dataBytes, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("unsupported typed array content %T", tag.Content)
	}

	switch tag.Number {
	case tagUint8:
		return dataBytes, nil
	case tagUint16LE:
		if len(dataBytes)%2 != 0 {
			return nil, errors.New("uint16 typed array has odd length")
		}
		return bytesToUint16(dataBytes), nil
	default:
		return nil, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

func bytesToUint16(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := 0; i < len(out); i++ {
		out[i] = binary.LittleEndian.Uint16(data[i*2 : i*2+2])
	}
	return out
}

// EncodeDepth is the inverse of the uint16 typed array decoding, used by the
// simulator bridge and tests.
func EncodeDepth(depth []uint16) cbor.Tag {
	buf := make([]byte, len(depth)*2)
	for i, v := range depth {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return cbor.Tag{Number: tagUint16LE, Content: buf}
}
