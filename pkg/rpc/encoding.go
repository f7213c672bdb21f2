package rpc

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

// EncodeAccountData renders data as the [payload, encoding] pair used in
// account responses. Unknown encodings fall back to base64.
func EncodeAccountData(data []byte, encoding Encoding) ([]string, error) {
	switch encoding {
	case EncodingBase58:
		return []string{base58.Encode(data), string(EncodingBase58)}, nil
	case EncodingBase64Zstd:
		enc, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		packed := enc.encoder.EncodeAll(data, make([]byte, 0, len(data)))
		return []string{base64.StdEncoding.EncodeToString(packed), string(EncodingBase64Zstd)}, nil
	default:
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil
	}
}

// DecodeData reverses EncodeAccountData for a single payload.
func DecodeData(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)
	case EncodingBase64Zstd:
		packed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
		enc, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		data, err := enc.decoder.DecodeAll(packed, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress zstd: %w", err)
		}
		return data, nil
	default:
		return base64.StdEncoding.DecodeString(encoded)
	}
}

// codec holds a zstd encoder and decoder shared by all requests. EncodeAll
// and DecodeAll are safe for concurrent use.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var (
	sharedCodec    *codec
	sharedCodecErr error
	sharedOnce     sync.Once
)

func zstdCodec() (*codec, error) {
	sharedOnce.Do(func() {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			sharedCodecErr = fmt.Errorf("init zstd encoder: %w", err)
			return
		}
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			sharedCodecErr = fmt.Errorf("init zstd decoder: %w", err)
			return
		}
		sharedCodec = &codec{encoder: encoder, decoder: decoder}
	})
	return sharedCodec, sharedCodecErr
}

// ApplyDataSlice returns the window of data selected by slice. A window
// starting past the end is empty; one running past the end is clipped.
func ApplyDataSlice(data []byte, slice *DataSlice) []byte {
	if slice == nil {
		return data
	}
	size := uint64(len(data))
	if slice.Offset >= size {
		return []byte{}
	}
	end := size
	if slice.Length < size-slice.Offset {
		end = slice.Offset + slice.Length
	}
	return data[slice.Offset:end]
}
