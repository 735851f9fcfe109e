package documents

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

func initZstd() {
	zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if zstdInitErr != nil {
		return
	}
	zstdDecoder, zstdInitErr = zstd.NewReader(nil)
}

// compressSnapshot compresses an encoded document state for storage.
func compressSnapshot(state []byte) ([]byte, error) {
	zstdOnce.Do(initZstd)
	if zstdInitErr != nil {
		return nil, fmt.Errorf("zstd init: %w", zstdInitErr)
	}
	return zstdEncoder.EncodeAll(state, make([]byte, 0, len(state)/2)), nil
}

// decompressSnapshot reverses compressSnapshot. Empty input yields nil.
func decompressSnapshot(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, nil
	}
	zstdOnce.Do(initZstd)
	if zstdInitErr != nil {
		return nil, fmt.Errorf("zstd init: %w", zstdInitErr)
	}
	return zstdDecoder.DecodeAll(stored, nil)
}
