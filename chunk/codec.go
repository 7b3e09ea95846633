package chunk

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DataIO selects the codec a tree's chunks move through. The codec
// boundary is the only place that knows the on-disk encoding; the rest
// of the core works on the decoded cell stream.
type DataIO uint8

const (
	// Laz is the point-cloud-native codec slot. Chunks are LZ4 block
	// compressed; LAS/LAZ decode itself is an external collaborator.
	Laz DataIO = iota
	// Binary is the generic byte codec for extended-schema chunks,
	// backed by zstd.
	Binary
)

// DataIOFromName parses the tag persisted in ept.json.
func DataIOFromName(name string) (DataIO, error) {
	switch name {
	case "laszip":
		return Laz, nil
	case "binary":
		return Binary, nil
	}
	return 0, fmt.Errorf("unknown data io %q", name)
}

// Name is the tag persisted in ept.json.
func (d DataIO) Name() string {
	if d == Laz {
		return "laszip"
	}
	return "binary"
}

// Ext is the chunk file extension; it selects the decoder.
func (d DataIO) Ext() string {
	if d == Laz {
		return ".laz"
	}
	return ".bin"
}

// zstd encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block format: [UncompressedSize uint32][CompressedSize uint32][Data].
// CompressedSize == 0 means the block is stored uncompressed.
const blockHeaderSize = 8

// Compress encodes data with the given codec, falling back to raw
// storage when compression does not help.
func (d DataIO) Compress(data []byte) ([]byte, error) {
	var compressed []byte
	switch d {
	case Laz:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		var c lz4.Compressor
		n, err := c.CompressBlock(data, buf)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n > 0 {
			compressed = buf[:n]
		}
	case Binary:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unknown data io %d", d)
	}

	out := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(out, uint32(len(data)))
	if len(compressed) == 0 || len(compressed) >= len(data) {
		binary.LittleEndian.PutUint32(out[4:], 0)
		return append(out, data...), nil
	}
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	return append(out, compressed...), nil
}

// Decompress decodes a block produced by Compress.
func (d DataIO) Decompress(data []byte) ([]byte, error) {
	if len(data) < blockHeaderSize {
		return nil, fmt.Errorf("block truncated: %d bytes", len(data))
	}
	uncompressedSize := binary.LittleEndian.Uint32(data)
	compressedSize := binary.LittleEndian.Uint32(data[4:])
	body := data[blockHeaderSize:]

	if compressedSize == 0 {
		if uint32(len(body)) != uncompressedSize {
			return nil, fmt.Errorf("raw block size mismatch: header %d, body %d",
				uncompressedSize, len(body))
		}
		return body, nil
	}
	if uint32(len(body)) != compressedSize {
		return nil, io.ErrUnexpectedEOF
	}

	out := make([]byte, uncompressedSize)
	switch d {
	case Laz:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint32(n) != uncompressedSize {
			return nil, fmt.Errorf("lz4 block size mismatch: header %d, got %d",
				uncompressedSize, n)
		}
		return out, nil
	case Binary:
		dec := getZstdDecoder()
		res, err := dec.DecodeAll(body, out[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint32(len(res)) != uncompressedSize {
			return nil, fmt.Errorf("zstd block size mismatch: header %d, got %d",
				uncompressedSize, len(res))
		}
		return res, nil
	}
	return nil, fmt.Errorf("unknown data io %d", d)
}
