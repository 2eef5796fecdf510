package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	// maxMessageSize is the maximum allowed message size (16 MB), before and
	// after decompression.
	maxMessageSize = 16 << 20

	// headerSize is the length prefix plus the flags byte.
	headerSize = 5

	// defaultCompressionThreshold is the smallest payload worth compressing.
	defaultCompressionThreshold = 1024
)

const (
	// flagZstd marks a zstd-compressed payload.
	flagZstd byte = 1 << 0
)

// codec compresses frames above a size threshold.
type codec struct {
	threshold int           // threshold disables compression when negative
	encoder   *zstd.Encoder // encoder is safe for concurrent EncodeAll
	decoder   *zstd.Decoder // decoder is safe for concurrent DecodeAll
}

// newCodec creates a frame codec. A zero threshold uses the default and a
// negative one disables compression of outgoing frames.
func newCodec(threshold int) (*codec, error) {
	if threshold == 0 {
		threshold = defaultCompressionThreshold
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxMessageSize))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}

	return &codec{threshold: threshold, encoder: encoder, decoder: decoder}, nil
}

// close releases the encoder and decoder.
func (c *codec) close() {
	c.encoder.Close()
	c.decoder.Close()
}

// writeMessage writes one frame.
// Format: [4 bytes big-endian length] [1 byte flags] [payload]
func (c *codec) writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	var flags byte
	payload := data

	if c.threshold > 0 && len(data) >= c.threshold {
		compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		if len(compressed) < len(data) {
			flags |= flagZstd
			payload = compressed
		}
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = flags

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header:\n%w", err)
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload:\n%w", err)
	}

	return nil
}

// readMessage reads one frame and decompresses it if needed.
func (c *codec) readMessage(r io.Reader) ([]byte, error) {
	var header [headerSize]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read header:\n%w", err)
	}

	length := binary.BigEndian.Uint32(header[:4])
	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload:\n%w", err)
	}

	flags := header[4]
	if flags&^flagZstd != 0 {
		return nil, fmt.Errorf("unknown frame flags %#x", flags)
	}

	if flags&flagZstd == 0 {
		return payload, nil
	}

	data, err := c.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload:\n%w", err)
	}

	if len(data) > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	return data, nil
}
