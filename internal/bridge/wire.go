package bridge

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// RequestHeaderLen imageLen + maskLen, big endian
	RequestHeaderLen = 8
	// ResponseHeaderLen imageLen, big endian
	ResponseHeaderLen = 4

	// DefaultMaxPayload bounds a single image or mask on the wire.
	DefaultMaxPayload = 64 << 20
)

// Request is one outgoing frame. Mask is nil when no mask was produced.
type Request struct {
	Image []byte
	Mask  []byte
}

// WriteRequest writes header, image and mask. The caller flushes.
func WriteRequest(w io.Writer, req Request) error {
	var header [RequestHeaderLen]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(req.Image)))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(req.Mask)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(req.Image); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if len(req.Mask) > 0 {
		if _, err := w.Write(req.Mask); err != nil {
			return fmt.Errorf("write mask: %w", err)
		}
	}
	return nil
}

// ReadRequest reads one request. Lengths above maxPayload are a protocol
// error. An image length of zero is returned as an empty request with no
// body read.
func ReadRequest(r io.Reader, maxPayload int) (Request, error) {
	var header [RequestHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Request{}, err
	}
	imageLen := binary.BigEndian.Uint32(header[0:4])
	maskLen := binary.BigEndian.Uint32(header[4:8])

	if imageLen == 0 {
		return Request{}, nil
	}
	if maxPayload > 0 && (uint64(imageLen) > uint64(maxPayload) || uint64(maskLen) > uint64(maxPayload)) {
		return Request{}, fmt.Errorf("request of %d+%d bytes exceeds limit %d", imageLen, maskLen, maxPayload)
	}

	req := Request{Image: make([]byte, imageLen)}
	if _, err := io.ReadFull(r, req.Image); err != nil {
		return Request{}, fmt.Errorf("read image: %w", err)
	}
	if maskLen > 0 {
		req.Mask = make([]byte, maskLen)
		if _, err := io.ReadFull(r, req.Mask); err != nil {
			return Request{}, fmt.Errorf("read mask: %w", err)
		}
	}
	return req, nil
}

// WriteResponse writes a length-prefixed response. An empty payload writes
// a zero length meaning no output.
func WriteResponse(w io.Writer, payload []byte) error {
	var header [ResponseHeaderLen]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write response header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// ReadResponse reads one response. The length prefix is signed on the wire;
// a value <= 0 returns nil without error.
func ReadResponse(r io.Reader, maxPayload int) ([]byte, error) {
	var header [ResponseHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}
	n := int32(binary.BigEndian.Uint32(header[:]))
	if n <= 0 {
		return nil, nil
	}
	if maxPayload > 0 && int64(n) > int64(maxPayload) {
		return nil, fmt.Errorf("response of %d bytes exceeds limit %d", n, maxPayload)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return payload, nil
}
