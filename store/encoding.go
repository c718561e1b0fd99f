package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	contentdrop "github.com/wolfeidau/content-drop"
)

// Record framing, one file per record:
//
//	KEYLEN   uint16 big-endian
//	KEY      KEYLEN bytes
//	TYPELEN  int32 big-endian
//	TYPE     TYPELEN bytes (MIME string)
//	EXPIRY   int64 big-endian (milliseconds since epoch)
//	BODYLEN  int32 big-endian
//	BODY     BODYLEN bytes (stored form, possibly gzipped)

// MaxMediaTypeLen bounds the media type field when decoding.
const MaxMediaTypeLen = 64 * 1024

// ErrMalformedRecord is returned when a record file fails structural
// validation during decoding.
var ErrMalformedRecord = errors.New("malformed content record")

// EncodeRecord writes the framed form of c to w.
func EncodeRecord(w io.Writer, c *contentdrop.Content) error {
	if len(c.Key) > math.MaxUint16 {
		return fmt.Errorf("key length %d exceeds %d", len(c.Key), math.MaxUint16)
	}
	if len(c.MediaType) > math.MaxInt32 || len(c.Body) > math.MaxInt32 {
		return fmt.Errorf("record fields exceed 32-bit lengths")
	}

	if err := binary.Write(w, binary.BigEndian, uint16(len(c.Key))); err != nil {
		return fmt.Errorf("writing key length: %w", err)
	}
	if _, err := io.WriteString(w, c.Key); err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, int32(len(c.MediaType))); err != nil {
		return fmt.Errorf("writing media type length: %w", err)
	}
	if _, err := io.WriteString(w, c.MediaType); err != nil {
		return fmt.Errorf("writing media type: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, c.Expiry); err != nil {
		return fmt.Errorf("writing expiry: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, int32(len(c.Body))); err != nil {
		return fmt.Errorf("writing body length: %w", err)
	}
	if _, err := w.Write(c.Body); err != nil {
		return fmt.Errorf("writing body: %w", err)
	}
	return nil
}

// DecodeRecord reads a full record from r, including the body.
func DecodeRecord(r io.Reader) (*contentdrop.Content, error) {
	c, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}

	var bodyLen int32
	if err := binary.Read(r, binary.BigEndian, &bodyLen); err != nil {
		return nil, fmt.Errorf("reading body length: %w", err)
	}
	if bodyLen < 0 {
		return nil, fmt.Errorf("%w: negative body length %d", ErrMalformedRecord, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	c.Body = body
	return c, nil
}

// DecodeRecordMeta reads the key, media type and expiry from r and skips
// the body. Used by the sweeper so scans never load payloads.
func DecodeRecordMeta(r io.Reader) (*contentdrop.Content, error) {
	return decodeHeader(r)
}

func decodeHeader(r io.Reader) (*contentdrop.Content, error) {
	var keyLen uint16
	if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
		return nil, fmt.Errorf("reading key length: %w", err)
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}

	var typeLen int32
	if err := binary.Read(r, binary.BigEndian, &typeLen); err != nil {
		return nil, fmt.Errorf("reading media type length: %w", err)
	}
	if typeLen < 0 || typeLen > MaxMediaTypeLen {
		return nil, fmt.Errorf("%w: media type length %d", ErrMalformedRecord, typeLen)
	}
	mediaType := make([]byte, typeLen)
	if _, err := io.ReadFull(r, mediaType); err != nil {
		return nil, fmt.Errorf("reading media type: %w", err)
	}

	var expiry int64
	if err := binary.Read(r, binary.BigEndian, &expiry); err != nil {
		return nil, fmt.Errorf("reading expiry: %w", err)
	}

	return &contentdrop.Content{
		Key:       string(key),
		MediaType: string(mediaType),
		Expiry:    expiry,
	}, nil
}
