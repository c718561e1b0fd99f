package store

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	contentdrop "github.com/wolfeidau/content-drop"
)

// independentEncode builds a record file the way the format is
// documented, without going through EncodeRecord.
func independentEncode(t *testing.T, key, mediaType string, expiry int64, body []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(len(key))))
	buf.WriteString(key)
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(len(mediaType))))
	buf.WriteString(mediaType)
	require.NoError(t, binary.Write(&buf, binary.BigEndian, expiry))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(len(body))))
	buf.Write(body)
	return buf.Bytes()
}

func TestDecodeRecordFromIndependentEncoder(t *testing.T) {
	raw := independentEncode(t, "aBc123X", "application/json", 1700000000000, []byte("payload bytes"))

	c, err := DecodeRecord(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "aBc123X", c.Key)
	require.Equal(t, "application/json", c.MediaType)
	require.Equal(t, int64(1700000000000), c.Expiry)
	require.Equal(t, []byte("payload bytes"), c.Body)
}

func TestEncodeRecordMatchesLayout(t *testing.T) {
	c := &contentdrop.Content{
		Key:       "zZ9",
		MediaType: "text/plain",
		Expiry:    42,
		Body:      []byte{1, 2, 3},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeRecord(&buf, c))

	expected := independentEncode(t, c.Key, c.MediaType, c.Expiry, c.Body)
	require.Equal(t, expected, buf.Bytes())
}

func TestDecodeRecordMetaSkipsBody(t *testing.T) {
	raw := independentEncode(t, "aBc123X", "text/html", 99, []byte("body that must not be read"))

	// Meta decoding stops before the body, so a reader truncated right
	// after the expiry still succeeds.
	truncated := raw[:len(raw)-len("body that must not be read")-4]

	c, err := DecodeRecordMeta(bytes.NewReader(truncated))
	require.NoError(t, err)
	require.Equal(t, "aBc123X", c.Key)
	require.Equal(t, "text/html", c.MediaType)
	require.Equal(t, int64(99), c.Expiry)
	require.Empty(t, c.Body)
}

func TestDecodeRecordRejectsNegativeLengths(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(1)))
	buf.WriteString("k")
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(-5)))

	_, err := DecodeRecord(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestDecodeRecordRejectsOversizedMediaType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(1)))
	buf.WriteString("k")
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(MaxMediaTypeLen+1)))

	_, err := DecodeRecord(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestDecodeRecordTruncatedBody(t *testing.T) {
	raw := independentEncode(t, "key1234", "text/plain", 1, []byte("full body"))

	_, err := DecodeRecord(bytes.NewReader(raw[:len(raw)-3]))
	require.Error(t, err)
}
