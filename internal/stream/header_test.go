package stream

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/modelgraph/internal/model"
)

func encodeHeader(t *testing.T, h *model.Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(NewWriter(&buf), h))
	return buf.Bytes()
}

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build func() *model.Header
	}{
		{
			name: "no properties",
			build: func() *model.Header {
				return model.NewHeader(testIdentity("empty"))
			},
		},
		{
			name: "flag and properties",
			build: func() *model.Header {
				h := model.NewHeader(testIdentity("props"))
				h.DoNotGenerate = true
				h.SetOptionalProperty("a", "1")
				h.SetOptionalProperty("b", "")
				h.SetOptionalProperty("unicode", "größe")
				return h
			},
		},
		{
			name: "foreign model id",
			build: func() *model.Header {
				return model.NewHeader(model.ModelIdentity{
					Module: model.ForeignModuleID("ext"),
					Model:  model.ForeignModelID("java:com.example"),
					Name:   "com.example",
				})
			},
		},
		{
			name: "opaque model id without module",
			build: func() *model.Header {
				return model.NewHeader(model.ModelIdentity{
					Model: model.OpaqueModelID("models/a.mps"),
					Name:  "a",
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.build()
			got, err := DecodeHeader(bytes.NewReader(encodeHeader(t, h)))
			require.NoError(t, err)
			assert.Equal(t, h, got)
		})
	}
}

func TestHeaderLayout(t *testing.T) {
	data := encodeHeader(t, model.NewHeader(testIdentity("layout")))

	assert.Equal(t, HeaderStart, binary.BigEndian.Uint32(data[0:4]))
	assert.Equal(t, StreamIDV2, binary.BigEndian.Uint32(data[4:8]))
	assert.Equal(t, HeaderEnd, binary.BigEndian.Uint32(data[len(data)-4:]))
	// marker, flag, u16 count precede the end token
	assert.Equal(t, []byte{HeaderAttributes, 0, 0, 0}, data[len(data)-8:len(data)-4])
}

func TestHeaderWithoutAttributes(t *testing.T) {
	h := model.NewHeader(testIdentity("legacy"))
	data := encodeHeader(t, h)

	// strip marker, flag and count as older producers did
	legacy := append([]byte{}, data[:len(data)-8]...)
	legacy = append(legacy, data[len(data)-4:]...)

	got, err := DecodeHeader(bytes.NewReader(legacy))
	require.NoError(t, err)
	assert.Equal(t, h.Identity, got.Identity)
	assert.False(t, got.DoNotGenerate)
	assert.Empty(t, got.OptionalProperties)
}

func TestHeaderRejectsObsoleteVersion(t *testing.T) {
	data := encode(t, sampleModel())
	binary.BigEndian.PutUint32(data[4:8], StreamIDV1)

	r := NewReader(bytes.NewReader(data))
	_, err := ReadHeader(r)
	require.ErrorIs(t, err, model.ErrUnsupportedVersion)
	assert.Contains(t, err.Error(), "(300)")
	assert.Contains(t, err.Error(), "re-save")
	assert.Equal(t, int64(8), r.Offset(), "must stop before model data")
}

func TestHeaderRejectsUnknownVersion(t *testing.T) {
	data := encode(t, sampleModel())
	binary.BigEndian.PutUint32(data[4:8], 0x00000500)

	_, err := DecodeHeader(bytes.NewReader(data))
	require.ErrorIs(t, err, model.ErrMalformedStream)
	assert.NotErrorIs(t, err, model.ErrUnsupportedVersion)
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	data := encode(t, sampleModel())
	data[0] = 0

	_, err := DecodeHeader(bytes.NewReader(data))
	require.ErrorIs(t, err, model.ErrMalformedStream)

	var se *model.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(0), se.Offset)
	assert.Equal(t, HeaderStart, se.Token)
}

func TestHeaderRejectsBadSyncToken(t *testing.T) {
	data := encodeHeader(t, model.NewHeader(testIdentity("sync")))
	data[len(data)-1] = 0

	_, err := DecodeHeader(bytes.NewReader(data))
	require.ErrorIs(t, err, model.ErrMalformedStream)
}

func TestHeaderTruncated(t *testing.T) {
	data := encodeHeader(t, model.NewHeader(testIdentity("short")))

	_, err := DecodeHeader(bytes.NewReader(data[:10]))
	assert.ErrorIs(t, err, model.ErrMalformedStream)
}
