// Package stream implements the versioned binary model format: header,
// node records, the reference scanner and content digests.
package stream

import (
	"fmt"
	"io"

	"github.com/systemshift/modelgraph/internal/model"
)

// Magic numbers and markers of the binary format
const (
	HeaderStart      uint32 = 0x91ABABA9
	StreamIDV1       uint32 = 0x00000300
	StreamIDV2       uint32 = 0x00000400
	StreamID                = StreamIDV2
	HeaderAttributes byte   = 0x7E
	HeaderEnd        uint32 = 0xABABABAB
	ModelStart       uint32 = 0xBABABABA
)

// ReadHeader decodes the stream header and leaves r positioned at the
// first byte after HEADER_END.
func ReadHeader(r *Reader) (*model.Header, error) {
	if err := r.ExpectToken(HeaderStart, "header"); err != nil {
		return nil, err
	}

	at := r.Offset()
	streamID, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if streamID == StreamIDV1 {
		return nil, &model.VersionError{Version: streamID}
	}
	if streamID != StreamID {
		return nil, &model.StreamError{Offset: at, Msg: fmt.Sprintf("unknown version: %x", streamID)}
	}

	id, err := r.ReadModelIdentity()
	if err != nil {
		return nil, fmt.Errorf("reading model identity: %w", err)
	}
	header := model.NewHeader(id)

	// left for compatibility, old version was here
	if _, err := r.ReadInt32(); err != nil {
		return nil, err
	}

	marker, err := r.PeekByte()
	if err != nil {
		return nil, err
	}
	if marker == HeaderAttributes {
		if _, err := r.ReadByte(); err != nil {
			return nil, err
		}
		if header.DoNotGenerate, err = r.ReadBool(); err != nil {
			return nil, err
		}
		count, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		for ; count > 0; count-- {
			key, err := r.ReadString()
			if err != nil {
				return nil, fmt.Errorf("reading header property key: %w", err)
			}
			value, err := r.ReadString()
			if err != nil {
				return nil, fmt.Errorf("reading header property %q: %w", key, err)
			}
			header.SetOptionalProperty(key, value)
		}
	}

	if err := r.ExpectToken(HeaderEnd, "sync token"); err != nil {
		return nil, err
	}
	return header, nil
}

// WriteHeader encodes h. The attributes section is always written.
func WriteHeader(w *Writer, h *model.Header) error {
	w.WriteUint32(HeaderStart)
	w.WriteUint32(StreamID)
	w.WriteModelIdentity(h.Identity)
	w.WriteInt32(-1)
	w.WriteByte(HeaderAttributes)
	w.WriteBool(h.DoNotGenerate)
	keys := h.PropertyKeys()
	w.WriteCount(len(keys), "header properties")
	for _, k := range keys {
		w.WriteString(k)
		w.WriteString(h.OptionalProperties[k])
	}
	w.WriteUint32(HeaderEnd)
	return w.Err()
}

// DecodeHeader reads only the header from src
func DecodeHeader(src io.Reader) (*model.Header, error) {
	return ReadHeader(NewReader(src))
}
