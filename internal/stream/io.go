package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/systemshift/modelgraph/internal/model"
)

// Id tags on the wire
const (
	idNone    byte = 0x00
	idRegular byte = 0x01
	idForeign byte = 0x02
	idOpaque  byte = 0x03

	nodeIDRegular byte = 0x01
)

// Reader is a forward-only big-endian cursor over a model stream
type Reader struct {
	r      *bufio.Reader
	offset int64
}

// NewReader wraps r. Readers that are already buffered are reused.
func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br}
	}
	return &Reader{r: bufio.NewReader(r)}
}

// Offset returns the number of bytes consumed so far
func (r *Reader) Offset() int64 { return r.offset }

func (r *Reader) full(buf []byte) error {
	n, err := io.ReadFull(r.r, buf)
	r.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return &model.StreamError{Offset: r.offset, Msg: "unexpected end of stream"}
		}
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// PeekByte returns the next byte without consuming it
func (r *Reader) PeekByte() (byte, error) {
	b, err := r.r.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, &model.StreamError{Offset: r.offset, Msg: "unexpected end of stream"}
		}
		return 0, fmt.Errorf("peeking stream: %w", err)
	}
	return b[0], nil
}

func (r *Reader) ReadByte() (byte, error) {
	var buf [1]byte
	if err := r.full(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	var buf [2]byte
	if err := r.full(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if err := r.full(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	var buf [8]byte
	if err := r.full(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// ReadString reads a u16 length-prefixed UTF-8 string
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if err := r.full(buf); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", &model.StreamError{Offset: r.offset, Msg: "invalid utf-8 string"}
	}
	return string(buf), nil
}

// ExpectToken reads a 4-byte sync token and fails when it does not match
func (r *Reader) ExpectToken(token uint32, what string) error {
	at := r.offset
	v, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if v != token {
		return &model.StreamError{Offset: at, Token: token, Msg: "no " + what}
	}
	return nil
}

// ReadNodeID reads a node identity; only regular ids exist on the wire
func (r *Reader) ReadNodeID() (model.NodeID, error) {
	at := r.offset
	tag, err := r.ReadByte()
	if err != nil {
		return model.NodeID{}, err
	}
	if tag != nodeIDRegular {
		return model.NodeID{}, fmt.Errorf("%w: node id tag %#02x at offset %d", model.ErrUnsupportedIdentityKind, tag, at)
	}
	v, err := r.ReadInt64()
	if err != nil {
		return model.NodeID{}, err
	}
	return model.RegularNodeID(v), nil
}

func (r *Reader) readUUID() (uuid.UUID, error) {
	var u uuid.UUID
	if err := r.full(u[:]); err != nil {
		return uuid.Nil, err
	}
	return u, nil
}

// ReadModelIdentity reads module id, model id and model name
func (r *Reader) ReadModelIdentity() (model.ModelIdentity, error) {
	var id model.ModelIdentity

	tag, err := r.ReadByte()
	if err != nil {
		return id, err
	}
	switch tag {
	case idNone:
	case idRegular:
		u, err := r.readUUID()
		if err != nil {
			return id, err
		}
		id.Module = model.RegularModuleID(u)
	case idForeign:
		s, err := r.ReadString()
		if err != nil {
			return id, err
		}
		id.Module = model.ForeignModuleID(s)
	default:
		return id, fmt.Errorf("%w: module id tag %#02x", model.ErrUnsupportedIdentityKind, tag)
	}

	tag, err = r.ReadByte()
	if err != nil {
		return id, err
	}
	switch tag {
	case idRegular:
		u, err := r.readUUID()
		if err != nil {
			return id, err
		}
		id.Model = model.RegularModelID(u)
	case idForeign, idOpaque:
		s, err := r.ReadString()
		if err != nil {
			return id, err
		}
		if tag == idForeign {
			id.Model = model.ForeignModelID(s)
		} else {
			id.Model = model.OpaqueModelID(s)
		}
	default:
		return id, fmt.Errorf("%w: model id tag %#02x", model.ErrUnsupportedIdentityKind, tag)
	}

	if id.Name, err = r.ReadString(); err != nil {
		return id, err
	}
	return id, nil
}

// Writer is the big-endian counterpart of Reader. The first error is kept
// and every later call becomes a no-op.
type Writer struct {
	w   io.Writer
	err error
	buf [8]byte
}

// NewWriter wraps w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered
func (w *Writer) Err() error { return w.err }

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(p); err != nil {
		w.err = fmt.Errorf("writing stream: %w", err)
	}
}

func (w *Writer) WriteByte(b byte) error {
	w.buf[0] = b
	w.write(w.buf[:1])
	return w.err
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	binary.BigEndian.PutUint16(w.buf[:2], v)
	w.write(w.buf[:2])
}

func (w *Writer) WriteUint32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteInt64(v int64) {
	binary.BigEndian.PutUint64(w.buf[:8], uint64(v))
	w.write(w.buf[:8])
}

// WriteString writes a u16 length-prefixed UTF-8 string
func (w *Writer) WriteString(s string) {
	if len(s) > math.MaxUint16 {
		w.fail(fmt.Errorf("string of %d bytes exceeds format limit", len(s)))
		return
	}
	w.WriteUint16(uint16(len(s)))
	w.write([]byte(s))
}

// WriteCount writes a u16 element count
func (w *Writer) WriteCount(n int, what string) {
	if n > math.MaxUint16 {
		w.fail(fmt.Errorf("%d %s exceed format limit", n, what))
		return
	}
	w.WriteUint16(uint16(n))
}

// WriteNodeID writes a regular node id and rejects anything else
func (w *Writer) WriteNodeID(id model.NodeID) {
	v, ok := id.Regular()
	if !ok {
		w.fail(fmt.Errorf("%w: binary persistence can't store node id %s", model.ErrUnsupportedOperation, id))
		return
	}
	w.WriteByte(nodeIDRegular)
	w.WriteInt64(v)
}

// WriteModelIdentity writes module id, model id and model name
func (w *Writer) WriteModelIdentity(id model.ModelIdentity) {
	switch id.Module.Kind() {
	case model.IDNone:
		w.WriteByte(idNone)
	case model.IDRegular:
		u, _ := id.Module.UUID()
		w.WriteByte(idRegular)
		w.write(u[:])
	case model.IDForeign, model.IDOpaque:
		w.WriteByte(idForeign)
		w.WriteString(id.Module.Value())
	}

	switch id.Model.Kind() {
	case model.IDRegular:
		u, _ := id.Model.UUID()
		w.WriteByte(idRegular)
		w.write(u[:])
	case model.IDForeign:
		w.WriteByte(idForeign)
		w.WriteString(id.Model.Value())
	case model.IDOpaque:
		w.WriteByte(idOpaque)
		w.WriteString(id.Model.Value())
	case model.IDNone:
		w.fail(fmt.Errorf("%w: model %q has no id", model.ErrUnsupportedOperation, id.Name))
	}

	w.WriteString(id.Name)
}
