package model

import (
	"errors"
	"fmt"
)

// Persistence error taxonomy
var (
	ErrMalformedStream                = errors.New("malformed stream")
	ErrUnsupportedVersion             = errors.New("unsupported stream version")
	ErrUnsupportedIdentityKind        = errors.New("unsupported identity kind")
	ErrUnsupportedOperation           = errors.New("unsupported operation")
	ErrUnsupportedCrossModelReference = errors.New("unsupported cross-model reference")
	ErrReadOnlyTarget                 = errors.New("target is read-only")
)

// StreamError reports a framing problem at a given stream offset
type StreamError struct {
	Offset int64
	Token  uint32 // Expected token, zero when not applicable
	Msg    string
}

func (e *StreamError) Error() string {
	if e.Token != 0 {
		return fmt.Sprintf("bad stream, %s (expected %#08x at offset %d)", e.Msg, e.Token, e.Offset)
	}
	return fmt.Sprintf("bad stream, %s (offset %d)", e.Msg, e.Offset)
}

func (e *StreamError) Unwrap() error { return ErrMalformedStream }

// VersionError reports a recognised but obsolete stream version
type VersionError struct {
	Version uint32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("can't read old binary persistence version (%x), please re-save models", e.Version)
}

func (e *VersionError) Unwrap() error { return ErrUnsupportedVersion }

// CrossModelError is raised for references into another model of the same store
type CrossModelError struct {
	Source      NodeID
	TargetModel ModelIdentity
	Target      NodeID
}

func (e *CrossModelError) Error() string {
	return fmt.Sprintf("reference from node %s to %s in model %s: same-store cross-model references are not implemented",
		e.Source, e.Target, e.TargetModel)
}

func (e *CrossModelError) Unwrap() error { return ErrUnsupportedCrossModelReference }
