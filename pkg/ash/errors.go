package ash

import (
	"errors"
	"fmt"
)

// DecodeErrorKind distinguishes the recoverable ("soft") failures a Codec can
// surface from Decode. Incomplete is never one of these — it is represented
// by Decode's bool return, never an error.
type DecodeErrorKind int

const (
	// ErrUnknownFrame: no variant's control-byte discriminator matched.
	ErrUnknownFrame DecodeErrorKind = iota
	// ErrInvalidChecksum: CRC mismatch. Carries a best-effort Frame candidate.
	ErrInvalidChecksum
	// ErrInvalidDataField: DATA body length outside [3,128], or RSTACK/ERROR
	// payload length != 2. Carries a best-effort Frame candidate.
	ErrInvalidDataField
)

func (k DecodeErrorKind) String() string {
	switch k {
	case ErrUnknownFrame:
		return "unknown frame"
	case ErrInvalidChecksum:
		return "invalid checksum"
	case ErrInvalidDataField:
		return "invalid data field"
	default:
		return "decode error"
	}
}

// DecodeError is a soft failure: the codec has already advanced its buffer
// past the offending bytes by the time this is returned. Frame is non-nil
// when enough of the frame was parseable to extract a frm_num for NAKing
// (ErrInvalidChecksum/ErrInvalidDataField on what looked like a DATA frame).
type DecodeError struct {
	Kind  DecodeErrorKind
	Frame Frame
}

func (e *DecodeError) Error() string {
	if e.Frame != nil {
		return fmt.Sprintf("ash: %s (%s)", e.Kind, e.Frame.Kind())
	}
	return fmt.Sprintf("ash: %s", e.Kind)
}

// AsDecodeError unwraps err into a *DecodeError, if it is one.
func AsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Link-side transport errors.
var (
	// ErrChannel indicates the peer task (Link task or NcpActor) is gone.
	ErrChannel = errors.New("ash: peer channel closed")
)
