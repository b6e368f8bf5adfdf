package ash

import "encoding/binary"

// Codec implements the ASH byte-level framing layer: CRC verification and
// computation, byte-unstuffing, and the cancel/substitute recovery
// discipline. A Codec owns one DecoderBuffer and is not safe for concurrent
// use — the Link task is its only caller.
type Codec struct {
	buf DecoderBuffer
}

// NewCodec returns a Codec with an empty receive buffer.
func NewCodec() *Codec {
	return &Codec{}
}

// Feed appends newly read bytes to the codec's receive buffer.
func (c *Codec) Feed(data []byte) {
	c.buf.Append(data)
}

// Decode attempts to extract one frame from the buffered bytes.
//
//   - ok=false: not enough bytes buffered yet to tell; the caller should feed
//     more and try again later, rather than treating this as an error.
//   - ok=true, err!=nil: a soft failure — the buffer has already been
//     advanced past the offending bytes; err is a *DecodeError.
//   - ok=true, err==nil: frame holds the successfully decoded Frame.
func (c *Codec) Decode() (frame Frame, err error, ok bool) {
	for {
		if c.buf.Dropping {
			idx := c.buf.IndexByte(ByteFlag)
			if idx < 0 {
				return nil, nil, false
			}
			c.buf.Consume(idx + 1)
			c.buf.Dropping = false
			continue
		}

		idx := c.buf.IndexAny(ByteSubstitute, ByteCancel, ByteFlag)
		if idx < 0 {
			return nil, nil, false
		}

		switch c.buf.Bytes()[idx] {
		case ByteCancel:
			c.buf.Consume(idx + 1)
			continue
		case ByteSubstitute:
			c.buf.Consume(idx + 1)
			c.buf.Dropping = true
			continue
		default: // ByteFlag: frame boundary found, extract it below.
		}

		stuffed := make([]byte, idx)
		copy(stuffed, c.buf.Bytes()[:idx])
		c.buf.Consume(idx + 1)

		if len(stuffed) == 0 {
			// Idle/extraneous FLAG with nothing preceding it; not an error.
			continue
		}

		raw := unstuff(stuffed)
		if len(raw) < 2 {
			// Too short to even carry a CRC; silently discard and resume.
			continue
		}

		body := raw[:len(raw)-2]
		receivedCRC := binary.BigEndian.Uint16(raw[len(raw)-2:])
		computedCRC := crc16(body)

		if receivedCRC != computedCRC {
			return nil, &DecodeError{Kind: ErrInvalidChecksum, Frame: bestEffortFrame(body)}, true
		}

		f, perr := parseFrame(body)
		if perr != nil {
			if de, isDE := AsDecodeError(perr); isDE {
				if de.Frame == nil {
					de.Frame = bestEffortFrame(body)
				}
				return nil, de, true
			}
			return nil, &DecodeError{Kind: ErrUnknownFrame}, true
		}
		return f, nil, true
	}
}

// bestEffortFrame extracts whatever context is recoverable from a
// control+payload span that failed checksum or length validation, so the
// link state machine can still NAK an out-of-sequence/corrupt DATA frame.
func bestEffortFrame(body []byte) Frame {
	if len(body) == 0 {
		return nil
	}
	frmNum, isData := dataFrmNumFromControl(body[0])
	if !isData {
		return nil
	}
	return DataFrame{FrmNum: frmNum, AckNum: TruncFrameNumber(body[0])}
}

// Encode appends the wire representation of frame (control byte, randomized
// payload for DATA, CRC, byte-stuffed, trailing FLAG) to out and returns the
// extended slice. Encode is infallible.
func Encode(frame Frame, out []byte) []byte {
	var raw []byte
	if d, isData := frame.(DataFrame); isData {
		randomized := make([]byte, len(d.Body))
		copy(randomized, d.Body)
		derandomize(randomized) // XOR is self-inverse: this randomizes on encode.
		d.Body = randomized
		raw = d.encodeBody(nil)
	} else {
		raw = frame.encodeBody(nil)
	}

	crc := crc16(raw)
	raw = append(raw, byte(crc>>8), byte(crc))

	out = append(out, stuff(raw)...)
	out = append(out, ByteFlag)
	return out
}
