package ash

// DecoderBuffer is a growable receive buffer with explicit consume semantics.
// Consume copies the unconsumed remainder into a fresh slice rather than
// re-slicing a single shared backing array in place, so no earlier caller
// can observe a buffer mutated out from under it.
//
// Dropping records whether a SUBSTITUTE byte has been seen with no FLAG
// observed since.
type DecoderBuffer struct {
	data     []byte
	Dropping bool
}

// Append adds b to the end of the buffer.
func (d *DecoderBuffer) Append(b []byte) {
	d.data = append(d.data, b...)
}

// Len returns the number of buffered bytes.
func (d *DecoderBuffer) Len() int {
	return len(d.data)
}

// Bytes returns the buffered bytes. The caller must not retain the slice
// across a call to Consume.
func (d *DecoderBuffer) Bytes() []byte {
	return d.data
}

// IndexByte returns the index of the first occurrence of b, or -1.
func (d *DecoderBuffer) IndexByte(b byte) int {
	for i, c := range d.data {
		if c == b {
			return i
		}
	}
	return -1
}

// IndexAny returns the index of the first occurrence of any byte in set, or -1.
func (d *DecoderBuffer) IndexAny(set ...byte) int {
	for i, c := range d.data {
		for _, s := range set {
			if c == s {
				return i
			}
		}
	}
	return -1
}

// Consume discards the first n bytes, taking an owned copy of the remainder.
func (d *DecoderBuffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(d.data) {
		d.data = nil
		return
	}
	rest := make([]byte, len(d.data)-n)
	copy(rest, d.data[n:])
	d.data = rest
}
