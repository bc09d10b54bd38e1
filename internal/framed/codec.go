package framed

import "bytes"

// Decoder turns bytes into items.
//
// Decode inspects buf and, when a complete item is present, consumes exactly
// its bytes and returns it with ok set. When more bytes are needed it returns
// ok=false with a nil error and leaves buf untouched. A non-nil error means
// the stream is malformed and no further items will be decoded.
type Decoder[T any] interface {
	Decode(buf *bytes.Buffer) (item T, ok bool, err error)
}

// Encoder turns items into bytes appended to buf.
type Encoder[T any] interface {
	Encode(item T, buf *bytes.Buffer) error
}

// Codec decodes In items and encodes Out items on the same stream.
type Codec[In, Out any] interface {
	Decoder[In]
	Encoder[Out]
}
