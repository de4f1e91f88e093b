// Package codec defines how typed values cross the backend boundary.
//
// Backends only ever see []byte. Every typed read or write goes through a
// Codec[V], so the bytes written by one process (or one backend) decode the
// same way everywhere else.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
