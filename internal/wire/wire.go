package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version   byte = 1
	KindValue byte = 1
	KindSet   byte = 2

	entryHeader = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("cachekit: corrupt entry")
	magic4     = [...]byte{'C', 'K', 'I', 'T'}
)

// Entry is a decoded envelope. ExpiresAt is unix nanoseconds; 0 means no expiry.
type Entry struct {
	Kind      byte
	ExpiresAt int64
	Payload   []byte
}

// Expired reports whether the entry is past its deadline at now (unix nanos).
func (e Entry) Expired(now int64) bool {
	return e.ExpiresAt != 0 && now > e.ExpiresAt
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeEntry: magic(4) | ver(1) | kind(1) | expiresAt(i64 be) | vlen(u32 be) | payload(vlen)
func EncodeEntry(kind byte, expiresAt int64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(entryHeader + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(expiresAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry parses an envelope. The returned payload aliases b.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < entryHeader || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	kind := b[5]
	if kind != KindValue && kind != KindSet {
		return Entry{}, ErrCorrupt
	}

	off := 6
	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}

	return Entry{Kind: kind, ExpiresAt: exp, Payload: b[off : off+vlen]}, nil
}

// EncodeMembers: n(u32 be) | (mlen(u16 be) | member(mlen)) * n
func EncodeMembers(members []string) ([]byte, error) {
	total := 4
	for _, m := range members {
		if l := len(m); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("cachekit: invalid set member length %d", l)
		}
		total += 2 + len(m)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(members)))
	buf.Write(u4[:])

	for _, m := range members {
		binary.BigEndian.PutUint16(u2[:], uint16(len(m)))
		buf.Write(u2[:])
		buf.WriteString(m)
	}
	return buf.Bytes(), nil
}

func DecodeMembers(b []byte) ([]string, error) {
	if len(b) < 4 {
		return nil, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint32(b[:4]))
	off := 4
	// each member needs at least 3 bytes; refuse counts the buffer can't hold
	if n < 0 || n > (len(b)-off)/3 {
		return nil, ErrCorrupt
	}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		mlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if mlen <= 0 || mlen > len(b)-off {
			return nil, ErrCorrupt
		}
		out = append(out, string(b[off:off+mlen]))
		off += mlen
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return out, nil
}
