package cookiejar

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/inkwell-db/replicore/internal/revtree"
)

// Encode serializes the persistent subset of the jar's cookies (those
// with Expires set; session cookies don't survive a process restart)
// into the reserved per-remote document body. Format: uvarint count,
// then per cookie a length-prefixed name/value/domain/path, an int64
// unix-nano Created and Expires, and a Secure byte.
func (j *Jar) Encode() []byte {
	cookies := j.Snapshot()
	persistent := cookies[:0:0]
	for _, c := range cookies {
		if c.Persistent() {
			persistent = append(persistent, c)
		}
	}
	buf := make([]byte, 0, 64*len(persistent)+10)
	buf = appendUvarint(buf, uint64(len(persistent)))
	for _, c := range persistent {
		buf = appendString(buf, c.Name)
		buf = appendString(buf, c.Value)
		buf = appendString(buf, c.Domain)
		buf = appendString(buf, c.Path)
		buf = appendInt64(buf, c.Created.UnixNano())
		buf = appendInt64(buf, c.Expires.UnixNano())
		if c.Secure {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// Decode returns a new jar holding the cookies encoded in data.
func Decode(data []byte) (*Jar, error) {
	r := &reader{buf: data}
	count, err := r.uvarint()
	if err != nil {
		return nil, fmt.Errorf("cookiejar: decode count: %w", err)
	}
	j := New()
	j.cookies = make([]revtree.Cookie, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		value, err := r.string()
		if err != nil {
			return nil, err
		}
		domain, err := r.string()
		if err != nil {
			return nil, err
		}
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		createdNS, err := r.int64()
		if err != nil {
			return nil, err
		}
		expiresNS, err := r.int64()
		if err != nil {
			return nil, err
		}
		secureByte, err := r.byte()
		if err != nil {
			return nil, err
		}
		c := revtree.Cookie{
			Name:    name,
			Value:   value,
			Domain:  domain,
			Path:    path,
			Created: timeFromUnixNano(createdNS),
			Expires: timeFromUnixNano(expiresNS),
			Secure:  secureByte != 0,
		}
		j.cookies = append(j.cookies, c)
	}
	return j, nil
}

func timeFromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func appendUvarint(buf []byte, n uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmp[:], n)
	return append(buf, tmp[:l]...)
}

func appendInt64(buf []byte, n int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(n))
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("cookiejar: truncated encoding")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("cookiejar: truncated uvarint")
	}
	r.pos += n
	return v, nil
}

func (r *reader) int64() (int64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("cookiejar: truncated int64")
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8]))
	r.pos += 8
	return v, nil
}

func (r *reader) string() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("cookiejar: truncated string")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
