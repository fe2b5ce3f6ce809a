// Package blip implements a framed wire message protocol: messages
// carrying a compact property dictionary and an optional body,
// exchanged over the full-duplex transport in
// internal/transport. Named after the profile-tagged message format it
// is grounded on, not any particular protocol version.
package blip

import (
	"encoding/binary"
	"fmt"
)

// Profile is the type tag of a wire message.
type Profile string

const (
	ProfileGetCheckpoint     Profile = "getCheckpoint"
	ProfileSetCheckpoint     Profile = "setCheckpoint"
	ProfileSubChanges        Profile = "subChanges"
	ProfileChanges           Profile = "changes"
	ProfileProposedChanges   Profile = "proposedChanges"
	ProfileRev               Profile = "rev"
	ProfileNoRev             Profile = "noRev"
	ProfileHeartbeat         Profile = "heartbeat"
)

// Message is one frame of the wire protocol: a profile, a property
// dictionary, and an optional body. Request messages expect a reply;
// IsResponse distinguishes a reply frame from a request frame sharing the
// same Number.
type Message struct {
	Number     uint64
	Profile    Profile
	Properties map[string]string
	Body       []byte
	IsResponse bool
	Error      string // set on an error response
}

// NewRequest creates an outbound request message.
func NewRequest(number uint64, profile Profile, props map[string]string, body []byte) Message {
	if props == nil {
		props = map[string]string{}
	}
	return Message{Number: number, Profile: profile, Properties: props, Body: body}
}

// Reply creates a success response to m.
func (m Message) Reply(props map[string]string, body []byte) Message {
	if props == nil {
		props = map[string]string{}
	}
	return Message{Number: m.Number, Profile: m.Profile, Properties: props, Body: body, IsResponse: true}
}

// ReplyError creates an error response to m.
func (m Message) ReplyError(errMsg string) Message {
	return Message{Number: m.Number, Profile: m.Profile, IsResponse: true, Error: errMsg}
}

// Encode serializes a message into the compact wire form: a header
// (number, profile, flags, error) followed by the property dictionary and
// then the raw body. Properties are sorted by key for determinism so two
// encodes of the same message produce identical bytes.
func Encode(m Message) []byte {
	buf := make([]byte, 0, 64+len(m.Body))
	buf = appendUvarint(buf, m.Number)
	buf = appendString(buf, string(m.Profile))
	flags := byte(0)
	if m.IsResponse {
		flags |= 1
	}
	buf = append(buf, flags)
	buf = appendString(buf, m.Error)
	buf = appendProperties(buf, m.Properties)
	buf = appendUvarint(buf, uint64(len(m.Body)))
	buf = append(buf, m.Body...)
	return buf
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (Message, error) {
	r := &reader{buf: data}
	num, err := r.uvarint()
	if err != nil {
		return Message{}, fmt.Errorf("blip: decode number: %w", err)
	}
	profile, err := r.string()
	if err != nil {
		return Message{}, fmt.Errorf("blip: decode profile: %w", err)
	}
	flags, err := r.byte()
	if err != nil {
		return Message{}, fmt.Errorf("blip: decode flags: %w", err)
	}
	errMsg, err := r.string()
	if err != nil {
		return Message{}, fmt.Errorf("blip: decode error string: %w", err)
	}
	props, err := r.properties()
	if err != nil {
		return Message{}, fmt.Errorf("blip: decode properties: %w", err)
	}
	bodyLen, err := r.uvarint()
	if err != nil {
		return Message{}, fmt.Errorf("blip: decode body length: %w", err)
	}
	body, err := r.bytes(int(bodyLen))
	if err != nil {
		return Message{}, fmt.Errorf("blip: decode body: %w", err)
	}
	return Message{
		Number:     num,
		Profile:    Profile(profile),
		Properties: props,
		Body:       body,
		IsResponse: flags&1 != 0,
		Error:      errMsg,
	}, nil
}

func appendUvarint(buf []byte, n uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmp[:], n)
	return append(buf, tmp[:l]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendProperties(buf []byte, props map[string]string) []byte {
	keys := sortedKeys(props)
	buf = appendUvarint(buf, uint64(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, props[k])
	}
	return buf
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	insertionSort(keys)
	return keys
}

func insertionSort(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("truncated")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("truncated uvarint")
	}
	r.pos += n
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("truncated bytes")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	if n == 0 {
		return nil, nil
	}
	cp := make([]byte, n)
	copy(cp, b)
	return cp, nil
}

func (r *reader) string() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) properties() (map[string]string, error) {
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	props := make(map[string]string, count)
	for i := uint64(0); i < count; i++ {
		k, err := r.string()
		if err != nil {
			return nil, err
		}
		v, err := r.string()
		if err != nil {
			return nil, err
		}
		props[k] = v
	}
	return props, nil
}
