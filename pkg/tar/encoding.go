package tar

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// NameEncoding converts between the raw bytes of name-bearing header fields
// and logical strings. Implementations are supplied by the caller; archives in
// the wild carry names in whatever encoding their producer used.
type NameEncoding interface {
	Decode(b []byte) (string, error)
	Encode(s string) ([]byte, error)
}

// UTF8Encoding passes names through as UTF-8, rejecting invalid sequences.
func UTF8Encoding() NameEncoding {
	return utf8Encoding{}
}

type utf8Encoding struct{}

func (utf8Encoding) Decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", &FieldError{Field: "name", Reason: "invalid UTF-8 sequence"}
	}
	return string(b), nil
}

func (utf8Encoding) Encode(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, &FieldError{Field: "name", Reason: "invalid UTF-8 sequence"}
	}
	return []byte(s), nil
}

// CharmapEncoding adapts a single-byte character map (e.g. ISO 8859-1) as a
// NameEncoding.
func CharmapEncoding(cm *charmap.Charmap) NameEncoding {
	return charmapEncoding{cm: cm}
}

type charmapEncoding struct {
	cm *charmap.Charmap
}

func (e charmapEncoding) Decode(b []byte) (string, error) {
	out, err := e.cm.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (e charmapEncoding) Encode(s string) ([]byte, error) {
	return e.cm.NewEncoder().Bytes([]byte(s))
}

// WithFallback returns an encoding that tries primary first and falls back to
// the given alternative when primary fails.
func WithFallback(primary, fallback NameEncoding) NameEncoding {
	return fallbackEncoding{primary: primary, fallback: fallback}
}

type fallbackEncoding struct {
	primary  NameEncoding
	fallback NameEncoding
}

func (e fallbackEncoding) Decode(b []byte) (string, error) {
	if s, err := e.primary.Decode(b); err == nil {
		return s, nil
	}
	return e.fallback.Decode(b)
}

func (e fallbackEncoding) Encode(s string) ([]byte, error) {
	if b, err := e.primary.Encode(s); err == nil {
		return b, nil
	}
	return e.fallback.Encode(s)
}

// DefaultNameEncoding is UTF-8 with a Latin-1 fallback; the fallback can
// decode any byte sequence, so decoding never fails.
func DefaultNameEncoding() NameEncoding {
	return WithFallback(UTF8Encoding(), CharmapEncoding(charmap.ISO8859_1))
}
