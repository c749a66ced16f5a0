// Package codec converts text to and from the base64 transport encoding used
// by the remote execution service for source, stdin and output fields.
package codec

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encode converts text to its UTF-8 bytes encoded as padded standard base64
func Encode(text string) string {
	if text == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// Decode converts base64 transport text back to text. It never fails:
// malformed base64 keeps the bytes decoded before the first illegal
// character, and bytes that are not valid UTF-8 are read as ISO-8859-1.
func Decode(transport string) string {
	b := DecodeBytes(transport)
	if utf8.Valid(b) {
		return string(b)
	}
	return latin1(b)
}

// DecodeBytes returns the raw bytes carried by the transport text on a best
// effort basis. ASCII white space (the service wraps long lines) is ignored.
func DecodeBytes(transport string) []byte {
	s := stripSpace(transport)
	if s == "" {
		return nil
	}

	buf := make([]byte, base64.StdEncoding.DecodedLen(len(s)))
	n, err := base64.StdEncoding.Decode(buf, []byte(s))
	if err == nil {
		return buf[:n]
	}

	// missing padding is common with hand written payloads
	raw := strings.TrimRight(s, "=")
	rbuf := make([]byte, base64.RawStdEncoding.DecodedLen(len(raw)))
	if rn, rerr := base64.RawStdEncoding.Decode(rbuf, []byte(raw)); rerr == nil {
		return rbuf[:rn]
	}
	return buf[:n]
}

func stripSpace(s string) string {
	if strings.IndexAny(s, " \t\r\n\f\v") < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', '\f', '\v':
			return -1
		}
		return r
	}, s)
}

func latin1(b []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err == nil {
		return string(out)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
