package packet

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/traditionalchinese"
)

// charset converts protocol strings; nil means UTF-8 on the wire.
// Set once at startup, before any connection is accepted.
var charset encoding.Encoding

// SetCharset selects the string encoding used by Reader.ReadS and Writer.WriteS.
func SetCharset(name string) error {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		charset = nil
	case "ms950", "big5":
		charset = traditionalchinese.Big5
	case "shift_jis", "sjis":
		charset = japanese.ShiftJIS
	case "euc-kr":
		charset = korean.EUCKR
	default:
		return fmt.Errorf("unknown charset %q", name)
	}
	return nil
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

func decodeString(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if charset == nil || isASCII(raw) {
		return string(raw)
	}
	decoded, err := charset.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func encodeString(s string) []byte {
	if charset == nil || isASCII([]byte(s)) {
		return []byte(s)
	}
	encoded, err := charset.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return encoded
}
