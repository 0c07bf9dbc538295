package spinclient

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
)

// Signature returns the key the provider attaches to callbacks: the
// lowercase hex MD5 digest of timestamp followed by salt, with no
// delimiter. MD5 is what the provider's callback senders use, so it must
// stay byte-identical to keep callbacks verifiable.
func Signature(timestamp, salt string) string {
	sum := md5.Sum([]byte(timestamp + salt))
	return hex.EncodeToString(sum[:])
}

// IsValidSignature reports whether provided equals Signature(timestamp, salt).
// The comparison is exact and case-sensitive.
func IsValidSignature(provided, timestamp, salt string) bool {
	expected := Signature(timestamp, salt)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
