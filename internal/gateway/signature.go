package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const checksumSeparator = "###"

// Checksum signs payload+path with the shared salt key. The result is sent in
// the X-VERIFY header as "<hex sha256>###<salt index>".
func Checksum(payload, path, saltKey string, saltIndex int) string {
	sum := sha256.Sum256([]byte(payload + path + saltKey))
	return hex.EncodeToString(sum[:]) + checksumSeparator + strconv.Itoa(saltIndex)
}

// VerifyChecksum recomputes the checksum for payload+path and compares it with
// the received header in constant time.
func VerifyChecksum(header, payload, path, saltKey string, saltIndex int) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("%w: missing checksum", ErrInvalidSignature)
	}
	digest, index, ok := strings.Cut(header, checksumSeparator)
	if !ok {
		return fmt.Errorf("%w: malformed checksum", ErrInvalidSignature)
	}
	if index != strconv.Itoa(saltIndex) {
		return fmt.Errorf("%w: unexpected salt index %q", ErrInvalidSignature, index)
	}

	expected, _, _ := strings.Cut(Checksum(payload, path, saltKey, saltIndex), checksumSeparator)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(digest)), []byte(expected)) != 1 {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidSignature)
	}
	return nil
}
