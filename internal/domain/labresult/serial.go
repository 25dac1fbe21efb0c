package labresult

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// MaxSequence is the largest per-year value that fits the six digit field.
const MaxSequence = 999999

// VerificationCodeLength is the length of an issued verification code.
const VerificationCodeLength = 32

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// FormatSerial renders prefix-year-sequence, e.g. LR-2026-000042.
func FormatSerial(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%04d-%06d", prefix, year, seq)
}

// ParseSerial splits a serial produced by FormatSerial.
func ParseSerial(serial string) (prefix string, year, seq int, err error) {
	parts := strings.Split(serial, "-")
	if len(parts) != 3 || parts[0] == "" || len(parts[1]) != 4 || len(parts[2]) != 6 {
		return "", 0, 0, fmt.Errorf("malformed serial number %q", serial)
	}
	year, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed serial year %q", parts[1])
	}
	seq, err = strconv.Atoi(parts[2])
	if err != nil || seq < 1 {
		return "", 0, 0, fmt.Errorf("malformed serial sequence %q", parts[2])
	}
	return parts[0], year, seq, nil
}

// serialPattern is the LIKE pattern matching every serial of a year.
func serialPattern(prefix string, year int) string {
	return fmt.Sprintf("%s-%04d-%%", prefix, year)
}

// NewVerificationCode returns VerificationCodeLength characters drawn
// uniformly from [A-Za-z0-9].
func NewVerificationCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(VerificationCodeLength)
	for i := 0; i < VerificationCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
