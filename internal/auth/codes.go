package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// OTPLength is the number of digits in an emailed one-time code.
const OTPLength = 6

// GenerateOTP returns a uniformly random numeric code of OTPLength digits,
// zero-padded ("004217").
func GenerateOTP() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("auth: generating otp: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}

// GenerateRefreshToken returns 32 random bytes, base64url encoded.
func GenerateRefreshToken() (string, error) {
	return randomToken("refresh token")
}

// GenerateResetToken returns the secret for a password reset link. Unlike an
// OTP it is never typed, so it gets the full 256 bits.
func GenerateResetToken() (string, error) {
	return randomToken("reset token")
}

func randomToken(kind string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating %s: %w", kind, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the storage form of OTPs, reset and refresh tokens. These are
// high-entropy or short-lived and attempt-limited, so a fast hash is enough;
// bcrypt is reserved for passwords.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TokenMatches compares a raw value against a stored hash in constant time.
func TokenMatches(raw, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(raw)), []byte(hash)) == 1
}
