package download

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"digitalstore/pkg/errutil"
)

// noVariant keeps the signed payload shape stable for purchases
// without a variant.
const noVariant = "no-variant"

func signature(secret, orderID, productID, userID, variantID string, issuedAt int64) string {
	variant := variantID
	if variant == "" {
		variant = noVariant
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:%s:%s:%d", orderID, productID, userID, variant, issuedAt)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignToken mints a capability token binding the purchase key, the
// caller and the issue time. The token is base64url over
// "hexsig:issuedAtMillis".
func SignToken(secret, orderID, productID, userID, variantID string, now time.Time) string {
	issuedAt := now.UnixMilli()
	raw := signature(secret, orderID, productID, userID, variantID, issuedAt) + ":" + strconv.FormatInt(issuedAt, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// VerifyToken checks a presented token against the same inputs it was
// signed over. The signature check runs in constant time and any
// malformed input is indistinguishable from a forged one.
func VerifyToken(secret, token, orderID, productID, userID, variantID string, ttl time.Duration, now time.Time) error {
	invalid := func() error {
		return errutil.Forbidden("invalid download token", nil)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return invalid()
	}

	idx := strings.LastIndexByte(string(raw), ':')
	if idx < 0 {
		return invalid()
	}
	sig, issuedStr := string(raw[:idx]), string(raw[idx+1:])

	issuedAt, err := strconv.ParseInt(issuedStr, 10, 64)
	if err != nil {
		return invalid()
	}

	expected := signature(secret, orderID, productID, userID, variantID, issuedAt)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return invalid()
	}

	issued := time.UnixMilli(issuedAt)
	if issued.After(now.Add(time.Minute)) {
		return invalid()
	}
	if now.Sub(issued) > ttl {
		return errutil.Forbidden("download token expired", nil)
	}

	return nil
}
