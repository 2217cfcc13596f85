// Package payu implements the signature scheme of the PayU WebCheckout
// integration: MD5 (or optionally HMAC-SHA256) over a tilde-delimited base
// string. The delimiter, field order and value formatting are a wire
// contract with the gateway and must not change.
package payu

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"

	"motoshop-payments/config"
)

// Gateway state_pol codes.
const (
	StateApproved = "4"
	StateExpired  = "5"
	StateDeclined = "6"
	StatePending  = "7"
)

// SignPaymentRequest signs an outbound WebCheckout form.
// Base string: apiKey~merchantId~referenceCode~amount~currency, where amount
// carries exactly two decimals (use FormatAmount).
func SignPaymentRequest(cfg config.PayU, referenceCode, amount, currency string) string {
	base := fmt.Sprintf("%s~%s~%s~%s~%s", cfg.APIKey, cfg.MerchantID, referenceCode, amount, currency)
	return digest(cfg, base)
}

// SignConfirmation computes the signature PayU sends with a confirmation
// callback. Base string: apiKey~merchant_id~reference_sale~value~currency~state_pol,
// where value goes through the gateway's own normalization first.
func SignConfirmation(cfg config.PayU, referenceSale, rawValue, currency, statePol string) (string, error) {
	value, err := NormalizeValue(rawValue)
	if err != nil {
		return "", fmt.Errorf("normalize value %q: %w", rawValue, err)
	}
	base := fmt.Sprintf("%s~%s~%s~%s~%s~%s", cfg.APIKey, cfg.MerchantID, referenceSale, value, currency, statePol)
	return digest(cfg, base), nil
}

// NormalizeValue rounds the incoming decimal string to two places, then
// renders one decimal when the hundredths digit is zero and two otherwise.
// 150.20 -> "150.2", 150.00 -> "150.0", 150.25 -> "150.25". PayU applies the
// same rule before signing, so this must match byte for byte.
func NormalizeValue(raw string) (string, error) {
	val, err := decimal.NewFromString(raw)
	if err != nil {
		return "", err
	}
	val = val.Round(2)
	fixed := val.StringFixed(2)
	if fixed[len(fixed)-1] == '0' {
		return val.StringFixed(1), nil
	}
	return fixed, nil
}

// FormatAmount renders an order total the way the checkout form expects it:
// exactly two decimal places.
func FormatAmount(total decimal.Decimal) string {
	return total.StringFixed(2)
}

func digest(cfg config.PayU, base string) string {
	if cfg.SignatureAlg == "hmac-sha256" {
		secret := cfg.SecretKey
		if secret == "" {
			secret = cfg.APIKey
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(base))
		return hex.EncodeToString(mac.Sum(nil))
	}
	sum := md5.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares two hex signatures in constant time.
func VerifySignature(expected, received string) bool {
	return hmac.Equal([]byte(expected), []byte(received))
}
