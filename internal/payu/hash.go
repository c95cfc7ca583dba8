package payu

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Field orderings are positional per the PayU hash contract. A field that
// does not apply is an empty-string placeholder, never omitted: dropping a
// slot shifts every later field and the mismatch only surfaces when the
// provider rejects the hash. Changing an ordering is a configuration-level
// edit here, not a branch at call sites.
var (
	// requestOrder feeds sha512(key|txnid|amount|productinfo|firstname|email|udf1..udf10|salt).
	requestOrder = []string{
		"key", "txnid", "amount", "productinfo", "firstname", "email",
		"udf1", "udf2", "udf3", "udf4", "udf5",
		"udf6", "udf7", "udf8", "udf9", "udf10",
	}

	// responseOrder is the request order reversed; the digest input is
	// sha512(salt|status|udf10..udf1|email|firstname|productinfo|amount|txnid|key).
	responseOrder = []string{
		"udf10", "udf9", "udf8", "udf7", "udf6",
		"udf5", "udf4", "udf3", "udf2", "udf1",
		"email", "firstname", "productinfo", "amount", "txnid", "key",
	}
)

// Fields carries the payload values that participate in hash construction.
// String values must be used exactly as transmitted; re-encoding or trimming
// between construction and verification breaks the digest.
type Fields struct {
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	UDF         [5]string
}

// Codec computes and verifies the PayU keyed hash families for one merchant
// key/salt pair. All methods are pure.
type Codec struct {
	Key  string
	Salt string
}

func (f Fields) values(key string) map[string]string {
	m := map[string]string{
		"key":         key,
		"txnid":       f.TxnID,
		"amount":      f.Amount,
		"productinfo": f.ProductInfo,
		"firstname":   f.FirstName,
		"email":       f.Email,
	}
	for i, v := range f.UDF {
		m["udf"+strconv.Itoa(i+1)] = v
	}
	// udf6..udf10 are reserved by the provider and always empty.
	for _, slot := range []string{"udf6", "udf7", "udf8", "udf9", "udf10"} {
		m[slot] = ""
	}
	return m
}

func joinOrdered(values map[string]string, order []string) string {
	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, values[name])
	}
	return strings.Join(parts, "|")
}

// RequestHash computes the request-authentication hash: the ordered payload
// fields with the salt appended last.
func (c Codec) RequestHash(f Fields) string {
	raw := joinOrdered(f.values(c.Key), requestOrder) + "|" + c.Salt
	return sha512Hex(raw)
}

// ResponseHash computes the verification hash for an inbound callback: the
// salt comes first, followed by the transaction status and the reversed
// field order.
func (c Codec) ResponseHash(status string, f Fields) string {
	raw := c.Salt + "|" + status + "|" + joinOrdered(f.values(c.Key), responseOrder)
	return sha512Hex(raw)
}

// VerifyResponse compares the provider-supplied hash against the locally
// recomputed one in constant time.
func (c Codec) VerifyResponse(status string, f Fields, provided string) bool {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if provided == "" {
		return false
	}
	expected := c.ResponseHash(status, f)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// QueryHash computes the hash authorising a server-to-server query API call:
// sha512(key|command|var1|salt).
func (c Codec) QueryHash(command, var1 string) string {
	return sha512Hex(c.Key + "|" + command + "|" + var1 + "|" + c.Salt)
}

// SignRequest produces the HMAC-SHA512 signature over the request date used
// by the hosted-checkout REST authorization header.
func (c Codec) SignRequest(date string) string {
	mac := hmac.New(sha512.New, []byte(c.Salt))
	mac.Write([]byte("date: " + date))
	return hex.EncodeToString(mac.Sum(nil))
}

func sha512Hex(raw string) string {
	sum := sha512.Sum512([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// FormatAmount renders a minor-unit amount the way PayU expects it: a
// decimal string with exactly two fraction digits. Rounding happens only
// here, at the transmission boundary.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// ParseAmount converts a provider-formatted decimal amount back into minor
// units. Sub-paisa precision is rounded half-up, mirroring FormatAmount.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
