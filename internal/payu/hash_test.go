package payu_test

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarfarazstark/audiophile/internal/payu"
)

var codec = payu.Codec{Key: "gtKFFx", Salt: "eCwWELxi"}

func sampleFields() payu.Fields {
	return payu.Fields{
		TxnID:       "c4ca4238a0b92382",
		Amount:      "1260.00",
		ProductInfo: "XX99 Mark II Headphones x 1",
		FirstName:   "Ravi",
		Email:       "ravi@example.com",
	}
}

func TestRequestHashLayout(t *testing.T) {
	f := sampleFields()
	// key|txnid|amount|productinfo|firstname|email|udf1..udf10|salt
	raw := strings.Join([]string{
		"gtKFFx", f.TxnID, f.Amount, f.ProductInfo, f.FirstName, f.Email,
		"", "", "", "", "", "", "", "", "", "",
		"eCwWELxi",
	}, "|")
	sum := sha512.Sum512([]byte(raw))
	require.Equal(t, hex.EncodeToString(sum[:]), codec.RequestHash(f))
}

func TestResponseHashLayout(t *testing.T) {
	f := sampleFields()
	// salt|status|udf10..udf1|email|firstname|productinfo|amount|txnid|key
	raw := strings.Join([]string{
		"eCwWELxi", "success",
		"", "", "", "", "", "", "", "", "", "",
		f.Email, f.FirstName, f.ProductInfo, f.Amount, f.TxnID,
		"gtKFFx",
	}, "|")
	sum := sha512.Sum512([]byte(raw))
	require.Equal(t, hex.EncodeToString(sum[:]), codec.ResponseHash("success", f))
}

func TestVerifyResponseRoundTrip(t *testing.T) {
	f := sampleFields()
	hash := codec.ResponseHash("success", f)
	require.True(t, codec.VerifyResponse("success", f, hash))
	require.True(t, codec.VerifyResponse("success", f, "  "+strings.ToUpper(hash)+" "), "provided digests are normalised before comparison")
}

func TestVerifyResponseRejectsTampering(t *testing.T) {
	f := sampleFields()
	hash := codec.ResponseHash("success", f)

	tampered := f
	tampered.Amount = "1.00"
	require.False(t, codec.VerifyResponse("success", tampered, hash))

	tampered = f
	tampered.Email = "attacker@example.com"
	require.False(t, codec.VerifyResponse("success", tampered, hash))

	require.False(t, codec.VerifyResponse("failure", f, hash))

	other := payu.Codec{Key: codec.Key, Salt: "different-salt"}
	require.False(t, other.VerifyResponse("success", f, hash))

	require.False(t, codec.VerifyResponse("success", f, ""))
}

func TestUDFPlaceholdersShiftHash(t *testing.T) {
	f := sampleFields()
	withUDF := f
	withUDF.UDF[0] = "tracking-hint"
	require.NotEqual(t, codec.RequestHash(f), codec.RequestHash(withUDF))
	require.NotEqual(t, codec.ResponseHash("success", f), codec.ResponseHash("success", withUDF))
}

func TestQueryHash(t *testing.T) {
	raw := "gtKFFx|verify_payment|txn-1|eCwWELxi"
	sum := sha512.Sum512([]byte(raw))
	require.Equal(t, hex.EncodeToString(sum[:]), codec.QueryHash("verify_payment", "txn-1"))
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "1260.00", payu.FormatAmount(126_000))
	require.Equal(t, "0.05", payu.FormatAmount(5))
	require.Equal(t, "999999.99", payu.FormatAmount(99_999_999))
}

func TestParseAmount(t *testing.T) {
	minor, err := payu.ParseAmount("1260.00")
	require.NoError(t, err)
	require.Equal(t, int64(126_000), minor)

	minor, err = payu.ParseAmount(" 1260 ")
	require.NoError(t, err)
	require.Equal(t, int64(126_000), minor)

	_, err = payu.ParseAmount("not-a-number")
	require.Error(t, err)
}
