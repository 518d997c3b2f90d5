package main

import (
	"bytes"
	"testing"

	"evshop-payment/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintSignatureMatchesVNPay(t *testing.T) {
	fields := map[string]string{
		"vnp_Amount":    "100000000",
		"vnp_OrderInfo": "Thanh toan don hang DH000777",
		"vnp_TxnRef":    "EV-DH000777-1",
	}
	sig := gateway.HMACSHA512("secret", gateway.CanonicalQuery(fields, gateway.EncodingQuery))

	values, err := parseQuery("https://shop.test/return?vnp_Amount=100000000&vnp_OrderInfo=Thanh+toan+don+hang+DH000777&vnp_TxnRef=EV-DH000777-1&vnp_SecureHash=" + sig)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printSignature(&out, values, "secret", gateway.EncodingQuery, "sha512", values.Get("vnp_SecureHash")))

	assert.Contains(t, out.String(), "canonical: vnp_Amount=100000000&vnp_OrderInfo=Thanh+toan+don+hang+DH000777&vnp_TxnRef=EV-DH000777-1\n")
	assert.Contains(t, out.String(), "signature: "+sig+"\n")
	assert.Contains(t, out.String(), "matches:   true")
}

func TestPrintSignatureUnknownAlgo(t *testing.T) {
	values, err := parseQuery("a=1")
	require.NoError(t, err)
	assert.Error(t, printSignature(&bytes.Buffer{}, values, "s", gateway.EncodingRaw, "md5", ""))
}
