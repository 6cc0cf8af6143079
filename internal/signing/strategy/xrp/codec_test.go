package xrp_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/signing/strategy/xrp"
)

func TestFieldHeaders(t *testing.T) {
	tests := []struct {
		field xrp.Field
		want  string
	}{
		{xrp.FieldTransactionType, "12"},
		{xrp.FieldFlags, "22"},
		{xrp.FieldSequence, "24"},
		{xrp.FieldDestinationTag, "2e"},
		{xrp.FieldLastLedgerSequence, "201b"},
		{xrp.FieldAmount, "61"},
		{xrp.FieldFee, "68"},
		{xrp.FieldSigningPubKey, "73"},
		{xrp.FieldTxnSignature, "74"},
		{xrp.FieldMemoData, "7d"},
		{xrp.FieldAccount, "81"},
		{xrp.FieldDestination, "83"},
		{xrp.FieldMemo, "ea"},
		{xrp.FieldMemos, "f9"},
	}

	for _, tt := range tests {
		t.Run(tt.field.Name, func(t *testing.T) {
			assert.Equal(t, tt.want, hex.EncodeToString(tt.field.Header()))
		})
	}
}

func TestAddressEncoding(t *testing.T) {
	assert.Equal(t, "rrrrrrrrrrrrrrrrrrrrrhoLvTp", xrp.EncodeAddress(make([]byte, 20)))

	pub, err := hex.DecodeString("0330E7FC9D56BB25D6893BA3F317AE5BCF33B3291BD63DB32654A313222F7FD020")
	require.NoError(t, err)
	genesis := xrp.EncodeAddress(xrp.AccountID(pub))
	assert.Equal(t, "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", genesis)

	id, err := xrp.DecodeAddress(genesis)
	require.NoError(t, err)
	assert.Equal(t, xrp.AccountID(pub), id)

	_, err = xrp.DecodeAddress("rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTi")
	require.Error(t, err)
}

func TestAmountEncoding(t *testing.T) {
	drops, err := xrp.DropsAmount(xrp.FieldAmount, 1)
	require.NoError(t, err)
	assert.Equal(t, "4000000000000001", hex.EncodeToString(drops.Bytes))

	issuer := make([]byte, 20)
	one, err := xrp.IssuedAmount(xrp.FieldAmount, decimal.NewFromInt(1), "USD", issuer)
	require.NoError(t, err)
	require.Len(t, one.Bytes, 48)
	assert.Equal(t, "d4838d7ea4c68000", hex.EncodeToString(one.Bytes[:8]))
	assert.Equal(t, "0000000000000000000000005553440000000000", hex.EncodeToString(one.Bytes[8:28]))

	zero, err := xrp.IssuedAmount(xrp.FieldAmount, decimal.Zero, "USD", issuer)
	require.NoError(t, err)
	assert.Equal(t, "8000000000000000", hex.EncodeToString(zero.Bytes[:8]))

	_, err = xrp.IssuedAmount(xrp.FieldAmount, decimal.RequireFromString("1.00000000000000001"), "USD", issuer)
	require.Error(t, err)

	_, err = xrp.IssuedAmount(xrp.FieldAmount, decimal.NewFromInt(1), "XRP", issuer)
	require.Error(t, err)
}

func TestCanonicalFieldOrder(t *testing.T) {
	obj := xrp.Object{
		xrp.Account(xrp.FieldAccount, make([]byte, 20)),
		xrp.UInt32(xrp.FieldSequence, 7),
		xrp.UInt16(xrp.FieldTransactionType, 0),
		xrp.UInt32(xrp.FieldFlags, 0x80000000),
	}

	got := hex.EncodeToString(obj.Serialize())
	assert.True(t, strings.HasPrefix(got, "120000"+"2280000000"+"2400000007"+"8114"), got)
}

func TestMemosEncoding(t *testing.T) {
	got := hex.EncodeToString(xrp.Memos([]byte("hi")).Bytes)
	assert.Equal(t, "ea"+"7d026869"+"e1"+"f1", got)
}
