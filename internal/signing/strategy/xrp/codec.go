package xrp

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const rippleAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

var alphabet = base58.NewAlphabet(rippleAlphabet)

// Hash prefixes.
var (
	prefixTxSign = []byte{'S', 'T', 'X', 0}
	prefixTxID   = []byte{'T', 'X', 'N', 0}
)

// Serialized type codes.
const (
	typeUInt16    = 1
	typeUInt32    = 2
	typeAmount    = 6
	typeBlob      = 7
	typeAccountID = 8
	typeSTObject  = 14
	typeSTArray   = 15
)

const (
	objectEnd = 0xE1
	arrayEnd  = 0xF1
)

// Field names a Payment uses, with their (type, field) codes.
var (
	FieldTransactionType    = Field{"TransactionType", typeUInt16, 2}
	FieldFlags              = Field{"Flags", typeUInt32, 2}
	FieldSequence           = Field{"Sequence", typeUInt32, 4}
	FieldDestinationTag     = Field{"DestinationTag", typeUInt32, 14}
	FieldLastLedgerSequence = Field{"LastLedgerSequence", typeUInt32, 27}
	FieldAmount             = Field{"Amount", typeAmount, 1}
	FieldFee                = Field{"Fee", typeAmount, 8}
	FieldSigningPubKey      = Field{"SigningPubKey", typeBlob, 3}
	FieldTxnSignature       = Field{"TxnSignature", typeBlob, 4}
	FieldMemoData           = Field{"MemoData", typeBlob, 13}
	FieldAccount            = Field{"Account", typeAccountID, 1}
	FieldDestination        = Field{"Destination", typeAccountID, 3}
	FieldMemo               = Field{"Memo", typeSTObject, 10}
	FieldMemos              = Field{"Memos", typeSTArray, 9}
)

// Field identifies a serialized field.
type Field struct {
	Name string
	Type int
	Code int
}

// Header returns the field id bytes.
func (f Field) Header() []byte {
	switch {
	case f.Type < 16 && f.Code < 16:
		return []byte{byte(f.Type<<4 | f.Code)}
	case f.Type < 16:
		return []byte{byte(f.Type << 4), byte(f.Code)}
	case f.Code < 16:
		return []byte{byte(f.Code), byte(f.Type)}
	default:
		return []byte{0, byte(f.Type), byte(f.Code)}
	}
}

// Value is an encoded field value.
type Value struct {
	Field Field
	Bytes []byte
}

// Object is a set of fields serialized in canonical (type, code) order.
type Object []Value

func (o Object) Serialize(skip ...Field) []byte {
	sorted := make(Object, 0, len(o))
outer:
	for _, v := range o {
		for _, s := range skip {
			if v.Field == s {
				continue outer
			}
		}
		sorted = append(sorted, v)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Field.Type != sorted[j].Field.Type {
			return sorted[i].Field.Type < sorted[j].Field.Type
		}
		return sorted[i].Field.Code < sorted[j].Field.Code
	})

	var buf bytes.Buffer
	for _, v := range sorted {
		buf.Write(v.Field.Header())
		buf.Write(v.Bytes)
	}

	return buf.Bytes()
}

func UInt16(f Field, v uint16) Value {
	return Value{Field: f, Bytes: binary.BigEndian.AppendUint16(nil, v)}
}

func UInt32(f Field, v uint32) Value {
	return Value{Field: f, Bytes: binary.BigEndian.AppendUint32(nil, v)}
}

func Blob(f Field, b []byte) Value {
	return Value{Field: f, Bytes: append(lengthPrefix(len(b)), b...)}
}

func Account(f Field, id []byte) Value {
	return Value{Field: f, Bytes: append(lengthPrefix(len(id)), id...)}
}

// Memos wraps data in a single Memo with MemoData.
func Memos(data []byte) Value {
	var buf bytes.Buffer
	buf.Write(FieldMemo.Header())
	buf.Write(Object{Blob(FieldMemoData, data)}.Serialize())
	buf.WriteByte(objectEnd)
	buf.WriteByte(arrayEnd)

	return Value{Field: FieldMemos, Bytes: buf.Bytes()}
}

func lengthPrefix(n int) []byte {
	switch {
	case n <= 192: //nolint:mnd
		return []byte{byte(n)}
	case n <= 12480: //nolint:mnd
		n -= 193
		return []byte{byte(193 + (n >> 8)), byte(n)}
	default:
		n -= 12481
		return []byte{byte(241 + (n >> 16)), byte(n >> 8), byte(n)}
	}
}

// DropsAmount encodes a native amount in drops.
func DropsAmount(f Field, drops uint64) (Value, error) {
	if drops >= 1<<62 {
		return Value{}, errors.Errorf("drops amount %d out of range", drops)
	}

	return Value{Field: f, Bytes: binary.BigEndian.AppendUint64(nil, drops|1<<62)}, nil
}

// Issued-currency mantissa and exponent bounds.
const (
	minMantissa = 1_000_000_000_000_000
	maxMantissa = 9_999_999_999_999_999
	minExponent = -96
	maxExponent = 80
)

// IssuedAmount encodes value of currency issued by issuer.
func IssuedAmount(f Field, value decimal.Decimal, currency string, issuer []byte) (Value, error) {
	if value.IsNegative() {
		return Value{}, errors.New("issued amount must not be negative")
	}

	code, err := CurrencyCode(currency)
	if err != nil {
		return Value{}, err
	}

	head := uint64(1) << 63
	if !value.IsZero() {
		mantissa := new(big.Int).Set(value.Coefficient())
		exponent := int(value.Exponent())

		ten := big.NewInt(10) //nolint:mnd
		for mantissa.Cmp(big.NewInt(minMantissa)) < 0 {
			mantissa.Mul(mantissa, ten)
			exponent--
		}
		for mantissa.Cmp(big.NewInt(maxMantissa)) > 0 {
			q, r := new(big.Int).QuoRem(mantissa, ten, new(big.Int))
			if r.Sign() != 0 {
				return Value{}, errors.Errorf("issued amount %s exceeds 16 significant digits", value)
			}
			mantissa = q
			exponent++
		}
		if exponent < minExponent || exponent > maxExponent {
			return Value{}, errors.Errorf("issued amount %s out of range", value)
		}

		head |= 1 << 62
		head |= uint64(exponent+97) << 54 //nolint:gosec
		head |= mantissa.Uint64()
	}

	out := binary.BigEndian.AppendUint64(nil, head)
	out = append(out, code...)
	out = append(out, issuer...)

	return Value{Field: f, Bytes: out}, nil
}

// CurrencyCode returns the 20-byte currency code for a three-letter ISO-style code or 40 hex characters.
func CurrencyCode(currency string) ([]byte, error) {
	if len(currency) == 40 { //nolint:mnd
		b, err := hex.DecodeString(currency)
		if err != nil {
			return nil, errors.Wrap(err, "invalid hex currency code")
		}
		return b, nil
	}

	if len(currency) != 3 || strings.EqualFold(currency, "XRP") {
		return nil, errors.Errorf("invalid currency code %q", currency)
	}

	code := make([]byte, 20) //nolint:mnd
	copy(code[12:], currency)

	return code, nil
}

// SHA512Half is the first half of SHA-512.
func SHA512Half(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}

	return h.Sum(nil)[:32]
}

// AccountID is RIPEMD160(SHA256(pub)).
func AccountID(compressedPub []byte) []byte {
	return btcutil.Hash160(compressedPub)
}

// EncodeAddress renders an account id as a classic r-address.
func EncodeAddress(accountID []byte) string {
	payload := append([]byte{0}, accountID...)

	return base58.EncodeAlphabet(append(payload, checksum(payload)...), alphabet)
}

// DecodeAddress parses a classic r-address.
func DecodeAddress(address string) ([]byte, error) {
	raw, err := base58.DecodeAlphabet(address, alphabet)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base58")
	}
	if len(raw) != 25 || raw[0] != 0 { //nolint:mnd
		return nil, errors.Errorf("address %q is not a classic account address", address)
	}
	if !bytes.Equal(checksum(raw[:21]), raw[21:]) {
		return nil, errors.Errorf("address %q has a bad checksum", address)
	}

	return raw[1:21], nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])

	return second[:4]
}
