package sui

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// AddressLength is the length of Sui addresses and object ids.
const AddressLength = 32

type Address [AddressLength]byte

// ParseAddress accepts 0x-prefixed hex, left padded to 32 bytes when short.
func ParseAddress(s string) (Address, error) {
	var a Address

	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if h == "" || len(h) > 2*AddressLength {
		return a, errors.Errorf("invalid sui address %q", s)
	}
	h = strings.Repeat("0", 2*AddressLength-len(h)) + h

	raw, err := hex.DecodeString(h)
	if err != nil {
		return a, errors.Wrapf(err, "invalid sui address %q", s)
	}
	copy(a[:], raw)

	return a, nil
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ObjectRef pins an owned object at a version.
type ObjectRef struct {
	ID      Address
	Version uint64
	Digest  [32]byte
}

// ParseDigest decodes a base58 object or transaction digest.
func ParseDigest(s string) ([32]byte, error) {
	var d [32]byte

	raw, err := base58.Decode(s)
	if err != nil {
		return d, errors.Wrapf(err, "invalid digest %q", s)
	}
	if len(raw) != len(d) {
		return d, errors.Errorf("digest %q has %d bytes", s, len(raw))
	}
	copy(d[:], raw)

	return d, nil
}

// Argument references a transaction input or a command result.
type Argument struct {
	kind   uint8
	index  uint16
	nested uint16
}

func GasCoin() Argument {
	return Argument{kind: 0}
}

func Input(i uint16) Argument {
	return Argument{kind: 1, index: i}
}

func Result(cmd uint16) Argument {
	return Argument{kind: 2, index: cmd}
}

func NestedResult(cmd uint16, i uint16) Argument {
	return Argument{kind: 3, index: cmd, nested: i}
}

// CallArg is a pure value or an owned object input.
type CallArg struct {
	Pure   []byte
	Object *ObjectRef
}

func PureU64(v uint64) CallArg {
	e := &Encoder{}
	e.U64(v)

	return CallArg{Pure: e.Bytes()}
}

func PureAddress(a Address) CallArg {
	return CallArg{Pure: bytes.Clone(a[:])}
}

func OwnedObject(ref ObjectRef) CallArg {
	return CallArg{Object: &ref}
}

// Command is one programmable transaction command.
type Command interface {
	encode(e *Encoder)
}

type TransferObjects struct {
	Objects []Argument
	Address Argument
}

func (c TransferObjects) encode(e *Encoder) {
	e.ULEB128(1)
	e.Arguments(c.Objects)
	e.Argument(c.Address)
}

type SplitCoins struct {
	Coin    Argument
	Amounts []Argument
}

func (c SplitCoins) encode(e *Encoder) {
	e.ULEB128(2)
	e.Argument(c.Coin)
	e.Arguments(c.Amounts)
}

type MergeCoins struct {
	Destination Argument
	Sources     []Argument
}

func (c MergeCoins) encode(e *Encoder) {
	e.ULEB128(3)
	e.Argument(c.Destination)
	e.Arguments(c.Sources)
}

// TransactionData is the V1 transaction data of a programmable transaction without expiration.
type TransactionData struct {
	Inputs     []CallArg
	Commands   []Command
	Sender     Address
	GasPayment []ObjectRef
	GasOwner   Address
	GasPrice   uint64
	GasBudget  uint64
}

// Marshal returns the BCS encoding.
func (t *TransactionData) Marshal() []byte {
	e := &Encoder{}

	e.ULEB128(0) // V1
	e.ULEB128(0) // ProgrammableTransaction

	e.ULEB128(uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		if in.Object != nil {
			e.ULEB128(1)
			e.ULEB128(0) // ImmOrOwnedObject
			e.ObjectRef(*in.Object)
			continue
		}
		e.ULEB128(0)
		e.VecBytes(in.Pure)
	}

	e.ULEB128(uint64(len(t.Commands)))
	for _, c := range t.Commands {
		c.encode(e)
	}

	e.Fixed(t.Sender[:])

	e.ULEB128(uint64(len(t.GasPayment)))
	for _, ref := range t.GasPayment {
		e.ObjectRef(ref)
	}
	e.Fixed(t.GasOwner[:])
	e.U64(t.GasPrice)
	e.U64(t.GasBudget)

	e.ULEB128(0) // TransactionExpiration::None

	return e.Bytes()
}

// Encoder writes BCS values.
type Encoder struct {
	buf bytes.Buffer
}

func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *Encoder) ULEB128(v uint64) {
	for v >= 0x80 {
		e.buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	e.buf.WriteByte(byte(v))
}

func (e *Encoder) U16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) Fixed(b []byte) {
	e.buf.Write(b)
}

func (e *Encoder) VecBytes(b []byte) {
	e.ULEB128(uint64(len(b)))
	e.buf.Write(b)
}

func (e *Encoder) ObjectRef(ref ObjectRef) {
	e.Fixed(ref.ID[:])
	e.U64(ref.Version)
	e.VecBytes(ref.Digest[:])
}

func (e *Encoder) Argument(a Argument) {
	e.ULEB128(uint64(a.kind))
	switch a.kind {
	case 1, 2:
		e.U16(a.index)
	case 3:
		e.U16(a.index)
		e.U16(a.nested)
	}
}

func (e *Encoder) Arguments(args []Argument) {
	e.ULEB128(uint64(len(args)))
	for _, a := range args {
		e.Argument(a)
	}
}
