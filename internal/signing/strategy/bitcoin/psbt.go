package bitcoin

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
)

// InputSigner signs the sighash of one input and returns a DER signature.
type InputSigner func(index int, sighash []byte) ([]byte, error)

// KeySigner returns an InputSigner backed by key.
func KeySigner(key *btcec.PrivateKey) InputSigner {
	return func(_ int, sighash []byte) ([]byte, error) {
		return ecdsa.Sign(key, sighash).Serialize(), nil
	}
}

// SignedPSBT is the broadcast payload of a Bitcoin transfer.
type SignedPSBT struct {
	PSBT string `json:"psbt"`
	Hex  string `json:"hex"`
	TxID string `json:"txid"`
	Fee  int64  `json:"fee"`
}

// BuildPacket creates an unsigned P2WPKH PSBT spending sel from sender to recipient,
// with change back to sender when sel has two outputs.
func BuildPacket(sel *Selection, sender btcutil.Address, recipient btcutil.Address) (*psbt.Packet, error) {
	senderScript, err := txscript.PayToAddrScript(sender)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build sender script")
	}

	recipientScript, err := txscript.PayToAddrScript(recipient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build recipient script")
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range sel.Inputs {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, signing.WrapError(err, signing.CodeTransientRPC, "explorer returned invalid txid")
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
	}

	tx.AddTxOut(wire.NewTxOut(sel.Amount, recipientScript))
	if sel.Outputs == 2 {
		tx.AddTxOut(wire.NewTxOut(sel.Change, senderScript))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create psbt")
	}

	for i, u := range sel.Inputs {
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(u.Value, senderScript)
		packet.Inputs[i].SighashType = txscript.SigHashAll
	}

	return packet, nil
}

// SignPacket signs every input with signer, checks each signature against pub before finalizing,
// then runs the script engine over the extracted transaction.
func SignPacket(packet *psbt.Packet, pub *btcec.PublicKey, signer InputSigner) (*wire.MsgTx, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut, len(packet.Inputs)))
	for i, in := range packet.UnsignedTx.TxIn {
		fetcher.AddPrevOut(in.PreviousOutPoint, packet.Inputs[i].WitnessUtxo)
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create psbt updater")
	}

	pubBytes := pub.SerializeCompressed()
	for i := range packet.Inputs {
		utxo := packet.Inputs[i].WitnessUtxo

		sighash, err := txscript.CalcWitnessSigHash(utxo.PkScript, sigHashes, txscript.SigHashAll, packet.UnsignedTx, i, utxo.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to compute sighash of input %d", i)
		}

		der, err := signer(i, sighash)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to sign input %d", i)
		}

		sig, err := ecdsa.ParseDERSignature(der)
		if err != nil || !sig.Verify(sighash, pub) {
			return nil, signing.NewError(signing.CodeSignatureValidation, "signature of input %d does not verify", i)
		}

		outcome, err := updater.Sign(i, append(der, byte(txscript.SigHashAll)), pubBytes, nil, nil)
		if err != nil || outcome != psbt.SignSuccesful {
			return nil, signing.WrapError(err, signing.CodeSignatureValidation, "psbt rejected signature of input "+strconv.Itoa(i))
		}
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, signing.WrapError(err, signing.CodeSignatureValidation, "failed to finalize psbt")
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeSignatureValidation, "failed to extract transaction")
	}

	for i, in := range tx.TxIn {
		prev := fetcher.FetchPrevOutput(in.PreviousOutPoint)
		vm, err := txscript.NewEngine(prev.PkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, prev.Value, fetcher)
		if err != nil {
			return nil, signing.WrapError(err, signing.CodeSignatureValidation, "failed to create script engine")
		}
		if err := vm.Execute(); err != nil {
			return nil, signing.WrapError(err, signing.CodeSignatureValidation, "input "+strconv.Itoa(i)+" fails script validation")
		}
	}

	return tx, nil
}

// Encode serializes the signed packet and transaction.
func Encode(packet *psbt.Packet, tx *wire.MsgTx, fee int64) (*SignedPSBT, error) {
	b64, err := packet.B64Encode()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode psbt")
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to serialize transaction")
	}

	return &SignedPSBT{
		PSBT: b64,
		Hex:  hex.EncodeToString(buf.Bytes()),
		TxID: tx.TxHash().String(),
		Fee:  fee,
	}, nil
}
