// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package verifier implements the ECC signature verification endpoint. A
// client submits a transaction whose leading instruction embeds the entity's
// compressed secp256k1 key, plus a message signed by that key. The endpoint
// checks the signature and co-signs the transaction with the verifier wallet.
package verifier

import (
	"encoding/base64"
	"net/http"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/gorilla/mux"
	"github.com/near/borsh-go"
	"github.com/pkg/errors"

	"github.com/helium/hpl/api/restutil"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/tuktuk"
)

var (
	ErrNoEntityKey    = errors.New("verifier: transaction carries no entity key")
	ErrBadSignature   = errors.New("verifier: signature does not match entity key")
	ErrEmptyMessage   = errors.New("verifier: empty message")
	ErrBadTransaction = errors.New("verifier: undecodable transaction")
)

// entityKeyLen a compressed secp256k1 public key.
const entityKeyLen = 33

// VerifyRequest is the body of POST /verify. All fields are base64.
type VerifyRequest struct {
	Transaction string `json:"transaction"`
	Msg         string `json:"msg"`
	Signature   string `json:"signature"`
}

// VerifyResponse returns the transaction with the 65-byte compact verifier
// signature appended.
type VerifyResponse struct {
	Transaction string `json:"transaction"`
}

// Verifier holds the co-signing wallet.
type Verifier struct {
	key *secp256k1.PrivateKey
}

func New(key *secp256k1.PrivateKey) *Verifier {
	return &Verifier{key: key}
}

// PublicKey returns the verifier wallet's compressed public key.
func (v *Verifier) PublicKey() []byte {
	return v.key.PubKey().SerializeCompressed()
}

// Verify checks that sig is a DER ECDSA signature over Blake2b(msg) by the
// entity key embedded in the transaction, then appends the verifier's compact
// signature over Blake2b(txBytes).
func (v *Verifier) Verify(txBytes, msg, sig []byte) ([]byte, error) {
	if len(msg) == 0 {
		return nil, ErrEmptyMessage
	}
	var ct tuktuk.CompiledTransaction
	if err := borsh.Deserialize(&ct, txBytes); err != nil {
		return nil, ErrBadTransaction
	}
	if len(ct.Instructions) == 0 || len(ct.Instructions[0].Data) < entityKeyLen {
		return nil, ErrNoEntityKey
	}

	entityKey, err := secp256k1.ParsePubKey(ct.Instructions[0].Data[:entityKeyLen])
	if err != nil {
		return nil, errors.Wrap(ErrNoEntityKey, err.Error())
	}
	parsedSig, err := secpecdsa.ParseDERSignature(sig)
	if err != nil {
		return nil, errors.Wrap(ErrBadSignature, err.Error())
	}
	if !parsedSig.Verify(hpl.Blake2b(msg).Bytes(), entityKey) {
		return nil, ErrBadSignature
	}

	cosig := secpecdsa.SignCompact(v.key, hpl.Blake2b(txBytes).Bytes(), true)
	return append(txBytes, cosig...), nil
}

func (v *Verifier) handleVerify(w http.ResponseWriter, req *http.Request) error {
	var body VerifyRequest
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	txBytes, err := base64.StdEncoding.DecodeString(body.Transaction)
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "transaction"))
	}
	msg, err := base64.StdEncoding.DecodeString(body.Msg)
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "msg"))
	}
	sig, err := base64.StdEncoding.DecodeString(body.Signature)
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "signature"))
	}

	signed, err := v.Verify(txBytes, msg, sig)
	if err != nil {
		return restutil.BadRequest(err)
	}
	return restutil.WriteJSON(w, &VerifyResponse{
		Transaction: base64.StdEncoding.EncodeToString(signed),
	})
}

func (v *Verifier) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()
	sub.Path("").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(v.handleVerify))
}
