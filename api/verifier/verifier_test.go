// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package verifier

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/gorilla/mux"
	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/runtime"
	"github.com/helium/hpl/tuktuk"
)

func newTestTx(t *testing.T, entity *secp256k1.PrivateKey) []byte {
	t.Helper()
	data := entity.PubKey().SerializeCompressed()
	data = append(data, []byte("onboard")...)
	txBytes, err := borsh.Serialize(tuktuk.CompiledTransaction{
		Instructions: []runtime.Instruction{{
			ProgramID: hpl.BytesToAddress([]byte("entity-manager")),
			Data:      data,
		}},
	})
	require.NoError(t, err)
	return txBytes
}

func TestVerifyCoSigns(t *testing.T) {
	entity, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	wallet, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	v := New(wallet)

	txBytes := newTestTx(t, entity)
	msg := []byte("hotspot assertion payload")
	sig := secpecdsa.Sign(entity, hpl.Blake2b(msg).Bytes()).Serialize()

	signed, err := v.Verify(txBytes, msg, sig)
	require.NoError(t, err)
	require.Len(t, signed, len(txBytes)+65)
	assert.Equal(t, txBytes, signed[:len(txBytes)])

	// the appended compact signature recovers the verifier wallet
	recovered, compressed, err := secpecdsa.RecoverCompact(signed[len(txBytes):], hpl.Blake2b(txBytes).Bytes())
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Equal(t, v.PublicKey(), recovered.SerializeCompressed())
}

func TestVerifyRejections(t *testing.T) {
	entity, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	stranger, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	wallet, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	v := New(wallet)

	txBytes := newTestTx(t, entity)
	msg := []byte("payload")

	_, err = v.Verify(txBytes, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = v.Verify([]byte{0xff, 0xff}, msg, nil)
	assert.ErrorIs(t, err, ErrBadTransaction)

	strangerSig := secpecdsa.Sign(stranger, hpl.Blake2b(msg).Bytes()).Serialize()
	_, err = v.Verify(txBytes, msg, strangerSig)
	assert.ErrorIs(t, err, ErrBadSignature)

	bare, err := borsh.Serialize(tuktuk.CompiledTransaction{})
	require.NoError(t, err)
	goodSig := secpecdsa.Sign(entity, hpl.Blake2b(msg).Bytes()).Serialize()
	_, err = v.Verify(bare, msg, goodSig)
	assert.ErrorIs(t, err, ErrNoEntityKey)
}

func TestVerifyEndpoint(t *testing.T) {
	entity, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	wallet, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	router := mux.NewRouter()
	New(wallet).Mount(router, "/verify")
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	txBytes := newTestTx(t, entity)
	msg := []byte("payload")
	sig := secpecdsa.Sign(entity, hpl.Blake2b(msg).Bytes()).Serialize()

	body, err := json.Marshal(VerifyRequest{
		Transaction: base64.StdEncoding.EncodeToString(txBytes),
		Msg:         base64.StdEncoding.EncodeToString(msg),
		Signature:   base64.StdEncoding.EncodeToString(sig),
	})
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/verify", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	signed, err := base64.StdEncoding.DecodeString(out.Transaction)
	require.NoError(t, err)
	assert.Len(t, signed, len(txBytes)+65)

	// a tampered signature is rejected
	sig[10] ^= 0x01
	body, err = json.Marshal(VerifyRequest{
		Transaction: base64.StdEncoding.EncodeToString(txBytes),
		Msg:         base64.StdEncoding.EncodeToString(msg),
		Signature:   base64.StdEncoding.EncodeToString(sig),
	})
	require.NoError(t, err)
	resp2, err := http.Post(server.URL+"/verify", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}
