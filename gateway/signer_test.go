// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/coinroster/cgsd/blockcypher"
	"github.com/stretchr/testify/require"
)

// TestSignAlignment checks that every hash gets one verifiable signature
// and one public key at the same position.
func TestSignAlignment(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5} {
		key := newTestKey(t, &chaincfg.MainNetParams)
		skel := testSkeleton(t, n)
		signer := NewKeySigner(&chaincfg.MainNetParams)

		signed, err := signer.Sign(skel, key.wif.String())
		require.NoError(t, err)
		require.Len(t, signed.Signatures, n)
		require.Len(t, signed.PubKeys, n)
		require.Equal(t, skel.ToSign, signed.ToSign)

		pub := key.wif.PrivKey.PubKey()
		for i, toSign := range skel.ToSign {
			hash, err := hex.DecodeString(toSign)
			require.NoError(t, err)

			der, err := hex.DecodeString(signed.Signatures[i])
			require.NoError(t, err)
			sig, err := ecdsa.ParseDERSignature(der)
			require.NoError(t, err)
			require.True(t, sig.Verify(hash, pub), "signature %d", i)

			require.Equal(t,
				hex.EncodeToString(pub.SerializeCompressed()),
				signed.PubKeys[i])
		}

		// Signing is deterministic and leaves the input alone.
		again, err := signer.Sign(skel, key.wif.String())
		require.NoError(t, err)
		require.Equal(t, signed.Signatures, again.Signatures)
		require.Empty(t, skel.Signatures)

		// Unknown skeleton fields travel with the signed copy.
		body, err := json.Marshal(signed)
		require.NoError(t, err)
		require.Contains(t, string(body), `"tx":{"fees":10}`)
	}
}

// TestSignFailures checks the inputs the signer refuses.
func TestSignFailures(t *testing.T) {
	t.Parallel()

	mainKey := newTestKey(t, &chaincfg.MainNetParams)
	testKey := newTestKey(t, &chaincfg.TestNet3Params)

	testCases := []struct {
		name   string
		skel   *blockcypher.Skeleton
		wif    string
		errMsg string
	}{
		{
			name:   "bad wif",
			skel:   testSkeleton(t, 1),
			wif:    "nope",
			errMsg: "decode wif",
		},
		{
			name:   "wif for another network",
			skel:   testSkeleton(t, 1),
			wif:    testKey.wif.String(),
			errMsg: "wif is not for",
		},
		{
			name:   "nothing to sign",
			skel:   &blockcypher.Skeleton{},
			wif:    mainKey.wif.String(),
			errMsg: "nothing to sign",
		},
		{
			name:   "not hex",
			skel:   &blockcypher.Skeleton{ToSign: []string{"zz"}},
			wif:    mainKey.wif.String(),
			errMsg: "tosign[0]",
		},
		{
			name:   "short hash",
			skel:   &blockcypher.Skeleton{ToSign: []string{"abcd"}},
			wif:    mainKey.wif.String(),
			errMsg: "tosign[0]",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			signer := NewKeySigner(&chaincfg.MainNetParams)
			_, err := signer.Sign(tc.skel, tc.wif)
			require.ErrorContains(t, err, tc.errMsg)
		})
	}
}
