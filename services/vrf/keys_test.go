package vrf

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvingKeyFromHex(t *testing.T) {
	_, err := ProvingKeyFromHex("not-a-key")
	assert.ErrorIs(t, err, ErrInvalidCoordinatorKey)

	key, err := ProvingKeyFromHex(testKeyHex)
	require.NoError(t, err)
	assert.Len(t, key.Public().Bytes(), 65)
}

func TestEvaluate_ProofToHash(t *testing.T) {
	key, err := ProvingKeyFromHex(testKeyHex)
	require.NoError(t, err)
	pub := key.Public()
	seed := common.HexToHash("0x1234")

	output, proof, err := key.Evaluate(seed)
	require.NoError(t, err)

	again, proof2, err := key.Evaluate(seed)
	require.NoError(t, err)
	assert.Equal(t, output, again, "same seed must give the same output")
	assert.Equal(t, proof, proof2)

	got, err := pub.ProofToHash(seed, proof)
	require.NoError(t, err)
	assert.Equal(t, output, got)

	t.Run("other seed", func(t *testing.T) {
		_, err := pub.ProofToHash(common.HexToHash("0x5678"), proof)
		assert.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("other key", func(t *testing.T) {
		other, err := GenerateProvingKey()
		require.NoError(t, err)
		_, err = other.Public().ProofToHash(seed, proof)
		assert.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("truncated proof", func(t *testing.T) {
		_, err := pub.ProofToHash(seed, proof[:64])
		assert.ErrorIs(t, err, ErrInvalidProof)
	})
}

func TestVerify_DetectsTampering(t *testing.T) {
	key, err := ProvingKeyFromHex(testKeyHex)
	require.NoError(t, err)
	pub := key.Public()

	seed := RequestSeed(pub.KeyHash(), 1, consumerA, 1, 5)
	output, sig, err := key.Evaluate(seed)
	require.NoError(t, err)
	valid := Proof{
		KeyHash:        pub.KeyHash(),
		RequestID:      1,
		Consumer:       consumerA,
		SubscriptionID: 1,
		BlockNumber:    5,
		Seed:           seed,
		Signature:      sig,
		Output:         output,
		Words:          ExpandWords(output, 3),
	}
	require.NoError(t, pub.Verify(valid))

	tests := []struct {
		name   string
		mutate func(p *Proof)
	}{
		{"request id", func(p *Proof) { p.RequestID = 2 }},
		{"block", func(p *Proof) { p.BlockNumber = 6 }},
		{"output", func(p *Proof) { p.Output = common.Hash{9} }},
		{"word", func(p *Proof) { p.Words = []*uint256.Int{uint256.NewInt(1), p.Words[1], p.Words[2]} }},
		{"signature", func(p *Proof) {
			p.Signature = append([]byte(nil), p.Signature...)
			p.Signature[10] ^= 0xff
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			assert.ErrorIs(t, pub.Verify(p), ErrInvalidProof)
		})
	}
}

func TestExpandWords(t *testing.T) {
	out := common.HexToHash("0xabcdef")
	words := ExpandWords(out, 4)
	require.Len(t, words, 4)
	seen := map[string]bool{}
	for _, w := range words {
		seen[w.Hex()] = true
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, words[:2], ExpandWords(out, 2))
}
