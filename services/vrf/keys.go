package vrf

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ProvingKey produces randomness proofs. Signatures over secp256k1 are
// deterministic (RFC 6979) and low-s, so each seed has exactly one valid
// proof and therefore one output.
type ProvingKey struct {
	priv *ecdsa.PrivateKey
}

// GenerateProvingKey creates a fresh random key.
func GenerateProvingKey() (*ProvingKey, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &ProvingKey{priv: priv}, nil
}

// ProvingKeyFromHex loads a hex-encoded secp256k1 private key.
func ProvingKeyFromHex(hexKey string) (*ProvingKey, error) {
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoordinatorKey, err)
	}
	return &ProvingKey{priv: priv}, nil
}

// Public returns the verifying half of the key.
func (k *ProvingKey) Public() VerifyingKey {
	return VerifyingKey{pub: crypto.FromECDSAPub(&k.priv.PublicKey)}
}

// Evaluate signs seed and returns the output keccak256(signature) with the
// signature as proof.
func (k *ProvingKey) Evaluate(seed common.Hash) (common.Hash, []byte, error) {
	sig, err := crypto.Sign(seed[:], k.priv)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("sign seed: %w", err)
	}
	return crypto.Keccak256Hash(sig), sig, nil
}

// VerifyingKey checks proofs made by the matching ProvingKey.
type VerifyingKey struct {
	pub []byte // uncompressed, 65 bytes
}

// KeyHash identifies the key in requests.
func (v VerifyingKey) KeyHash() common.Hash {
	return crypto.Keccak256Hash(v.pub)
}

// Bytes returns the uncompressed public key.
func (v VerifyingKey) Bytes() []byte {
	return append([]byte(nil), v.pub...)
}

// ProofToHash checks proof against seed and returns the output it commits to.
func (v VerifyingKey) ProofToHash(seed common.Hash, proof []byte) (common.Hash, error) {
	if len(proof) != crypto.SignatureLength {
		return common.Hash{}, fmt.Errorf("%w: proof length %d", ErrInvalidProof, len(proof))
	}
	recovered, err := crypto.Ecrecover(seed[:], proof)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !bytes.Equal(recovered, v.pub) {
		return common.Hash{}, fmt.Errorf("%w: signer mismatch", ErrInvalidProof)
	}
	if !crypto.VerifySignature(v.pub, seed[:], proof[:64]) {
		return common.Hash{}, fmt.Errorf("%w: signature rejected", ErrInvalidProof)
	}
	return crypto.Keccak256Hash(proof), nil
}

// RequestSeed is the message signed for a request.
func RequestSeed(keyHash common.Hash, requestID uint64, consumer common.Address, subID uint64, block uint64) common.Hash {
	id := uint256.NewInt(requestID).Bytes32()
	sub := uint256.NewInt(subID).Bytes32()
	blk := uint256.NewInt(block).Bytes32()
	return crypto.Keccak256Hash(keyHash[:], id[:], consumer[:], sub[:], blk[:])
}

// ExpandWords derives n words from an output: word i is keccak256(output ‖ i).
func ExpandWords(output common.Hash, n uint32) []*uint256.Int {
	words := make([]*uint256.Int, n)
	for i := uint32(0); i < n; i++ {
		idx := uint256.NewInt(uint64(i)).Bytes32()
		words[i] = new(uint256.Int).SetBytes(crypto.Keccak256(output[:], idx[:]))
	}
	return words
}

// Proof lets anyone check that words came from the coordinator key.
type Proof struct {
	KeyHash        common.Hash    `json:"key_hash"`
	RequestID      uint64         `json:"request_id"`
	Consumer       common.Address `json:"consumer"`
	SubscriptionID uint64         `json:"subscription_id"`
	BlockNumber    uint64         `json:"block_number"`
	Seed           common.Hash    `json:"seed"`
	Signature      []byte         `json:"signature"`
	Output         common.Hash    `json:"output"`
	Words          []*uint256.Int `json:"words"`
}

// Verify checks every part of the proof against the key.
func (v VerifyingKey) Verify(p Proof) error {
	if p.KeyHash != v.KeyHash() {
		return fmt.Errorf("%w: key hash mismatch", ErrInvalidProof)
	}
	seed := RequestSeed(p.KeyHash, p.RequestID, p.Consumer, p.SubscriptionID, p.BlockNumber)
	if seed != p.Seed {
		return fmt.Errorf("%w: seed mismatch", ErrInvalidProof)
	}
	output, err := v.ProofToHash(seed, p.Signature)
	if err != nil {
		return err
	}
	if output != p.Output {
		return fmt.Errorf("%w: output mismatch", ErrInvalidProof)
	}
	want := ExpandWords(output, uint32(len(p.Words)))
	for i := range want {
		if p.Words[i] == nil || !p.Words[i].Eq(want[i]) {
			return fmt.Errorf("%w: word %d mismatch", ErrInvalidProof, i)
		}
	}
	return nil
}
