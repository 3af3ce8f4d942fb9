package forwarder

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer abstracts typed-data signing for the forwarder.
type Signer interface {
	From() common.Address
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// LocalECDSASigner signs typed data with a local secp256k1 private key.
type LocalECDSASigner struct {
	key  *ecdsa.PrivateKey
	from common.Address
}

func NewLocalECDSASigner(key *ecdsa.PrivateKey) *LocalECDSASigner {
	return &LocalECDSASigner{
		key:  key,
		from: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *LocalECDSASigner) From() common.Address { return s.from }

// SignTypedData produces a 65-byte EIP-712 signature with the v value in its
// on-chain 27/28 form.
func (s *LocalECDSASigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
