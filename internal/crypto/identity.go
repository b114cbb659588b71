package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Identity is the engine's signing identity: a secp256k1 key and the
// address derived from it. The address is the initiator the flash
// callback authenticates against and the ledger account settlements
// run as.
type Identity struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewIdentity resolves the private key via LoadKey and derives the
// engine address from it.
func NewIdentity(cfg KeyConfig) (*Identity, error) {
	keyHex, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing private key: %w", err)
	}
	return &Identity{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the engine identity address.
func (id *Identity) Address() common.Address {
	return id.address
}
