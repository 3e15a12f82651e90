// Package account holds wallet keys and derives their addresses.
package account

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is a signing wallet. The core never mutates it; nonce state lives
// in the session's nonce sequencer.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
	// Label is a human name such as the PRIVATE_KEY_* suffix; may be empty.
	Label string
}

// NewAccount creates an account from a private key.
func NewAccount(privateKey *ecdsa.PrivateKey) *Account {
	return &Account{
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewAccountFromHex creates an account from a hex-encoded private key.
// A leading 0x is accepted.
func NewAccountFromHex(hexKey string) (*Account, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, err
	}
	return NewAccount(privateKey), nil
}

// Generate creates a fresh random account.
func Generate() (*Account, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewAccount(privateKey), nil
}

// PrivateKeyHex returns the hex-encoded private key without 0x.
func (a *Account) PrivateKeyHex() string {
	return common.Bytes2Hex(crypto.FromECDSA(a.PrivateKey))
}

// String returns the label and checksummed address.
func (a *Account) String() string {
	if a.Label == "" {
		return a.Address.Hex()
	}
	return a.Label + " (" + a.Address.Hex() + ")"
}

// KeyPair holds an address and its hex-encoded private key for persistence.
type KeyPair struct {
	Address       string
	PrivateKeyHex string
}

// Export returns the persistable key pair of each account.
func Export(accounts []*Account) []KeyPair {
	pairs := make([]KeyPair, len(accounts))
	for i, acc := range accounts {
		pairs[i] = KeyPair{
			Address:       acc.Address.Hex(),
			PrivateKeyHex: acc.PrivateKeyHex(),
		}
	}
	return pairs
}

// LabeledKey is a hex key with the name it was configured under.
type LabeledKey struct {
	Label string
	Hex   string
}

// LoadWallets parses configured keys into accounts. Duplicate addresses are rejected.
func LoadWallets(keys []LabeledKey) ([]*Account, error) {
	wallets := make([]*Account, 0, len(keys))
	seen := make(map[common.Address]string, len(keys))
	for _, k := range keys {
		acc, err := NewAccountFromHex(k.Hex)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", k.Label, err)
		}
		if prev, ok := seen[acc.Address]; ok {
			return nil, fmt.Errorf("wallet %s duplicates %s (%s)", k.Label, prev, acc.Address.Hex())
		}
		seen[acc.Address] = k.Label
		acc.Label = k.Label
		wallets = append(wallets, acc)
	}
	return wallets, nil
}
