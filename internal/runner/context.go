package runner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/internal/catalog"
	"github.com/gateway-fm/txbot/internal/storage"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	walletKey
)

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

func withWallet(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, walletKey, addr)
}

func walletFrom(ctx context.Context) common.Address {
	addr, _ := ctx.Value(walletKey).(common.Address)
	return addr
}

// keyStore tags saved ephemeral keys with the run they were generated in.
type keyStore struct {
	store storage.KeyStorage
}

// KeyStore adapts key storage for the catalog. Keys saved during a run are
// linked to its ID.
func KeyStore(store storage.KeyStorage) catalog.KeyStore {
	return keyStore{store: store}
}

func (k keyStore) SaveEphemeral(ctx context.Context, owner common.Address, keys []account.KeyPair) error {
	return k.store.SaveEphemeralAccounts(ctx, runIDFrom(ctx), owner.Hex(), keys)
}
