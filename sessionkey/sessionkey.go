// Package sessionkey derives the symmetric session key from a wallet
// signature over a fixed challenge.
package sessionkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/wallet"
)

// Derived is the output of a successful derivation.
type Derived struct {
	ChainID uint64
	Owner   common.Address
	Key     [32]byte
}

// Challenge is the message the wallet signs.
func Challenge(chainID uint64, owner common.Address) string {
	return fmt.Sprintf("Hush Privacy Session v1\nChain:%d\nAddress:%s", chainID, strings.ToLower(owner.Hex()))
}

// Derive asks signer to sign the challenge and hashes the signature into a
// key. The same account on the same chain always yields the same key.
// A rejected signature is not retried.
func Derive(ctx context.Context, signer wallet.Signer) (*Derived, error) {
	id, err := signer.ChainID(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindEngineUnavailable, err, "session not established: cannot read chain id")
	}
	if !id.IsUint64() {
		return nil, errs.New(errs.KindInvalidInput, "session not established: chain id %s out of range", id)
	}

	owner := signer.Address()
	sig, err := signer.SignMessage(ctx, []byte(Challenge(id.Uint64(), owner)))
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, err, "session not established").
			WithHint("Approve the signature request in your wallet and run login again")
	}
	if len(sig) == 0 {
		return nil, errs.New(errs.KindInvalidInput, "session not established: empty signature")
	}

	d := &Derived{ChainID: id.Uint64(), Owner: owner}
	copy(d.Key[:], crypto.Keccak256(sig))
	return d, nil
}
