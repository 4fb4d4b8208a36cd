package wallet

import (
	"bytes"
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const hardhatKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestKeySignerAddressAndSignature(t *testing.T) {
	key, err := ParseKey(hardhatKey)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	s := NewKeySigner(key, FixedChain(42161))

	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if s.Address() != want {
		t.Fatalf("address = %s, want %s", s.Address().Hex(), want.Hex())
	}

	msg := []byte("hello")
	sig, err := s.SignMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Fatalf("recovery id = %d, want 27 or 28", v)
	}

	got, err := RecoverAddress(msg, sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if got != s.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), s.Address().Hex())
	}

	again, err := s.SignMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if !bytes.Equal(sig, again) {
		t.Fatalf("signatures differ for the same message")
	}
}

func TestFixedChain(t *testing.T) {
	key, err := ParseKey(hardhatKey)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	id, err := NewKeySigner(key, FixedChain(42161)).ChainID(context.Background())
	if err != nil {
		t.Fatalf("ChainID: %v", err)
	}
	if id.Uint64() != 42161 {
		t.Fatalf("chain id = %s, want 42161", id)
	}
}

func TestParseKeyRejectsGarbage(t *testing.T) {
	if _, err := ParseKey("0x1234"); err == nil {
		t.Fatalf("expected an error for a short key")
	}
}
