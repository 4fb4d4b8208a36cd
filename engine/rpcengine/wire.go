// Package rpcengine carries the engine.Client surface over JSON-RPC 2.0
// under the "hush" namespace. Client talks to an out-of-process engine;
// Service exposes any engine.Client, holding initialized handles by id.
package rpcengine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggoodman/hush/engine"
)

// Namespace prefixes every method, e.g. hush_initSession.
const Namespace = "hush"

// codeSubmitRejected marks a structured submission rejection. The error data
// carries the engine.Reason name.
const codeSubmitRejected = -32010

type InitParams struct {
	ChainID hexutil.Uint64 `json:"chainId"`
	Owner   common.Address `json:"owner"`
	Seed    string         `json:"seed"`
}

type SessionInfo struct {
	Handle         string              `json:"handle"`
	PrivateAddress string              `json:"privateAddress"`
	RuntimeSigner  common.Address      `json:"runtimeSigner"`
	Capabilities   engine.Capabilities `json:"capabilities"`
}

type QuoteParams struct {
	ChainID    hexutil.Uint64     `json:"chainId"`
	SubAccount common.Address     `json:"subAccount"`
	Ops        []engine.Operation `json:"ops"`
	FeeToken   common.Address     `json:"feeToken"`
	Tokens     []common.Address   `json:"tokens,omitempty"`
}

type QuoteResult struct {
	FlatFee   *hexutil.Big `json:"flatFee,omitempty"`
	Alternate *hexutil.Big `json:"alternate,omitempty"`
}

type rejection struct {
	reason engine.Reason
	msg    string
}

func (e *rejection) Error() string          { return e.msg }
func (e *rejection) ErrorCode() int         { return codeSubmitRejected }
func (e *rejection) ErrorData() interface{} { return e.reason.String() }
