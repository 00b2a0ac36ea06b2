// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package station

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/HITEYY/obsidian-station/core/calldata"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	revertSelector = calldata.Selector("Error(string)")
	panicSelector  = calldata.Selector("Panic(uint256)")

	stringArgs  = mustArguments("string")
	uint256Args = mustArguments("uint256")
)

func mustArguments(t string) abi.Arguments {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: typ}}
}

// DecodedReason is the interpretation of a revert payload.
type DecodedReason struct {
	Decoded   bool
	Name      string // Custom error name, "Error" or "Panic"
	Signature string
	Args      []interface{}
	Raw       []byte
}

func (r DecodedReason) String() string {
	if !r.Decoded {
		return "undecoded " + hexutil.Encode(r.Raw)
	}
	if code, ok := r.PanicCode(); ok {
		return fmt.Sprintf("Panic(%#x)", code)
	}
	args := make([]string, len(r.Args))
	for i, a := range r.Args {
		args[i] = fmt.Sprintf("%v", a)
	}
	return fmt.Sprintf("%s(%s)", r.Name, strings.Join(args, ", "))
}

// ErrorDecoder interprets revert data against a contract interface.
type ErrorDecoder struct {
	contract abi.ABI
}

// NewErrorDecoder creates a decoder for the custom errors of contract.
func NewErrorDecoder(contract abi.ABI) *ErrorDecoder {
	return &ErrorDecoder{contract: contract}
}

// Decode never fails: a payload it cannot interpret comes back with
// Decoded == false and the raw bytes.
func (d *ErrorDecoder) Decode(data []byte) (reason DecodedReason) {
	raw := common.CopyBytes(data)
	reason = DecodedReason{Raw: raw}
	defer func() {
		if r := recover(); r != nil {
			reason = DecodedReason{Raw: raw}
		}
	}()
	if len(data) < 4 {
		return reason
	}
	sel, body := data[:4], data[4:]

	switch {
	case bytes.Equal(sel, revertSelector[:]):
		if out, err := stringArgs.Unpack(body); err == nil {
			return DecodedReason{Decoded: true, Name: "Error", Signature: "Error(string)", Args: out, Raw: raw}
		}
		return reason
	case bytes.Equal(sel, panicSelector[:]):
		if out, err := uint256Args.Unpack(body); err == nil {
			return DecodedReason{Decoded: true, Name: "Panic", Signature: "Panic(uint256)", Args: out, Raw: raw}
		}
		return reason
	}
	if d == nil {
		return reason
	}
	for _, e := range d.contract.Errors {
		if !bytes.Equal(sel, e.ID[:4]) {
			continue
		}
		out, err := e.Inputs.Unpack(body)
		if err != nil {
			return reason
		}
		return DecodedReason{Decoded: true, Name: e.Name, Signature: e.Sig, Args: out, Raw: raw}
	}
	return reason
}

// PanicCode returns the code of a decoded Panic(uint256).
func (r DecodedReason) PanicCode() (*big.Int, bool) {
	if !r.Decoded || r.Name != "Panic" || len(r.Args) != 1 {
		return nil, false
	}
	code, ok := r.Args[0].(*big.Int)
	return code, ok
}

// RevertData extracts the revert payload carried by an RPC error.
func RevertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	switch v := de.ErrorData().(type) {
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return nil, false
		}
		return b, true
	case []byte:
		return common.CopyBytes(v), true
	case hexutil.Bytes:
		return common.CopyBytes(v), true
	}
	return nil, false
}

// isRevert reports whether err is an execution revert rather than a
// transport failure.
func isRevert(err error) bool {
	if _, ok := RevertData(err); ok {
		return true
	}
	var re rpc.Error
	if errors.As(err, &re) && re.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}
