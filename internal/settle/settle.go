// Package settle decodes the actually received output amount from a
// confirmed swap receipt. Quotes say what should happen; receipts say
// what did.
package settle

import (
	"errors"
	"math/big"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/dex/core"
)

// ErrSettlementUnknown means the receipt carries no conclusive evidence
// of the received amount. Fatal for the attempt: the next leg must not
// run on a guessed position size.
var ErrSettlementUnknown = errors.New("settlement amount unknown")

var (
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	v3SwapTopic   = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

type Verifier struct {
	log *zap.Logger
}

func NewVerifier(log *zap.Logger) *Verifier {
	return &Verifier{log: log}
}

// AmountReceived extracts the output-token amount credited to the
// recipient. V3 legs prefer the touched pool's Swap event; every family
// falls back to the first matching ERC-20 Transfer log.
func (v *Verifier) AmountReceived(receipt *ethtypes.Receipt, desc core.RouterDescriptor, recipient, outputToken common.Address) (*big.Int, error) {
	if desc.Family == core.FamilyV3 {
		if amount := v.fromSwapEvent(receipt, recipient, outputToken); amount != nil && amount.Sign() > 0 {
			v.log.Info("settlement decoded from pool swap event",
				zap.String("tx", receipt.TxHash.Hex()),
				zap.String("amount", amount.String()))
			return amount, nil
		}
	}

	if amount := firstTransferTo(receipt, recipient, outputToken); amount != nil && amount.Sign() > 0 {
		v.log.Info("settlement decoded from transfer log",
			zap.String("tx", receipt.TxHash.Hex()),
			zap.String("amount", amount.String()))
		return amount, nil
	}

	v.log.Error("no transfer to wallet found in receipt",
		zap.String("tx", receipt.TxHash.Hex()),
		zap.String("token", outputToken.Hex()))
	return nil, ErrSettlementUnknown
}

// fromSwapEvent finds the pool that paid the recipient, then reads that
// pool's Swap event. The pool's outflow is the negative signed delta;
// its magnitude is the received amount.
func (v *Verifier) fromSwapEvent(receipt *ethtypes.Receipt, recipient, outputToken common.Address) *big.Int {
	pool := payingPool(receipt, recipient, outputToken)
	if pool == (common.Address{}) {
		return nil
	}
	for _, lg := range receipt.Logs {
		if lg.Address != pool || len(lg.Topics) == 0 || lg.Topics[0] != v3SwapTopic {
			continue
		}
		if len(lg.Data) < 64 {
			continue
		}
		amount0 := signedWord(lg.Data[:32])
		amount1 := signedWord(lg.Data[32:64])
		if amount0.Sign() < 0 {
			return amount0.Neg(amount0)
		}
		if amount1.Sign() < 0 {
			return amount1.Neg(amount1)
		}
	}
	return nil
}

// payingPool is the sender of the output-token transfer addressed to
// the recipient, i.e. the pool actually touched by the swap.
func payingPool(receipt *ethtypes.Receipt, recipient, outputToken common.Address) common.Address {
	for _, lg := range receipt.Logs {
		if lg.Address != outputToken || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != recipient {
			continue
		}
		return common.BytesToAddress(lg.Topics[1].Bytes())
	}
	return common.Address{}
}

func firstTransferTo(receipt *ethtypes.Receipt, recipient, outputToken common.Address) *big.Int {
	for _, lg := range receipt.Logs {
		if lg.Address != outputToken || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != recipient {
			continue
		}
		if len(lg.Data) < 32 {
			continue
		}
		return new(big.Int).SetBytes(lg.Data[:32])
	}
	return nil
}

// signedWord decodes a 32-byte two's complement int256.
func signedWord(b []byte) *big.Int {
	u := new(big.Int).SetBytes(b)
	if u.Bit(255) == 1 {
		u.Sub(u, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return u
}
