// Package wallet owns transaction submission for the trading account:
// gas and nonce parameters fetched fresh per leg, EIP-1559 signing,
// confirmation waits and the one-time allowance flow.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/dex/core"
)

// ErrLegReverted means the transaction was mined with a failed status.
// Never retried: the market has moved and resubmitting compounds risk.
var ErrLegReverted = errors.New("transaction mined but reverted")

const erc20ABI = `[
 {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// Backend is the chain surface the wallet needs. *ethclient.Client
// satisfies it; tests supply mocks.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Wallet struct {
	ec             Backend
	log            *zap.Logger
	priv           *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	maxGasLimit    uint64
	confirmTimeout time.Duration
	eabi           abi.ABI
}

func New(ctx context.Context, ec Backend, pkHex string, maxGasLimit uint64, confirmTimeout time.Duration, log *zap.Logger) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(pkHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	eabi, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	if maxGasLimit == 0 {
		maxGasLimit = 500_000
	}
	if confirmTimeout == 0 {
		confirmTimeout = 120 * time.Second
	}
	return &Wallet{
		ec:             ec,
		log:            log,
		priv:           key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		maxGasLimit:    maxGasLimit,
		confirmTimeout: confirmTimeout,
		eabi:           eabi,
	}, nil
}

func (w *Wallet) From() common.Address { return w.from }

// Submit signs and sends one swap call. Tip, base fee and nonce are
// fetched fresh on every call and never reused across legs.
func (w *Wallet) Submit(ctx context.Context, call core.SwapCall) (common.Hash, error) {
	tip, err := w.ec.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		tip = big.NewInt(2_000_000_000)
	}
	var baseFee *big.Int
	if h, _ := w.ec.HeaderByNumber(ctx, nil); h != nil && h.BaseFee != nil {
		baseFee = new(big.Int).Set(h.BaseFee)
	} else if sp, _ := w.ec.SuggestGasPrice(ctx); sp != nil {
		baseFee = sp
	} else {
		baseFee = big.NewInt(5_000_000_000)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	nonce, err := w.ec.PendingNonceAt(ctx, w.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}

	gas := w.sizeGas(ctx, call)

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		To:        &call.To,
		Gas:       gas,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      call.Data,
		Value:     call.Value,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(w.chainID), w.priv)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := w.ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}

	w.log.Info("transaction submitted",
		zap.String("tx", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
		zap.String("fee_cap", feeCap.String()),
	)
	return signed.Hash(), nil
}

// sizeGas pads the node's estimate by 20% and caps it at the configured
// limit; estimation failures fall back to the cap.
func (w *Wallet) sizeGas(ctx context.Context, call core.SwapCall) uint64 {
	gas, err := w.ec.EstimateGas(ctx, ethereum.CallMsg{
		From:  w.from,
		To:    &call.To,
		Data:  call.Data,
		Value: call.Value,
	})
	if err != nil || gas == 0 {
		return w.maxGasLimit
	}
	gas = gas * 12 / 10
	if gas > w.maxGasLimit {
		gas = w.maxGasLimit
	}
	return gas
}

// WaitMined polls for the receipt until the confirmation timeout. A
// mined-but-failed status returns the receipt alongside ErrLegReverted.
func (w *Wallet) WaitMined(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := w.ec.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: tx %s", ErrLegReverted, txHash.Hex())
			}
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("confirmation timeout for tx %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Balance reads the wallet's balance of an ERC-20 token.
func (w *Wallet) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	data, err := w.eabi.Pack("balanceOf", w.from)
	if err != nil {
		return nil, err
	}
	raw, err := w.ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	if len(raw) < 32 {
		return nil, errors.New("short balanceOf return")
	}
	return new(big.Int).SetBytes(raw[:32]), nil
}

// Decimals reads an ERC-20's decimals.
func (w *Wallet) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := w.eabi.Pack("decimals")
	if err != nil {
		return 0, err
	}
	raw, err := w.ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	outs, err := w.eabi.Methods["decimals"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return 0, errors.New("decode decimals")
	}
	d, ok := outs[0].(uint8)
	if !ok {
		return 0, errors.New("unexpected decimals type")
	}
	return d, nil
}

// EnsureAllowance approves the spender for an unlimited allowance when
// the current one cannot cover the amount. Blocking: waits for the
// approval to mine before returning.
func (w *Wallet) EnsureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	data, err := w.eabi.Pack("allowance", w.from, spender)
	if err != nil {
		return err
	}
	raw, err := w.ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("allowance: %w", err)
	}
	if len(raw) >= 32 {
		current := new(big.Int).SetBytes(raw[:32])
		if current.Cmp(amount) >= 0 {
			return nil
		}
	}

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	approveData, err := w.eabi.Pack("approve", spender, maxUint256)
	if err != nil {
		return err
	}
	w.log.Info("approving router allowance",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
	)
	txHash, err := w.Submit(ctx, core.SwapCall{To: token, Data: approveData, Value: big.NewInt(0)})
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	if _, err := w.WaitMined(ctx, txHash); err != nil {
		return fmt.Errorf("approve confirmation: %w", err)
	}
	return nil
}
