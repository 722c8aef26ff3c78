package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"

	logging "github.com/wisysta/wyvern-market-sdk-go/log"
)

var logger = logging.Logger("chain")

// ErrTxFailed is returned for a transaction that was mined with status 0.
var ErrTxFailed = errors.New("mined but execution failed")

// MaxUint256 is the unlimited ERC20 approval amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

const (
	DefaultReceiptTimeout = 120 * time.Second
	defaultPollInterval   = 2 * time.Second
	decimalsCacheSize     = 128
)

// Backend is the chain access ContractCaller needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ContractCaller handles registry, asset, payment token and exchange calls
type ContractCaller struct {
	backend        Backend
	exchangeAddr   common.Address
	registryAddr   common.Address
	receiptTimeout time.Duration
	pollInterval   time.Duration
	decimalsCache  *lru.Cache
}

// NewContractCaller creates a new ContractCaller instance
func NewContractCaller(backend Backend, exchangeAddr, registryAddr common.Address, receiptTimeout time.Duration) (*ContractCaller, error) {
	cache, err := lru.New(decimalsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decimals cache: %w", err)
	}
	if receiptTimeout <= 0 {
		receiptTimeout = DefaultReceiptTimeout
	}

	return &ContractCaller{
		backend:        backend,
		exchangeAddr:   exchangeAddr,
		registryAddr:   registryAddr,
		receiptTimeout: receiptTimeout,
		pollInterval:   defaultPollInterval,
		decimalsCache:  cache,
	}, nil
}

// SetPollInterval changes how often receipts are polled.
func (cc *ContractCaller) SetPollInterval(d time.Duration) {
	if d > 0 {
		cc.pollInterval = d
	}
}

// ExchangeAddress returns the settlement contract address
func (cc *ContractCaller) ExchangeAddress() common.Address {
	return cc.exchangeAddr
}

// RegistryAddress returns the proxy registry address
func (cc *ContractCaller) RegistryAddress() common.Address {
	return cc.registryAddr
}

// ProxyOf returns the owner's registered proxy, or the zero address.
func (cc *ContractCaller) ProxyOf(ctx context.Context, owner common.Address) (common.Address, error) {
	var proxy common.Address
	if err := cc.call(ctx, proxyRegistryABI, cc.registryAddr, &proxy, "proxies", owner); err != nil {
		return common.Address{}, fmt.Errorf("failed to get proxy of %s: %w", owner.Hex(), err)
	}
	return proxy, nil
}

// IsApprovedForAll reads the asset contract's operator approval flag
func (cc *ContractCaller) IsApprovedForAll(ctx context.Context, asset, owner, operator common.Address) (bool, error) {
	var approved bool
	if err := cc.call(ctx, erc721ABI, asset, &approved, "isApprovedForAll", owner, operator); err != nil {
		return false, fmt.Errorf("failed to check isApprovedForAll on %s: %w", asset.Hex(), err)
	}
	return approved, nil
}

// Allowance returns the ERC20 allowance for owner to spender
func (cc *ContractCaller) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var allowance *big.Int
	if err := cc.call(ctx, erc20ABI, token, &allowance, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("failed to get allowance on %s: %w", token.Hex(), err)
	}
	return allowance, nil
}

// TokenDecimals gets token decimals with caching
func (cc *ContractCaller) TokenDecimals(ctx context.Context, token common.Address) (int, error) {
	if v, ok := cc.decimalsCache.Get(token); ok {
		return v.(int), nil
	}

	var decimals uint8
	if err := cc.call(ctx, erc20ABI, token, &decimals, "decimals"); err != nil {
		return 0, fmt.Errorf("failed to get decimals of %s: %w", token.Hex(), err)
	}

	cc.decimalsCache.Add(token, int(decimals))
	return int(decimals), nil
}

// RegisterProxy registers a proxy for the transactor's account and waits for it to be mined
func (cc *ContractCaller) RegisterProxy(ctx context.Context, tx Transactor) (*types.Receipt, error) {
	data, err := proxyRegistryABI.Pack("registerProxy")
	if err != nil {
		return nil, fmt.Errorf("failed to pack registerProxy: %w", err)
	}
	return cc.transact(ctx, tx, cc.registryAddr, nil, data)
}

// SetApprovalForAll approves operator for all of the transactor's tokens on asset
func (cc *ContractCaller) SetApprovalForAll(ctx context.Context, tx Transactor, asset, operator common.Address) (*types.Receipt, error) {
	data, err := erc721ABI.Pack("setApprovalForAll", operator, true)
	if err != nil {
		return nil, fmt.Errorf("failed to pack setApprovalForAll: %w", err)
	}
	return cc.transact(ctx, tx, asset, nil, data)
}

// ApproveUnlimited approves spender for the maximum uint256 amount of token
func (cc *ContractCaller) ApproveUnlimited(ctx context.Context, tx Transactor, token, spender common.Address) (*types.Receipt, error) {
	data, err := erc20ABI.Pack("approve", spender, MaxUint256)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve: %w", err)
	}
	return cc.transact(ctx, tx, token, nil, data)
}

// AtomicMatch settles the assembled orders on the exchange
func (cc *ContractCaller) AtomicMatch(ctx context.Context, tx Transactor, params *MatchParams) (*types.Receipt, error) {
	data, err := PackAtomicMatch(params)
	if err != nil {
		return nil, err
	}
	return cc.transact(ctx, tx, cc.exchangeAddr, params.Value, data)
}

// PackAtomicMatch returns the atomicMatch call data for params.
func PackAtomicMatch(params *MatchParams) ([]byte, error) {
	data, err := exchangeABI.Pack("atomicMatch", params.Buy, params.BuySig, params.Sell, params.SellSig)
	if err != nil {
		return nil, fmt.Errorf("failed to pack atomicMatch: %w", err)
	}
	return data, nil
}

func (cc *ContractCaller) call(ctx context.Context, contractABI abi.ABI, to common.Address, out interface{}, method string, args ...interface{}) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return err
	}

	result, err := cc.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return err
	}

	return contractABI.UnpackIntoInterface(out, method, result)
}

func (cc *ContractCaller) transact(ctx context.Context, tx Transactor, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	txHash, err := tx.SendTransaction(ctx, to, value, data)
	if err != nil {
		return nil, err
	}
	logger.Infow("transaction sent", "from", tx.From().Hex(), "to", to.Hex(), "tx", txHash.Hex())

	receipt, err := cc.waitForReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("tx %s: %w", txHash.Hex(), ErrTxFailed)
	}

	logger.Infow("transaction mined", "tx", txHash.Hex(), "block", receipt.BlockNumber)
	return receipt, nil
}

// waitForReceipt polls for a transaction receipt until it is mined or the timeout passes
func (cc *ContractCaller) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, cc.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(cc.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := cc.backend.TransactionReceipt(timeoutCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			logger.Debugw("receipt lookup failed", "tx", txHash.Hex(), "err", err)
		}

		select {
		case <-timeoutCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("timeout waiting for transaction receipt: %s", txHash.Hex())
		case <-ticker.C:
		}
	}
}
