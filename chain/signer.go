package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Signer related errors
var (
	ErrSigningCancelled = errors.New("signing cancelled")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrDomainMismatch   = errors.New("order exchange does not match signing domain")
)

// userRejectedCode is the EIP-1193 code a wallet returns when the user declines.
const userRejectedCode = 4001

// SignatureLength is the r||s||v signature length
const SignatureLength = 65

// Signer produces signatures on behalf of one account.
type Signer interface {
	Address() common.Address
	// SignTypedOrder returns the 65 byte r||s||v signature over the order's EIP712 digest.
	SignTypedOrder(ctx context.Context, domain *Domain, order *Order) ([]byte, error)
	// SignMessage signs msg with the personal_sign prefix.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// Transactor submits state changing transactions for one account and
// returns the transaction hash without waiting for it to be mined.
type Transactor interface {
	From() common.Address
	SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
}

// SignOrder validates the order and returns a fresh signature over it.
func SignOrder(ctx context.Context, signer Signer, domain *Domain, order *Order, now time.Time) ([]byte, error) {
	if err := order.Validate(now); err != nil {
		return nil, err
	}
	if order.Exchange != domain.VerifyingContract {
		return nil, fmt.Errorf("%w: order %s, domain %s", ErrDomainMismatch, order.Exchange.Hex(), domain.VerifyingContract.Hex())
	}

	sig, err := signer.SignTypedOrder(ctx, domain, order)
	if err != nil {
		return nil, err
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSignature, len(sig))
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// RecoverSigner returns the address that produced sig over the order.
func RecoverSigner(domain *Domain, order *Order, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: got %d bytes", ErrInvalidSignature, len(sig))
	}
	normalized := common.CopyBytes(sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	hash := OrderSignHash(domain, order)
	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// KeySigner signs with a local private key and sends transactions through backend.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	backend bind.ContractTransactor
}

// NewKeySigner creates a KeySigner. backend may be nil when only signing is needed.
func NewKeySigner(key *ecdsa.PrivateKey, chainID int64, backend bind.ContractTransactor) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
		backend: backend,
	}
}

// NewKeySignerFromHex parses a hex private key, with or without 0x prefix.
func NewKeySignerFromHex(hexKey string, chainID int64, backend bind.ContractTransactor) (*KeySigner, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySigner(key, chainID, backend), nil
}

// Address returns the signer's address
func (s *KeySigner) Address() common.Address {
	return s.address
}

// From returns the transaction sender
func (s *KeySigner) From() common.Address {
	return s.address
}

// SignTypedOrder signs the order's EIP712 digest
func (s *KeySigner) SignTypedOrder(_ context.Context, domain *Domain, order *Order) ([]byte, error) {
	hash := OrderSignHash(domain, order)
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignMessage signs msg with the Ethereum signed message prefix
func (s *KeySigner) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SendTransaction builds, signs and broadcasts a legacy transaction
func (s *KeySigner) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if s.backend == nil {
		return common.Hash{}, errors.New("key signer has no chain backend")
	}
	if value == nil {
		value = new(big.Int)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to create transactor: %w", err)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})

	signedTx, err := opts.Signer(s.address, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash(), nil
}

// WalletSigner delegates signing and sending to a wallet over JSON-RPC
// (eth_requestAccounts, eth_signTypedData_v4, personal_sign, eth_sendTransaction).
type WalletSigner struct {
	client  *rpc.Client
	account common.Address
}

// NewWalletSigner requests the wallet's accounts and binds to the first one.
func NewWalletSigner(ctx context.Context, client *rpc.Client) (*WalletSigner, error) {
	var accts []common.Address
	if err := client.CallContext(ctx, &accts, "eth_requestAccounts"); err != nil {
		return nil, walletError("request accounts", err)
	}
	if len(accts) == 0 {
		return nil, errors.New("wallet returned no accounts")
	}
	return &WalletSigner{client: client, account: accts[0]}, nil
}

// Address returns the wallet account
func (w *WalletSigner) Address() common.Address {
	return w.account
}

// From returns the transaction sender
func (w *WalletSigner) From() common.Address {
	return w.account
}

// SignTypedOrder asks the wallet for an eth_signTypedData_v4 signature
func (w *WalletSigner) SignTypedOrder(ctx context.Context, domain *Domain, order *Order) ([]byte, error) {
	payload, err := json.Marshal(OrderTypedData(domain, order))
	if err != nil {
		return nil, fmt.Errorf("failed to encode typed data: %w", err)
	}

	var sig hexutil.Bytes
	if err := w.client.CallContext(ctx, &sig, "eth_signTypedData_v4", w.account, string(payload)); err != nil {
		return nil, walletError("sign order", err)
	}
	return sig, nil
}

// SignMessage asks the wallet for a personal_sign signature
func (w *WalletSigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := w.client.CallContext(ctx, &sig, "personal_sign", hexutil.Bytes(msg), w.account); err != nil {
		return nil, walletError("sign message", err)
	}
	return sig, nil
}

// SendTransaction asks the wallet to sign and broadcast a transaction
func (w *WalletSigner) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	args := map[string]interface{}{
		"from": w.account,
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	if value != nil && value.Sign() > 0 {
		args["value"] = (*hexutil.Big)(value)
	}

	var hash common.Hash
	if err := w.client.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, walletError("send transaction", err)
	}
	return hash, nil
}

// walletError maps a user rejection or an abandoned prompt to ErrSigningCancelled.
func walletError(op string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return fmt.Errorf("%s: %w: %v", op, ErrSigningCancelled, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrSigningCancelled, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
