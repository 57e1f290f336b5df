// Package chaintest provides a scripted in-memory chain for settlement tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Outcome scripts what happens to the next broadcast transaction.
type Outcome int

const (
	// Success mines the transaction with status 1.
	Success Outcome = iota
	// Revert mines the transaction with status 0.
	Revert
	// Pending never mines the transaction.
	Pending
)

// Chain implements settlement.ChainClient.
type Chain struct {
	mu sync.Mutex

	Outcome Outcome
	// ReceiptAfter hides a mined receipt for this many lookups.
	ReceiptAfter int
	GasPrice     *big.Int
	Block        uint64
	// Latency delays every nonce and gas price lookup, like a remote node.
	Latency time.Duration

	SendErr    error
	NonceErr   error
	GasErr     error
	ReceiptErr error

	// CallResult is returned by CallContract.
	CallResult []byte
	CallErr    error

	nonces   map[common.Address]uint64 // next pending nonce
	mined    map[common.Address]uint64 // next nonce not yet in a block
	senders  map[common.Hash]common.Address
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	lookups  map[common.Hash]int
}

func New() *Chain {
	return &Chain{
		GasPrice: big.NewInt(1_000_000_000),
		Block:    100,
		nonces:   make(map[common.Address]uint64),
		mined:    make(map[common.Address]uint64),
		senders:  make(map[common.Hash]common.Address),
		receipts: make(map[common.Hash]*types.Receipt),
		lookups:  make(map[common.Hash]int),
	}
}

func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.delay()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NonceErr != nil {
		return 0, c.NonceErr
	}
	return c.nonces[account], nil
}

// NonceAt returns the nonce of account in the latest block, that is the
// number of its transactions that were mined or replaced.
func (c *Chain) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NonceErr != nil {
		return 0, c.NonceErr
	}
	return c.mined[account], nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.delay()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GasErr != nil {
		return nil, c.GasErr
	}
	return new(big.Int).Set(c.GasPrice), nil
}

func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return errors.New("chaintest: invalid signature")
	}
	if tx.Nonce() != c.nonces[sender] {
		return errors.New("chaintest: nonce too low")
	}
	c.nonces[sender]++
	c.senders[tx.Hash()] = sender
	c.sent = append(c.sent, tx)

	switch c.Outcome {
	case Success:
		c.mineLocked(tx.Hash(), types.ReceiptStatusSuccessful)
	case Revert:
		c.mineLocked(tx.Hash(), types.ReceiptStatusFailed)
	case Pending:
	}
	return nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReceiptErr != nil {
		return nil, c.ReceiptErr
	}
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	c.lookups[hash]++
	if c.lookups[hash] <= c.ReceiptAfter {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Block, nil
}

func (c *Chain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallResult, c.CallErr
}

// Mine adds a receipt for hash, for transactions left pending.
func (c *Chain) Mine(hash common.Hash, status uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mineLocked(hash, status)
}

// Drop discards a pending transaction as if another transaction from the
// same sender had been mined at its nonce.
func (c *Chain) Drop(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Block++
	c.consumeLocked(hash)
}

func (c *Chain) mineLocked(hash common.Hash, status uint64) {
	c.Block++
	c.consumeLocked(hash)
	c.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(c.Block),
		GasUsed:     21_000,
	}
}

func (c *Chain) consumeLocked(hash common.Hash) {
	sender, ok := c.senders[hash]
	if !ok {
		return
	}
	for _, tx := range c.sent {
		if tx.Hash() == hash && tx.Nonce()+1 > c.mined[sender] {
			c.mined[sender] = tx.Nonce() + 1
		}
	}
}

func (c *Chain) delay() {
	c.mu.Lock()
	d := c.Latency
	c.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

// Sent returns the broadcast transactions in order.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

// SetOutcome changes the script for subsequent broadcasts.
func (c *Chain) SetOutcome(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Outcome = o
}
