package treasury

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/R3E-Network/raffle_layer/services/raffle"
)

// Service is an in-memory balance ledger.
type Service struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
	txs      []Transaction
	log      *logger.Logger
	now      func() time.Time
}

// New creates an empty treasury.
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("treasury")
	}
	return &Service{
		accounts: make(map[common.Address]*Account),
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) accountLocked(addr common.Address) *Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = newAccount(addr)
		s.accounts[addr] = acc
	}
	return acc
}

func (s *Service) recordLocked(tx Transaction) Transaction {
	tx.ID = uuid.NewString()
	tx.CreatedAt = s.now()
	if tx.Amount != nil {
		tx.Amount = new(uint256.Int).Set(tx.Amount)
	}
	s.txs = append(s.txs, tx)
	return tx
}

// Deposit credits amount to addr.
func (s *Service) Deposit(ctx context.Context, addr common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accountLocked(addr)
	acc.Balance = new(uint256.Int).Add(acc.Balance, amount)
	acc.TotalDeposited = new(uint256.Int).Add(acc.TotalDeposited, amount)
	s.recordLocked(Transaction{Type: TxTypeDeposit, To: addr, Amount: amount, Status: TxStatusConfirmed})

	s.log.WithField("account", addr.Hex()).WithField("amount", amount.Dec()).Debug("deposit")
	return nil
}

// Balance returns the balance of addr; unknown accounts hold zero.
func (s *Service) Balance(addr common.Address) *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acc, ok := s.accounts[addr]; ok {
		return new(uint256.Int).Set(acc.Balance)
	}
	return new(uint256.Int)
}

// GetAccount returns a copy of the account.
func (s *Service) GetAccount(addr common.Address) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[addr]
	if !ok {
		return Account{}, false
	}
	return acc.clone(), true
}

// Reject makes addr refuse incoming transfers.
func (s *Service) Reject(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountLocked(addr).Rejecting = true
}

// Accept undoes Reject.
func (s *Service) Accept(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountLocked(addr).Rejecting = false
}

// Transfer moves amount from one account to another. A failed transfer
// changes no balance and is recorded as failed.
func (s *Service) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) (Transaction, error) {
	return s.move(TxTypeTransfer, from, to, amount, true)
}

func (s *Service) move(typ TxType, from, to common.Address, amount *uint256.Int, honorReject bool) (Transaction, error) {
	if amount == nil || amount.IsZero() {
		return Transaction{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.accountLocked(from)
	dst := s.accountLocked(to)

	var err error
	switch {
	case src.Balance.Lt(amount):
		err = fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), src.Balance.Dec(), amount.Dec())
	case honorReject && dst.Rejecting:
		err = fmt.Errorf("%w: %s", ErrRecipientRejected, to.Hex())
	}
	if err != nil {
		tx := s.recordLocked(Transaction{Type: typ, From: from, To: to, Amount: amount, Status: TxStatusFailed, Error: err.Error()})
		s.log.WithError(err).WithField("tx_id", tx.ID).Warn("transfer failed")
		return tx, err
	}

	src.Balance = new(uint256.Int).Sub(src.Balance, amount)
	src.TotalSent = new(uint256.Int).Add(src.TotalSent, amount)
	dst.Balance = new(uint256.Int).Add(dst.Balance, amount)
	dst.TotalReceived = new(uint256.Int).Add(dst.TotalReceived, amount)
	tx := s.recordLocked(Transaction{Type: typ, From: from, To: to, Amount: amount, Status: TxStatusConfirmed})

	s.log.WithField("tx_id", tx.ID).
		WithField("type", string(typ)).
		WithField("from", from.Hex()).
		WithField("to", to.Hex()).
		WithField("amount", amount.Dec()).
		Debug("transfer")
	return tx, nil
}

// PayInto transfers amount and then runs fn. If fn fails the transfer is
// refunded and fn's error returned. fn runs without the treasury lock.
func (s *Service) PayInto(ctx context.Context, from, to common.Address, amount *uint256.Int, fn func(ctx context.Context) error) error {
	if _, err := s.Transfer(ctx, from, to, amount); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if _, rerr := s.move(TxTypeRefund, to, from, amount, false); rerr != nil {
			return fmt.Errorf("%w (refund failed: %v)", err, rerr)
		}
		return err
	}
	return nil
}

// Transactions returns every transaction touching addr, oldest first.
func (s *Service) Transactions(addr common.Address) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.txs {
		if tx.From == addr || tx.To == addr {
			out = append(out, tx)
		}
	}
	return out
}

// GetStats summarises the ledger.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Accounts:       len(s.accounts),
		Transactions:   len(s.txs),
		TotalDeposited: new(uint256.Int),
		TotalBalance:   new(uint256.Int),
	}
	for _, acc := range s.accounts {
		st.TotalDeposited.Add(st.TotalDeposited, acc.TotalDeposited)
		st.TotalBalance.Add(st.TotalBalance, acc.Balance)
	}
	for _, tx := range s.txs {
		if tx.Status == TxStatusFailed {
			st.FailedTxs++
		}
	}
	return st
}

// Payer pays raffle winners out of escrow.
func (s *Service) Payer(escrow common.Address) raffle.Payer {
	return escrowPayer{treasury: s, escrow: escrow}
}

type escrowPayer struct {
	treasury *Service
	escrow   common.Address
}

func (p escrowPayer) Pay(ctx context.Context, to raffle.Participant, amount *uint256.Int) error {
	_, err := p.treasury.Transfer(ctx, p.escrow, to, amount)
	return err
}
