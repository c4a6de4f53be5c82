// Package treasury keeps balances for participants and the raffle escrow and
// moves funds between them.
package treasury

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRecipientRejected = errors.New("recipient rejected transfer")
)

// TxType represents the type of a treasury transaction.
type TxType string

const (
	TxTypeDeposit  TxType = "deposit"
	TxTypeTransfer TxType = "transfer"
	TxTypeRefund   TxType = "refund"
)

// TxStatus represents the status of a treasury transaction.
type TxStatus string

const (
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Transaction is one ledger movement. Failed transfers are kept too.
type Transaction struct {
	ID        string         `json:"id"`
	Type      TxType         `json:"type"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Amount    *uint256.Int   `json:"amount"`
	Status    TxStatus       `json:"status"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Account is a balance holder.
type Account struct {
	Address        common.Address `json:"address"`
	Balance        *uint256.Int   `json:"balance"`
	TotalDeposited *uint256.Int   `json:"total_deposited"`
	TotalSent      *uint256.Int   `json:"total_sent"`
	TotalReceived  *uint256.Int   `json:"total_received"`
	Rejecting      bool           `json:"rejecting"`
}

func newAccount(addr common.Address) *Account {
	return &Account{
		Address:        addr,
		Balance:        new(uint256.Int),
		TotalDeposited: new(uint256.Int),
		TotalSent:      new(uint256.Int),
		TotalReceived:  new(uint256.Int),
	}
}

func (a *Account) clone() Account {
	out := *a
	out.Balance = new(uint256.Int).Set(a.Balance)
	out.TotalDeposited = new(uint256.Int).Set(a.TotalDeposited)
	out.TotalSent = new(uint256.Int).Set(a.TotalSent)
	out.TotalReceived = new(uint256.Int).Set(a.TotalReceived)
	return out
}

// Stats summarises the ledger.
type Stats struct {
	Accounts       int          `json:"accounts"`
	Transactions   int          `json:"transactions"`
	FailedTxs      int          `json:"failed_transactions"`
	TotalDeposited *uint256.Int `json:"total_deposited"`
	TotalBalance   *uint256.Int `json:"total_balance"`
}
