package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"ticket-ledger/internal/models"
	"ticket-ledger/internal/repositories/postgresrepo"

	"github.com/shopspring/decimal"
)

var errConnReset = errors.New("connection reset by peer")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ledgerState struct {
	cards    map[string]decimal.Decimal
	wallets  map[string]models.Wallet // by organiser id
	txns     map[string]models.Transaction
	chains   map[string]models.RefundChain // by transaction id
	capacity map[string]int
	tickets  map[string]bool
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		cards:    map[string]decimal.Decimal{},
		wallets:  map[string]models.Wallet{},
		txns:     map[string]models.Transaction{},
		chains:   map[string]models.RefundChain{},
		capacity: map[string]int{},
		tickets:  map[string]bool{},
	}
}

func (s *ledgerState) clone() *ledgerState {
	c := newLedgerState()
	for k, v := range s.cards {
		c.cards[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	for k, v := range s.chains {
		c.chains[k] = v
	}
	for k, v := range s.capacity {
		c.capacity[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	return c
}

// fakeLedger is an in-memory LedgerStore with commit/rollback semantics.
type fakeLedger struct {
	state     *ledgerState
	failOn    string
	commits   int
	rollbacks int
	cancels   []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{state: newLedgerState()}
}

func (f *fakeLedger) addTransaction(id, typ string, cardID string, amount string) {
	t := models.Transaction{ID: id, Type: typ, Amount: decimal.RequireFromString(amount)}
	if cardID != "" {
		t.CardID = &cardID
	}
	f.state.txns[id] = t
}

func (f *fakeLedger) Begin(ctx context.Context) (LedgerTx, error) {
	if f.failOn == "Begin" {
		return nil, errConnReset
	}
	return &fakeTx{parent: f, state: f.state.clone()}, nil
}

func (f *fakeLedger) CancelTransaction(ctx context.Context, id string, at time.Time) (bool, error) {
	t, ok := f.state.txns[id]
	if !ok || t.CanceledAt != nil {
		return false, nil
	}
	if t.Type != models.TransactionTypePending && t.Type != models.TransactionTypePurchase {
		return false, nil
	}
	t.Type = models.TransactionTypeCancel
	t.CanceledAt = &at
	f.state.txns[id] = t
	f.cancels = append(f.cancels, id)
	return true, nil
}

func (f *fakeLedger) CreateTransaction(ctx context.Context, t models.Transaction) error {
	if f.failOn == "CreateTransaction" {
		return errConnReset
	}
	f.state.txns[t.ID] = t
	return nil
}

type fakeTx struct {
	parent *fakeLedger
	state  *ledgerState
	done   bool
}

func (t *fakeTx) fail(method string) error {
	if t.parent.failOn == method {
		return errConnReset
	}
	return nil
}

func (t *fakeTx) Commit() error {
	if err := t.fail("Commit"); err != nil {
		return err
	}
	t.parent.state = t.state
	t.parent.commits++
	t.done = true
	return nil
}

func (t *fakeTx) Rollback() error {
	t.parent.rollbacks++
	t.done = true
	return nil
}

func (t *fakeTx) MarkTransactionType(ctx context.Context, id, target string, canceledAt *time.Time) (bool, error) {
	if err := t.fail("MarkTransactionType"); err != nil {
		return false, err
	}
	row, ok := t.state.txns[id]
	if !ok {
		return false, postgresrepo.ErrTransactionNotFound
	}
	if row.Type == target {
		return false, nil
	}
	if row.CanceledAt != nil {
		return false, postgresrepo.ErrTransactionCanceled
	}
	row.Type = target
	if canceledAt != nil {
		row.CanceledAt = canceledAt
	}
	t.state.txns[id] = row
	return true, nil
}

func (t *fakeTx) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row, ok := t.state.txns[id]
	if !ok {
		return nil, postgresrepo.ErrTransactionNotFound
	}
	return &row, nil
}

func (t *fakeTx) LockCardForUpdate(ctx context.Context, cardID string) (*models.Card, error) {
	if err := t.fail("LockCardForUpdate"); err != nil {
		return nil, err
	}
	bal, ok := t.state.cards[cardID]
	if !ok {
		return nil, postgresrepo.ErrCardNotFound
	}
	return &models.Card{ID: cardID, Balance: bal}, nil
}

func (t *fakeTx) LockWalletForUpdate(ctx context.Context, organiserID string) (*models.Wallet, error) {
	w, ok := t.state.wallets[organiserID]
	if !ok {
		return nil, postgresrepo.ErrWalletNotFound
	}
	return &w, nil
}

func (t *fakeTx) UpdateCardBalance(ctx context.Context, cardID string, balance decimal.Decimal) error {
	if err := t.fail("UpdateCardBalance"); err != nil {
		return err
	}
	t.state.cards[cardID] = balance
	return nil
}

func (t *fakeTx) UpdateWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal, lastPayoutAt *time.Time) error {
	for org, w := range t.state.wallets {
		if w.ID == walletID {
			w.Balance = balance
			if lastPayoutAt != nil {
				w.LastPayoutAt = lastPayoutAt
			}
			t.state.wallets[org] = w
			return nil
		}
	}
	return postgresrepo.ErrWalletNotFound
}

func (t *fakeTx) GetRefundChain(ctx context.Context, transactionID string) (*models.RefundChain, error) {
	c, ok := t.state.chains[transactionID]
	if !ok || !t.state.tickets[c.TicketID] {
		return nil, postgresrepo.ErrTicketNotFound
	}
	return &c, nil
}

func (t *fakeTx) RestoreSlotCapacity(ctx context.Context, slotID string, quantity int) error {
	t.state.capacity[slotID] += quantity
	return nil
}

func (t *fakeTx) DeleteTicket(ctx context.Context, ticketID string) error {
	if err := t.fail("DeleteTicket"); err != nil {
		return err
	}
	delete(t.state.tickets, ticketID)
	return nil
}

type fakeCache struct {
	cards   map[string]decimal.Decimal
	wallets map[string]decimal.Decimal
	err     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{cards: map[string]decimal.Decimal{}, wallets: map[string]decimal.Decimal{}}
}

func (c *fakeCache) SetCardBalance(ctx context.Context, cardID string, balance decimal.Decimal) error {
	if c.err != nil {
		return c.err
	}
	c.cards[cardID] = balance
	return nil
}

func (c *fakeCache) SetWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal) error {
	if c.err != nil {
		return c.err
	}
	c.wallets[walletID] = balance
	return nil
}
