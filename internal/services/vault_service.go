package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"piggy/internal/credential"
	"piggy/internal/events"
	"piggy/internal/log"
	"piggy/internal/sanitize"
	"piggy/internal/storage"
)

var (
	// ErrInsufficientFunds is returned when a withdrawal exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for amounts that are not positive numbers.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrWrongPin is returned when the PIN does not match.
	ErrWrongPin = errors.New("wrong pin")
	// ErrVaultNotFound is returned for unknown vault ids.
	ErrVaultNotFound = fmt.Errorf("vault %w", storage.ErrNotFound)
)

// Vault transaction types.
const (
	Deposit  = log.OpDeposit
	Withdraw = log.OpWithdraw
)

// Movement is the result of a deposit or withdrawal.
type Movement struct {
	VaultID       int64   `json:"vault_id"`
	TransactionID int64   `json:"transaction_id"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	Balance       float64 `json:"balance"`
}

// VaultService moves money in and out of savings vaults. When a PIN is set,
// every movement requires it.
type VaultService struct {
	facade    *storage.Facade
	guard     *credential.Guard
	publisher events.Publisher
	logger    *log.Logger
	now       func() time.Time
}

// NewVaultService creates a VaultService. A nil publisher disables events.
func NewVaultService(facade *storage.Facade, guard *credential.Guard, publisher events.Publisher, logger *log.Logger) *VaultService {
	if logger == nil {
		logger = log.Discard()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &VaultService{
		facade:    facade,
		guard:     guard,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentVault),
		now:       time.Now,
	}
}

// Deposit adds amount to the vault balance.
func (s *VaultService) Deposit(ctx context.Context, vaultID, amount any, pin, note string) (Movement, error) {
	return s.move(ctx, Deposit, vaultID, amount, pin, note)
}

// Withdraw takes amount from the vault balance.
func (s *VaultService) Withdraw(ctx context.Context, vaultID, amount any, pin, note string) (Movement, error) {
	return s.move(ctx, Withdraw, vaultID, amount, pin, note)
}

func (s *VaultService) move(ctx context.Context, kind string, vaultID, amount any, pin, note string) (Movement, error) {
	id, ok := sanitize.ID(vaultID).Get()
	if !ok {
		return Movement{}, fmt.Errorf("%s: %w", kind, storage.ErrInvalidID)
	}
	value, ok := sanitize.NumberInRange(amount, 0, sanitize.MaxAmount).Get()
	if !ok || value == 0 {
		return Movement{}, fmt.Errorf("%s: %w", kind, ErrInvalidAmount)
	}
	value = roundCents(value)

	if err := s.authorize(ctx, id, pin); err != nil {
		return Movement{}, err
	}

	m := Movement{VaultID: id, Type: kind, Amount: value}
	err := s.facade.Bulk(ctx, func(tx *storage.Tx) error {
		row, err := tx.QueryOne(ctx, "SELECT balance FROM vaults WHERE id = ?", id)
		if err != nil {
			return err
		}
		if row == nil {
			return ErrVaultNotFound
		}
		balance := sanitize.Number(row["balance"], -sanitize.MaxAmount, sanitize.MaxAmount).Value

		switch kind {
		case Deposit:
			balance += value
			if balance > sanitize.MaxAmount {
				return fmt.Errorf("%w: balance would exceed %.2f", ErrInvalidAmount, sanitize.MaxAmount)
			}
		case Withdraw:
			if value > balance {
				return fmt.Errorf("%w: balance %.2f", ErrInsufficientFunds, balance)
			}
			balance -= value
		}
		m.Balance = roundCents(balance)

		if err := tx.Update(ctx, storage.TableVaults, id, map[string]any{"balance": m.Balance}); err != nil {
			return err
		}

		now := s.now()
		fields := map[string]any{
			"vault_id":   id,
			"type":       storage.Text(kind),
			"amount":     value,
			"date":       storage.Text(now.Format(time.DateOnly)),
			"created_at": now.UTC(),
		}
		if n := sanitize.Text(note, sanitize.TextLength); n != "" {
			fields["note"] = storage.Text(n)
		}
		m.TransactionID, err = tx.Insert(ctx, storage.TableVaultTransactions, fields)
		return err
	})
	if err != nil {
		return Movement{}, fmt.Errorf("%s: %w", kind, err)
	}

	s.logger.InfoContext(ctx, "Vault balance changed",
		log.FieldVaultID, id,
		log.FieldOperation, kind,
		log.FieldAmount, value)

	eventType := events.TypeVaultDeposit
	if kind == Withdraw {
		eventType = events.TypeVaultWithdraw
	}
	s.publish(ctx, events.New(eventType, map[string]any{
		"vault_id":       id,
		"transaction_id": m.TransactionID,
	}))
	return m, nil
}

// authorize verifies pin when one is set. A wrong PIN that starts a lockout
// publishes a vault.locked event.
func (s *VaultService) authorize(ctx context.Context, vaultID int64, pin string) error {
	if s.guard == nil {
		return nil
	}
	state, err := s.guard.State()
	if err != nil {
		return fmt.Errorf("read pin state: %w", err)
	}
	if state == credential.StateNoCredential {
		return nil
	}

	ok, err := s.guard.Verify(ctx, pin)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if state, err := s.guard.State(); err == nil && state == credential.StateLocked {
		remaining, _ := s.guard.RemainingLockout()
		s.publish(ctx, events.New(events.TypeVaultLocked, map[string]any{
			"vault_id":  vaultID,
			"remaining": remaining.String(),
		}))
	}
	return ErrWrongPin
}

func (s *VaultService) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil && !errors.Is(err, events.ErrCircuitOpen) {
		s.logger.WarnContext(ctx, "Failed to publish event",
			log.FieldEventType, e.Type,
			log.FieldError, err)
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
