package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-backend/internal/clients"
	"ledger-backend/internal/config"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/repository"
	"ledger-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxTicketUses = 1000

// Actor who is consuming a ticket
type Actor struct {
	Type string // models.ActorInternal | models.ActorAPIKey
	ID   string // wallet for internal actors, key name for API keys
}

// ConsumeResult outcome of a successful consumption
type ConsumeResult struct {
	Verified       bool `json:"verified"`
	UsedTimes      int  `json:"usedTimes"`
	MaxVerifyTimes int  `json:"maxVerifyTimes"`
}

// IssueTicketRequest purchase of a verification ticket
type IssueTicketRequest struct {
	Wallet         string
	Role           string
	SubjectTokenID string
	Scope          string
	MaxUses        int           // 0 selects the configured default
	TTL            time.Duration // 0 selects the configured default
	ActionID       string        // idempotency key, also the billing action id
}

// ReputationEnqueuer records a recompute job inside the consume transaction
// and dispatches it once that transaction has committed
type ReputationEnqueuer interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, wallet, trigger string) (*models.ReputationJob, error)
	Dispatch(ctx context.Context, job *models.ReputationJob)
}

// TicketService issues and consumes bounded-use verification tickets
type TicketService struct {
	db               *gorm.DB
	tickets          repository.TicketRepository
	billing          *BillingService
	ledger           *WalletLedger
	oracle           clients.OwnershipOracle
	reputation       ReputationEnqueuer
	issueFee         decimal.Decimal
	defaultMaxUses   int
	defaultTTL       time.Duration
	maxTTL           time.Duration
	ownershipTimeout time.Duration
	now              func() time.Time
	logger           *logrus.Logger
}

// NewTicketService creates the ticket service
func NewTicketService(db *gorm.DB, billing *BillingService, ledger *WalletLedger, oracle clients.OwnershipOracle, reputation ReputationEnqueuer, cfg config.TicketConfig, logger *logrus.Logger) (*TicketService, error) {
	fee, err := decimal.NewFromString(cfg.IssueFee)
	if err != nil {
		return nil, fmt.Errorf("invalid tickets.issueFee %q: %w", cfg.IssueFee, err)
	}
	if fee.IsNegative() {
		return nil, fmt.Errorf("tickets.issueFee must not be negative")
	}
	return &TicketService{
		db:               db,
		tickets:          repository.NewTicketRepository(db),
		billing:          billing,
		ledger:           ledger,
		oracle:           oracle,
		reputation:       reputation,
		issueFee:         fee.Truncate(utils.LedgerDecimals),
		defaultMaxUses:   cfg.DefaultMaxUses,
		defaultTTL:       time.Duration(cfg.DefaultTTL) * time.Second,
		maxTTL:           time.Duration(cfg.MaxTTL) * time.Second,
		ownershipTimeout: time.Duration(cfg.OwnershipTimeout) * time.Second,
		now:              time.Now,
		logger:           logger,
	}, nil
}

// IssueTicket charges the issue fee and creates a ticket in one transaction.
// Retrying with the same action id returns the ticket created the first time.
func (s *TicketService) IssueTicket(ctx context.Context, req IssueTicketRequest) (*models.VerificationTicket, error) {
	actionID, wallet, err := validateAction(req.ActionID, req.Wallet)
	if err != nil {
		return nil, err
	}
	scope := strings.TrimSpace(req.Scope)
	if s.oracle == nil || !s.oracle.HasScope(scope) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	tokenID, err := clients.ParseTokenID(req.SubjectTokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicketRequest, err)
	}

	maxUses := req.MaxUses
	if maxUses == 0 {
		maxUses = s.defaultMaxUses
	}
	if maxUses < 1 || maxUses > maxTicketUses {
		return nil, fmt.Errorf("%w: max uses %d out of range", ErrInvalidTicketRequest, maxUses)
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl <= 0 || (s.maxTTL > 0 && ttl > s.maxTTL) {
		return nil, fmt.Errorf("%w: ttl %s out of range", ErrInvalidTicketRequest, ttl)
	}
	role := req.Role
	if role == "" {
		role = models.WalletRoleUser
	}

	var ticket *models.VerificationTicket
	var mutation *MutationResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tickets := s.tickets.WithTx(tx)

		existing, err := s.findIssued(ctx, tickets, actionID, wallet)
		if err != nil || existing != nil {
			ticket = existing
			return err
		}

		if s.issueFee.IsPositive() {
			charge, m, err := s.billing.ChargeForActionTx(ctx, tx, ChargeRequest{
				ActionID:   actionID,
				Wallet:     wallet,
				Role:       role,
				Amount:     s.issueFee,
				ActionType: models.ActionTypeTicketIssue,
			})
			if err != nil {
				return err
			}
			if charge.Duplicated {
				// a concurrent issue may have committed since the first lookup
				existing, err := s.findIssued(ctx, tickets, actionID, wallet)
				if err != nil {
					return err
				}
				if existing == nil {
					return fmt.Errorf("%w: %s was used by another action", ErrInvalidActionID, actionID)
				}
				ticket = existing
				return nil
			}
			mutation = m
		}

		now := s.now()
		ticket = &models.VerificationTicket{
			Ticket:         strings.ReplaceAll(uuid.NewString(), "-", ""),
			UserAddress:    wallet,
			SubjectTokenID: tokenID.String(),
			Scope:          scope,
			ExpireAt:       now.Add(ttl),
			MaxUses:        maxUses,
			UsedTimes:      0,
			ActionID:       &actionID,
			CreatedAt:      now,
		}
		if err := tickets.Create(ctx, ticket); err != nil {
			return fmt.Errorf("failed to create ticket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if mutation != nil {
		s.ledger.NotifyCommitted(mutation)
	}
	s.logger.WithFields(logrus.Fields{
		"ticket":    ticket.Ticket,
		"wallet":    wallet,
		"scope":     scope,
		"max_uses":  ticket.MaxUses,
		"expire_at": ticket.ExpireAt,
		"action_id": actionID,
	}).Info("🎫 Ticket issued")
	return ticket, nil
}

func (s *TicketService) findIssued(ctx context.Context, tickets repository.TicketRepository, actionID, wallet string) (*models.VerificationTicket, error) {
	existing, err := tickets.FindByActionID(ctx, actionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up ticket: %w", err)
	}
	if existing.UserAddress != wallet {
		return nil, fmt.Errorf("%w: %s", ErrActionOwnerMismatch, actionID)
	}
	return existing, nil
}

// ConsumeTicket verifies ownership and spends one use. A failed ownership
// check leaves used_times untouched.
func (s *TicketService) ConsumeTicket(ctx context.Context, ticketID string, actor Actor) (*ConsumeResult, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return nil, fmt.Errorf("%w: ticket id is required", ErrInvalidTicketRequest)
	}
	if actor.Type != models.ActorInternal && actor.Type != models.ActorAPIKey {
		return nil, fmt.Errorf("%w: unknown actor type %q", ErrInvalidTicketRequest, actor.Type)
	}

	var result *ConsumeResult
	var job *models.ReputationJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tickets := s.tickets.WithTx(tx)

		ticket, err := tickets.LockTicket(ctx, ticketID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrTicketNotFound, ticketID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock ticket: %w", err)
		}

		switch ticket.State(s.now()) {
		case models.TicketStateExpired:
			return fmt.Errorf("%w: %s", ErrTicketExpired, ticketID)
		case models.TicketStateExhausted:
			return fmt.Errorf("%w: %s", ErrTicketExhausted, ticketID)
		}

		owned, err := s.checkOwnership(ctx, ticket)
		if err != nil {
			return err
		}
		if !owned {
			return fmt.Errorf("%w: %s no longer holds token %s", ErrOwnershipMismatch, ticket.UserAddress, ticket.SubjectTokenID)
		}

		incremented, err := tickets.IncrementUsage(ctx, ticketID)
		if err != nil {
			return fmt.Errorf("failed to increment usage: %w", err)
		}
		if !incremented {
			return fmt.Errorf("%w: %s", ErrTicketExhausted, ticketID)
		}

		usedTimes := ticket.UsedTimes + 1
		if err := tickets.AppendUsage(ctx, &models.TicketUsage{
			ID:             uuid.NewString(),
			Ticket:         ticketID,
			ActorType:      actor.Type,
			ActorID:        actor.ID,
			UsedTimesAfter: usedTimes,
			CreatedAt:      s.now(),
		}); err != nil {
			return fmt.Errorf("failed to append ticket usage: %w", err)
		}

		if s.reputation != nil {
			job, err = s.reputation.EnqueueTx(ctx, tx, ticket.UserAddress, "ticket:"+ticketID)
			if err != nil {
				return fmt.Errorf("failed to record reputation job: %w", err)
			}
		}
		result = &ConsumeResult{Verified: true, UsedTimes: usedTimes, MaxVerifyTimes: ticket.MaxUses}
		return nil
	})
	if err != nil {
		metrics.TicketConsumptions.WithLabelValues(actor.Type, consumeResultLabel(err)).Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"ticket":     ticketID,
			"actor_type": actor.Type,
			"actor_id":   actor.ID,
		}).Info("🎫 Ticket consumption rejected")
		return nil, err
	}
	metrics.TicketConsumptions.WithLabelValues(actor.Type, "ok").Inc()

	s.logger.WithFields(logrus.Fields{
		"ticket":     ticketID,
		"actor_type": actor.Type,
		"actor_id":   actor.ID,
		"used_times": result.UsedTimes,
		"max_uses":   result.MaxVerifyTimes,
	}).Info("✅ Ticket consumed")

	if job != nil {
		s.reputation.Dispatch(ctx, job)
	}
	return result, nil
}

func (s *TicketService) checkOwnership(ctx context.Context, ticket *models.VerificationTicket) (bool, error) {
	if s.oracle == nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownScope, ticket.Scope)
	}
	if s.ownershipTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ownershipTimeout)
		defer cancel()
	}
	owned, err := s.oracle.IsOwner(ctx, ticket.Scope, ticket.SubjectTokenID, ticket.UserAddress)
	if errors.Is(err, clients.ErrUnknownScope) {
		return false, fmt.Errorf("%w: %s", ErrUnknownScope, ticket.Scope)
	}
	if err != nil {
		return false, fmt.Errorf("ownership check failed: %w", err)
	}
	return owned, nil
}

// GetTicket reads one ticket
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*models.VerificationTicket, error) {
	ticket, err := s.tickets.GetTicket(ctx, strings.TrimSpace(ticketID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, ticketID)
	}
	return ticket, err
}

// ListTickets tickets of one wallet, newest first
func (s *TicketService) ListTickets(ctx context.Context, wallet string, page, limit int) ([]*models.VerificationTicket, int64, error) {
	address, err := utils.NormalizeEvmAddress(wallet)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return s.tickets.FindByUser(ctx, address, page, limit)
}

// Usages consumption trail of one ticket
func (s *TicketService) Usages(ctx context.Context, ticketID string) ([]*models.TicketUsage, error) {
	return s.tickets.FindUsages(ctx, strings.TrimSpace(ticketID))
}

// Now current time as seen by the ticket state machine
func (s *TicketService) Now() time.Time {
	return s.now()
}

func consumeResultLabel(err error) string {
	switch {
	case errors.Is(err, ErrTicketNotFound):
		return "not_found"
	case errors.Is(err, ErrTicketExpired):
		return "expired"
	case errors.Is(err, ErrTicketExhausted):
		return "exhausted"
	case errors.Is(err, ErrOwnershipMismatch):
		return "ownership_mismatch"
	default:
		return "error"
	}
}
