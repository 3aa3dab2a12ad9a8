package repository

import (
	"context"

	"ledger-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TicketRepository defines the interface for verification tickets and their usage trail
type TicketRepository interface {
	WithTx(tx *gorm.DB) TicketRepository
	Create(ctx context.Context, ticket *models.VerificationTicket) error
	LockTicket(ctx context.Context, ticketID string) (*models.VerificationTicket, error)
	GetTicket(ctx context.Context, ticketID string) (*models.VerificationTicket, error)
	FindByActionID(ctx context.Context, actionID string) (*models.VerificationTicket, error)
	FindByUser(ctx context.Context, user string, page, limit int) ([]*models.VerificationTicket, int64, error)
	IncrementUsage(ctx context.Context, ticketID string) (bool, error)
	AppendUsage(ctx context.Context, usage *models.TicketUsage) error
	FindUsages(ctx context.Context, ticketID string) ([]*models.TicketUsage, error)
}

type ticketRepository struct {
	db *gorm.DB
}

// NewTicketRepository creates a new TicketRepository instance
func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) WithTx(tx *gorm.DB) TicketRepository {
	return &ticketRepository{db: tx}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *models.VerificationTicket) error {
	return r.db.WithContext(ctx).Create(ticket).Error
}

func (r *ticketRepository) LockTicket(ctx context.Context, ticketID string) (*models.VerificationTicket, error) {
	var ticket models.VerificationTicket
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("ticket = ?", ticketID).
		First(&ticket).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) GetTicket(ctx context.Context, ticketID string) (*models.VerificationTicket, error) {
	var ticket models.VerificationTicket
	err := r.db.WithContext(ctx).Where("ticket = ?", ticketID).First(&ticket).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) FindByActionID(ctx context.Context, actionID string) (*models.VerificationTicket, error) {
	var ticket models.VerificationTicket
	err := r.db.WithContext(ctx).Where("action_id = ?", actionID).First(&ticket).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) FindByUser(ctx context.Context, user string, page, limit int) ([]*models.VerificationTicket, int64, error) {
	var tickets []*models.VerificationTicket
	var total int64

	query := r.db.WithContext(ctx).Model(&models.VerificationTicket{}).Where("user_address = ?", user)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&tickets).Error
	if err != nil {
		return nil, 0, err
	}

	return tickets, total, nil
}

// IncrementUsage bumps used_times unless the cap is already reached
func (r *ticketRepository) IncrementUsage(ctx context.Context, ticketID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.VerificationTicket{}).
		Where("ticket = ? AND used_times < max_uses", ticketID).
		UpdateColumn("used_times", gorm.Expr("used_times + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *ticketRepository) AppendUsage(ctx context.Context, usage *models.TicketUsage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}

func (r *ticketRepository) FindUsages(ctx context.Context, ticketID string) ([]*models.TicketUsage, error) {
	var usages []*models.TicketUsage
	err := r.db.WithContext(ctx).Where("ticket = ?", ticketID).Order("created_at ASC").Find(&usages).Error
	if err != nil {
		return nil, err
	}
	return usages, nil
}
