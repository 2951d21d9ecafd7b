package signups

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/db/types"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

const defaultUserType = "brand"

// Lead is a synced contact offered to the operator approval queue.
type Lead struct {
	Email      string
	FirstName  *string
	LastName   *string
	Company    *string
	Phone      *string
	SourceType enums.SourceType
	Metadata   map[string]any
}

// Repository manages pending_signup_queue rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Enqueue(ctx context.Context, lead Lead) (enums.EnqueueOutcome, error)
	FindByEmail(ctx context.Context, email string) (*models.PendingSignup, error)
}

type repositoryImpl struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db, now: time.Now}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx, now: r.now}
}

// Enqueue inserts a pending signup for a new email, refreshes contact details
// of one still pending, and leaves operator-decided rows alone.
func (r *repositoryImpl) Enqueue(ctx context.Context, lead Lead) (enums.EnqueueOutcome, error) {
	email := strings.ToLower(strings.TrimSpace(lead.Email))
	if email == "" {
		return enums.EnqueueSkipped, errors.New("lead email required")
	}

	existing, err := r.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	if existing == nil {
		row := models.PendingSignup{
			Email:          email,
			FirstName:      nonEmpty(lead.FirstName),
			LastName:       nonEmpty(lead.LastName),
			Company:        nonEmpty(lead.Company),
			Phone:          nonEmpty(lead.Phone),
			UserType:       defaultUserType,
			Status:         enums.SignupPending,
			SourceType:     lead.SourceType,
			SignupMetadata: metadataJSON(lead.Metadata),
		}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return "", err
		}
		return enums.EnqueueCreated, nil
	}

	if existing.Status.IsDecided() {
		return enums.EnqueueSkipped, nil
	}

	updates := map[string]any{"updated_at": r.now().UTC()}
	for column, value := range map[string]*string{
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"company":    lead.Company,
		"phone":      lead.Phone,
	} {
		if v := nonEmpty(value); v != nil {
			updates[column] = *v
		}
	}
	if len(lead.Metadata) > 0 {
		updates["signup_metadata"] = dbtypes.MustJSON(lead.Metadata)
	}
	err = r.db.WithContext(ctx).
		Model(&models.PendingSignup{}).
		Where("id = ?", existing.ID).
		UpdateColumns(updates).Error
	if err != nil {
		return "", err
	}
	return enums.EnqueueUpdated, nil
}

// FindByEmail returns nil without error when the email is not queued.
func (r *repositoryImpl) FindByEmail(ctx context.Context, email string) (*models.PendingSignup, error) {
	var row models.PendingSignup
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func metadataJSON(m map[string]any) dbtypes.JSON {
	if len(m) == 0 {
		return nil
	}
	return dbtypes.MustJSON(m)
}

func nonEmpty(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
