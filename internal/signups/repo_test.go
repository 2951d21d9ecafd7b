package signups

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/signup-sync/pkg/db/dbtest"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

func strPtr(s string) *string { return &s }

func TestEnqueue_CreatesThenUpdates(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	outcome, err := repo.Enqueue(ctx, Lead{
		Email:      " Jane@Example.com ",
		FirstName:  strPtr("Jane"),
		SourceType: enums.SourceEasyAppointments,
		Metadata:   map[string]any{"appointment_id": "42"},
	})
	require.NoError(t, err)
	require.Equal(t, enums.EnqueueCreated, outcome)

	outcome, err = repo.Enqueue(ctx, Lead{
		Email:     "jane@example.com",
		FirstName: strPtr(""),
		Company:   strPtr("Acme"),
	})
	require.NoError(t, err)
	require.Equal(t, enums.EnqueueUpdated, outcome)

	row, err := repo.FindByEmail(ctx, "JANE@example.com")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "jane@example.com", row.Email)
	require.Equal(t, "Jane", *row.FirstName, "blank values must not overwrite")
	require.Equal(t, "Acme", *row.Company)
	require.Equal(t, enums.SignupPending, row.Status)
	require.Equal(t, "brand", row.UserType)
	require.JSONEq(t, `{"appointment_id":"42"}`, string(row.SignupMetadata))
}

func TestEnqueue_SkipsDecided(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	require.NoError(t, conn.Create(&models.PendingSignup{
		Email:    "done@example.com",
		UserType: "brand",
		Status:   enums.SignupApproved,
	}).Error)

	outcome, err := repo.Enqueue(ctx, Lead{Email: "done@example.com", Company: strPtr("New Co")})
	require.NoError(t, err)
	require.Equal(t, enums.EnqueueSkipped, outcome)

	row, err := repo.FindByEmail(ctx, "done@example.com")
	require.NoError(t, err)
	require.Nil(t, row.Company)
}

func TestEnqueue_RequiresEmail(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	_, err := repo.Enqueue(context.Background(), Lead{Email: "  "})
	require.Error(t, err)
}

func TestFindByEmail_Missing(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	row, err := repo.FindByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	require.Nil(t, row)
}
