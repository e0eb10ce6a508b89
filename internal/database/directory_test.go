package database

import (
	"context"
	"testing"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryUpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	client := &models.Client{ID: 1, Name: "Ana", Email: "ana@example.com", TelegramChatID: 4242}
	require.NoError(t, db.UpsertClient(ctx, client))
	client.Phone = "+34600000001"
	require.NoError(t, db.UpsertClient(ctx, client))

	gotClient, err := db.GetClient(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "+34600000001", gotClient.Phone)
	assert.Equal(t, int64(4242), gotClient.TelegramChatID)

	require.NoError(t, db.UpsertPet(ctx, &models.Pet{ID: 10, Name: "Rex", Species: "dog", OwnerID: 1}))
	pet, err := db.GetPet(ctx, 10)
	require.NoError(t, err)
	assert.True(t, models.BelongsTo(pet, 1))

	employee := &models.Employee{ID: 5, Name: "Dr. Vega", ServiceMinutes: map[models.ServiceType]int{models.ServiceSurgery: 120}}
	require.NoError(t, db.UpsertEmployee(ctx, employee))
	gotEmployee, err := db.GetEmployee(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 120, gotEmployee.SlotMinutes(models.ServiceSurgery))
	assert.Zero(t, gotEmployee.SlotMinutes(models.ServiceDental))

	require.NoError(t, db.UpsertEmployee(ctx, &models.Employee{ID: 6, Name: "Dr. Ortiz"}))
	plain, err := db.GetEmployee(ctx, 6)
	require.NoError(t, err)
	assert.Empty(t, plain.ServiceMinutes)
}

func TestDirectoryNotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetClient(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = db.GetPet(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = db.GetEmployee(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
