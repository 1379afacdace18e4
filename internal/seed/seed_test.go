package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leganyst/salon-crm/internal/cache"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/db"
	"github.com/Leganyst/salon-crm/internal/logger"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
	"github.com/Leganyst/salon-crm/internal/service"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	gdb, err := db.NewInMemory()
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(gdb))

	log := logger.Discard()
	d := Deps{
		Identity: service.NewIdentityService(gdb, "seed-secret", time.Hour, log),
		Catalog:  service.NewCatalogService(gdb, cache.NewMemory(0), log),
		Clients:  service.NewClientService(gdb, log),
	}

	res, err := Run(ctx, d, Options{Salons: 2, Clients: 5, Seed: 42}, log)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.NotEqual(t, res[0].SalonID, res[1].SalonID)

	for _, r := range res {
		_, profile, err := d.Identity.Login(ctx, r.OwnerEmail, DefaultPassword)
		require.NoError(t, err)
		assert.Equal(t, model.RoleOwner, profile.Role)
		assert.Equal(t, r.SalonID, profile.SalonID)

		services, err := d.Catalog.ListServices(ctx, r.SalonID, true, "")
		require.NoError(t, err)
		assert.Len(t, services, 4)

		employees, err := d.Catalog.ListEmployees(ctx, r.SalonID, true)
		require.NoError(t, err)
		assert.Len(t, employees, 2)

		page, err := d.Clients.List(ctx, repository.ClientFilter{SalonID: r.SalonID, Page: calendar.PageRequest{Page: 1, PageSize: 50}})
		require.NoError(t, err)
		assert.Equal(t, r.Clients, page.Total)
		assert.Positive(t, r.Clients)
	}
}

func TestRun_Validation(t *testing.T) {
	_, err := Run(context.Background(), Deps{}, Options{Salons: 0}, logger.Discard())
	assert.Error(t, err)
	_, err = Run(context.Background(), Deps{}, Options{Salons: 1, Clients: -1}, logger.Discard())
	assert.Error(t, err)
}
