package repo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-api/internal/domain"
	"fleet-api/internal/repo"
	"fleet-api/internal/repo/repotest"
)

func TestCarRepo_FindLoadsOwnerAndLocation(t *testing.T) {
	db := repotest.NewDB(t)
	r := repo.NewCarRepo(db)
	ctx := context.Background()

	owner := repotest.SeedUser(t, db, "owner@example.com")
	c := &domain.Car{UserID: owner.ID, LicensePlate: "ABC-123", Brand: "Ford", Model: "Focus", Color: "Red"}
	c.SetLocation(&domain.GeoPoint{Latitude: 10.5, Longitude: -20.25})
	require.NoError(t, r.Create(ctx, c))

	got, err := r.FindByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Location)
	assert.Equal(t, 10.5, got.Location.Latitude)
	assert.Equal(t, -20.25, got.Location.Longitude)
	require.NotNil(t, got.Owner)
	assert.Equal(t, "owner@example.com", got.Owner.Email)

	byPlate, err := r.FindByPlate(ctx, "ABC-123")
	require.NoError(t, err)
	require.NotNil(t, byPlate)
	assert.Equal(t, c.ID, byPlate.ID)
}

func TestCarRepo_PlateUniqueAmongActive(t *testing.T) {
	db := repotest.NewDB(t)
	r := repo.NewCarRepo(db)
	ctx := context.Background()

	owner := repotest.SeedUser(t, db, "owner@example.com")
	first := repotest.SeedCar(t, db, owner.ID, "XYZ-1")

	err := r.Create(ctx, &domain.Car{UserID: owner.ID, LicensePlate: "XYZ-1", Brand: "BMW", Model: "X5", Color: "Black"})
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	require.NoError(t, r.SoftDelete(ctx, first.ID))
	exists, err := r.ExistsActiveByPlate(ctx, "XYZ-1", 0)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, r.Create(ctx, &domain.Car{UserID: owner.ID, LicensePlate: "XYZ-1", Brand: "BMW", Model: "X5", Color: "Black"}))
}

func TestCarRepo_ListSearch(t *testing.T) {
	db := repotest.NewDB(t)
	r := repo.NewCarRepo(db)
	ctx := context.Background()

	alice := repotest.SeedUser(t, db, "alice@example.com")
	bob := repotest.SeedUser(t, db, "bob@example.com")
	repotest.SeedCar(t, db, alice.ID, "AAA-X")
	repotest.SeedCar(t, db, alice.ID, "AAA-Y")
	bobCar := &domain.Car{UserID: bob.ID, LicensePlate: "BBB-Z", Brand: "Honda", Model: "Civic", Color: "White"}
	require.NoError(t, r.Create(ctx, bobCar))

	page := domain.Page{Page: 1, Limit: 10}
	cars, total, err := r.ListActive(ctx, domain.CarFilter{Page: page, Query: "honda"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, bobCar.ID, cars[0].ID)
	require.NotNil(t, cars[0].Owner)
	assert.Equal(t, bob.ID, cars[0].Owner.ID)

	// 车牌里没有数字，只能按车主 id 命中
	_, total, err = r.ListActive(ctx, domain.CarFilter{Page: page, Query: fmt.Sprint(alice.ID)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	cars, total, err = r.ListActive(ctx, domain.CarFilter{Page: page, Query: fmt.Sprint(bob.ID)})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, bobCar.ID, cars[0].ID)

	// 数字 token 同时做子串匹配：alice 的 id 出现在 carol 的车牌里，两者取并集
	carol := repotest.SeedUser(t, db, "carol@example.com")
	repotest.SeedCar(t, db, carol.ID, "CCC-"+fmt.Sprint(alice.ID))
	_, total, err = r.ListActive(ctx, domain.CarFilter{Page: page, Query: fmt.Sprint(alice.ID)})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	// LIKE 通配符按字面匹配
	_, total, err = r.ListActive(ctx, domain.CarFilter{Page: page, Query: "%"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	_, total, err = r.ListActive(ctx, domain.CarFilter{Page: page, Query: "_"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)

	require.NoError(t, r.SoftDelete(ctx, bobCar.ID))
	deleted, total, err := r.ListDeleted(ctx, domain.CarFilter{Page: page})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, bobCar.ID, deleted[0].ID)
}

func TestCarRepo_OwnerQueriesAndStats(t *testing.T) {
	db := repotest.NewDB(t)
	r := repo.NewCarRepo(db)
	ctx := context.Background()

	owner := repotest.SeedUser(t, db, "owner@example.com")
	a := repotest.SeedCar(t, db, owner.ID, "S-001")
	b := repotest.SeedCar(t, db, owner.ID, "S-002")
	repotest.SeedCar(t, db, owner.ID, "S-003")

	name, typ, size := "car_1_1.png", "image/png", int64(42)
	require.NoError(t, r.Update(ctx, a.ID, map[string]any{"image_name": name, "image_type": typ, "image_size": size}))
	require.NoError(t, r.Update(ctx, a.ID, map[string]any{"latitude": 1.0, "longitude": 2.0}))
	require.NoError(t, r.SoftDelete(ctx, b.ID))

	cars, err := r.ListByOwner(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, cars, 2)

	n, err := r.CountByOwner(ctx, owner.ID, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = r.CountByOwner(ctx, owner.ID, true)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	s, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CarStats{Total: 2, WithImages: 1, WithLocation: 1, Deleted: 1}, s)

	require.NoError(t, r.ForceDelete(ctx, b.ID))
	got, err := r.FindAnyByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
