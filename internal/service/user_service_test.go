package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-api/internal/domain"
	"fleet-api/internal/service"
)

func TestRegister_RejectsDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.register(t, "a@x.com")
	assert.NotEmpty(t, u.PasswordHash)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.True(t, u.IsActive)

	_, err := f.users.Register(ctx, service.RegisterInput{
		Email: "A@X.com ", Password: "Abc12345!", FirstName: "A", LastName: "B",
	})
	assert.Equal(t, domain.KindConflict, kindOf(err))
	assert.Equal(t, []string{"user-created"}, f.sink.types())
}

func TestRegister_ReportsAllPasswordRules(t *testing.T) {
	f := newFixture(t)
	_, err := f.users.Register(context.Background(), service.RegisterInput{
		Email: "p@x.com", Password: "abc", FirstName: "P", LastName: "Q",
	})
	require.Equal(t, domain.KindValidation, kindOf(err))
	de := domain.As(err)
	assert.Contains(t, de.Details, "password must contain at least 8 characters")
	assert.Contains(t, de.Details, "password must contain one uppercase letter")
	assert.Contains(t, de.Details, "password must contain one number")
	assert.Contains(t, de.Details, "password must contain one special character (@$!%*?&)")
}

func TestRegister_FieldValidation(t *testing.T) {
	f := newFixture(t)
	phone := "123"
	_, err := f.users.Register(context.Background(), service.RegisterInput{
		Email: "bad", Password: "Abc12345!", FirstName: "", LastName: "B", Phone: &phone, Role: "root",
	})
	require.Equal(t, domain.KindValidation, kindOf(err))
	de := domain.As(err)
	assert.Contains(t, de.Details, "invalid email format")
	assert.Contains(t, de.Details, "firstName is required")
	assert.Contains(t, de.Details, "invalid phone number")
	assert.Contains(t, de.Details, "role must be one of: user, admin")
}

func TestUserSoftDeleteRestoreCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "cycle@x.com")

	_, err := f.users.Restore(ctx, u.ID)
	assert.Equal(t, domain.KindStateConflict, kindOf(err))

	_, err = f.users.SoftDelete(ctx, u.ID)
	require.NoError(t, err)
	_, err = f.users.SoftDelete(ctx, u.ID)
	assert.Equal(t, domain.KindStateConflict, kindOf(err))

	_, err = f.users.Get(ctx, u.ID)
	assert.Equal(t, domain.KindNotFound, kindOf(err))

	deleted, err := f.users.ListDeleted(ctx, service.ListQuery{})
	require.NoError(t, err)
	require.Len(t, deleted.Items, 1)
	assert.True(t, deleted.Items[0].DeletedAt.Valid)

	restored, err := f.users.Restore(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, restored.DeletedAt.Valid)

	assert.Equal(t, []string{"user-created", "user-deleted", "user-created"}, f.sink.types())
	assert.Zero(t, f.sink.last().OwnerID)
}

func TestUserRestore_ConflictWhenEmailReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.register(t, "reuse@x.com")
	_, err := f.users.SoftDelete(ctx, old.ID)
	require.NoError(t, err)
	f.register(t, "reuse@x.com")

	_, err = f.users.Restore(ctx, old.ID)
	assert.Equal(t, domain.KindConflict, kindOf(err))
}

func TestUserRestore_RejectsInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "inactive@x.com")
	_, err := f.users.Update(ctx, u.ID, service.UserPatch{IsActive: domain.Some(false)})
	require.NoError(t, err)
	_, err = f.users.SoftDelete(ctx, u.ID)
	require.NoError(t, err)

	_, err = f.users.Restore(ctx, u.ID)
	assert.Equal(t, domain.KindStateConflict, kindOf(err))
}

func TestUserUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	f.register(t, "b@x.com")

	_, err := f.users.Update(ctx, a.ID, service.UserPatch{})
	assert.Equal(t, domain.KindValidation, kindOf(err))

	_, err = f.users.Update(ctx, a.ID, service.UserPatch{Email: domain.Some("B@x.com")})
	assert.Equal(t, domain.KindConflict, kindOf(err))

	got, err := f.users.Update(ctx, a.ID, service.UserPatch{
		FirstName: domain.Some("Alice"),
		Phone:     domain.Some("+1 555 123 4567"),
		Role:      domain.Some(domain.RoleAdmin),
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.FirstName)
	require.NotNil(t, got.Phone)
	assert.Equal(t, domain.RoleAdmin, got.Role)

	got, err = f.users.Update(ctx, a.ID, service.UserPatch{Phone: domain.Null[string]()})
	require.NoError(t, err)
	assert.Nil(t, got.Phone)

	_, err = f.users.Update(ctx, 999, service.UserPatch{FirstName: domain.Some("X")})
	assert.Equal(t, domain.KindNotFound, kindOf(err))

	_, err = f.users.SoftDelete(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.users.Update(ctx, a.ID, service.UserPatch{FirstName: domain.Some("Y")})
	assert.Equal(t, domain.KindStateConflict, kindOf(err))
}

func TestUserPermanentDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "owner@x.com")
	car := f.createCar(t, u.ID, "PRG-001")

	err := f.users.PermanentDelete(ctx, u.ID)
	assert.Equal(t, domain.KindStateConflict, kindOf(err))

	require.NoError(t, f.cars.PermanentDelete(ctx, car.ID))
	require.NoError(t, f.users.PermanentDelete(ctx, u.ID))

	err = f.users.PermanentDelete(ctx, u.ID)
	assert.Equal(t, domain.KindNotFound, kindOf(err))
	_, err = f.users.Restore(ctx, u.ID)
	assert.Equal(t, domain.KindNotFound, kindOf(err))
}

func TestUserPasswords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "pw@x.com")

	err := f.users.ChangePassword(ctx, u.ID, "wrong", "Newpass1!")
	assert.Equal(t, domain.KindAuth, kindOf(err))

	err = f.users.ChangePassword(ctx, u.ID, "Abc12345!", "weak")
	assert.Equal(t, domain.KindValidation, kindOf(err))

	require.NoError(t, f.users.ChangePassword(ctx, u.ID, "Abc12345!", "Newpass1!"))
	require.NoError(t, f.users.AdminResetPassword(ctx, u.ID, "Reset123!"))

	auth := service.NewAuthService(f.store, fakeIssuer{}, nil)
	_, err = auth.Login(ctx, "pw@x.com", "Newpass1!")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	res, err := auth.Login(ctx, "pw@x.com", "Reset123!")
	require.NoError(t, err)
	assert.Equal(t, "token-for-user", res.Token)
}

func TestUserListAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, e := range []string{"u1@x.com", "u2@x.com", "u3@x.com"} {
		f.register(t, e)
	}
	page, err := f.users.ListActive(ctx, service.ListQuery{Page: "2", Limit: "2"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 1)

	_, err = f.users.ListActive(ctx, service.ListQuery{Role: "superuser"})
	assert.Equal(t, domain.KindValidation, kindOf(err))

	page, err = f.users.ListActive(ctx, service.ListQuery{IsActive: "false"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, page.Total)
	page, err = f.users.ListActive(ctx, service.ListQuery{IsActive: " true "})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	_, err = f.users.ListActive(ctx, service.ListQuery{IsActive: "maybe"})
	assert.Equal(t, domain.KindValidation, kindOf(err))

	st, err := f.users.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.Total)
	assert.EqualValues(t, 3, st.Active)
}
