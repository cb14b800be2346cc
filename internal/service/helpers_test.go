package service_test

import (
	"context"
	"encoding/base64"
	"strconv"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fleet-api/internal/domain"
	"fleet-api/internal/media"
	"fleet-api/internal/repo"
	"fleet-api/internal/repo/repotest"
	"fleet-api/internal/service"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Notify(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recordingSink) last() domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	db    *gorm.DB
	store *repo.Store
	fs    afero.Fs
	sink  *recordingSink
	users *service.UserService
	cars  *service.CarService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := repotest.NewDB(t)
	store := repo.NewStore(db)
	fs := afero.NewMemMapFs()
	sink := &recordingSink{}
	opt := service.Options{}
	return &fixture{
		db:    db,
		store: store,
		fs:    fs,
		sink:  sink,
		users: service.NewUserService(store, sink, opt),
		cars:  service.NewCarService(store, media.NewManager(media.NewFSStore(fs), 1024), sink, opt),
	}
}

func (f *fixture) register(t *testing.T, email string) *domain.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), service.RegisterInput{
		Email: email, Password: "Abc12345!", FirstName: "A", LastName: "B",
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) createCar(t *testing.T, ownerID uint, plate string) *domain.Car {
	t.Helper()
	c, err := f.cars.Create(context.Background(), service.CarInput{
		UserID: domain.FlexID(uintString(ownerID)), LicensePlate: plate, Brand: "Toyota", Model: "Corolla", Color: "Red",
	})
	require.NoError(t, err)
	return c
}

func uintString(v uint) string { return strconv.FormatUint(uint64(v), 10) }

// 1x1 PNG
var pngB64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func pngBytes(t *testing.T) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(pngB64)
	require.NoError(t, err)
	return b
}

func kindOf(err error) domain.Kind { return domain.KindOf(err) }
