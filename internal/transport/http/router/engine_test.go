package router_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-api/internal/core/auth"
	"fleet-api/internal/core/server"
	"fleet-api/internal/domain"
	"fleet-api/internal/media"
	"fleet-api/internal/notify"
	"fleet-api/internal/repo"
	"fleet-api/internal/repo/repotest"
	"fleet-api/internal/service"
	"fleet-api/internal/transport/http/handler"
	"fleet-api/internal/transport/http/router"
)

const pngB64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

type envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
	Details []string        `json:"details"`
}

type env struct {
	t     *testing.T
	r     *gin.Engine
	jwt   *auth.JWTer
	users *service.UserService
	hub   *notify.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := repo.NewStore(repotest.NewDB(t))
	users := service.NewUserService(st, nil, service.Options{})
	cars := service.NewCarService(st, media.NewManager(media.NewFSStore(afero.NewMemMapFs()), 1024), nil, service.Options{})
	jw := &auth.JWTer{Secret: []byte("test-secret"), Issuer: "fleet-test", TTL: time.Hour}
	hub := notify.NewHub(zap.NewNop())

	reg := router.NewRegistry(
		handler.NewAuthHandler(service.NewAuthService(st, jw, nil), users),
		handler.NewUserHandler(users, cars),
		handler.NewCarHandler(cars, 1024),
		handler.NewAdminHandler(users, cars),
		handler.NewWSHandler(hub),
	)
	return &env{
		t:     t,
		r:     router.NewAPIEngine(zap.NewNop(), server.Options{}, jw, users, reg),
		jwt:   jw,
		users: users,
		hub:   hub,
	}
}

func (e *env) user(email, role string) (*domain.User, string) {
	e.t.Helper()
	u, err := e.users.Register(context.Background(), service.RegisterInput{
		Email: email, Password: "Abc12345!", FirstName: "A", LastName: "B", Role: role,
	})
	require.NoError(e.t, err)
	tok, err := e.jwt.Issue(u.ID, u.Role)
	require.NoError(e.t, err)
	return u, tok
}

func (e *env) send(req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	e.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var out envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (e *env) do(method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req, token)
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	w, _ := e.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, _ = e.do(http.MethodGet, "/api/v1/cars", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `fleet_http_requests_total{method="GET",route="/api/v1/cars",status="401"}`)
	assert.Contains(t, w.Body.String(), "fleet_http_in_flight_requests")
}

func TestRegisterOverHTTP(t *testing.T) {
	e := newEnv(t)
	body := map[string]any{"email": "a@x.com", "password": "Abc12345!", "firstName": "A", "lastName": "B"}

	w, res := e.do(http.MethodPost, "/api/v1/users", body, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, string(res.Data), "password")
	u := decode[domain.User](t, res.Data)
	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, domain.RoleUser, u.Role)

	w, res = e.do(http.MethodPost, "/api/v1/users", body, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 409, res.Code)

	w, res = e.do(http.MethodPost, "/api/v1/users", map[string]any{"email": "bad", "password": "abc", "firstName": "", "lastName": "B"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.GreaterOrEqual(t, len(res.Details), 3)
}

func TestRegisterRoleNeedsAdmin(t *testing.T) {
	e := newEnv(t)
	_, adminTok := e.user("root@x.com", domain.RoleAdmin)
	body := map[string]any{"email": "b@x.com", "password": "Abc12345!", "firstName": "B", "lastName": "B", "role": "admin"}

	w, _ := e.do(http.MethodPost, "/api/v1/users", body, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, res := e.do(http.MethodPost, "/api/v1/users", body, adminTok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, domain.RoleAdmin, decode[domain.User](t, res.Data).Role)
}

func TestRegisterRejectsUnknownRoleAndPhone(t *testing.T) {
	e := newEnv(t)
	_, adminTok := e.user("root@x.com", domain.RoleAdmin)
	body := map[string]any{"email": "c@x.com", "password": "Abc12345!", "firstName": "C", "lastName": "C", "role": "boss", "phone": "12ab"}

	w, res := e.do(http.MethodPost, "/api/v1/users", body, adminTok)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.ElementsMatch(t, []string{"role must be one of: user, admin", "phone must be a valid phone number"}, res.Details)

	body["role"], body["phone"] = "user", "+1 555 010 2030"
	w, _ = e.do(http.MethodPost, "/api/v1/users", body, "")
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestStaleTokenRechecked(t *testing.T) {
	e := newEnv(t)
	_, rootTok := e.user("root@x.com", domain.RoleAdmin)
	ops, opsTok := e.user("ops@x.com", domain.RoleAdmin)
	driver, driverTok := e.user("driver@x.com", "")
	car := map[string]any{"licensePlate": "DRV-1", "brand": "Kia", "model": "Rio", "color": "Red"}

	// 降权后旧 admin token 立刻失去管理端
	w, _ := e.do(http.MethodGet, "/admin/v1/users/stats", nil, opsTok)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = e.do(http.MethodPatch, fmt.Sprintf("/api/v1/users/%d", ops.ID), map[string]any{"role": "user"}, rootTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = e.do(http.MethodGet, "/admin/v1/users/stats", nil, opsTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 停用：写操作 401，读沿用 token
	w, _ = e.do(http.MethodPatch, fmt.Sprintf("/api/v1/users/%d", driver.ID), map[string]any{"isActive": false}, rootTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, res := e.do(http.MethodPost, "/api/v1/cars", car, driverTok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "account is inactive", res.Msg)
	w, _ = e.do(http.MethodGet, "/api/v1/cars", nil, driverTok)
	assert.Equal(t, http.StatusOK, w.Code)

	// 软删
	w, _ = e.do(http.MethodPatch, fmt.Sprintf("/api/v1/users/%d", driver.ID), map[string]any{"isActive": true}, rootTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = e.do(http.MethodDelete, fmt.Sprintf("/api/v1/users/%d", driver.ID), nil, rootTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, res = e.do(http.MethodPost, "/api/v1/cars", car, driverTok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "account no longer exists", res.Msg)
}

func TestLoginAndMe(t *testing.T) {
	e := newEnv(t)
	e.user("me@x.com", "")

	w, res := e.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ME@x.com", "password": "Abc12345!"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[service.LoginResult](t, res.Data)
	require.NotEmpty(t, login.Token)

	w, res = e.do(http.MethodGet, "/api/v1/me", nil, login.Token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "me@x.com", decode[domain.User](t, res.Data).Email)

	w, res = e.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "me@x.com", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid credentials", res.Msg)

	w, _ = e.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "me@x.com"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(http.MethodGet, "/api/v1/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = e.do(http.MethodGet, "/api/v1/me", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserAccessRules(t *testing.T) {
	e := newEnv(t)
	alice, aliceTok := e.user("alice@x.com", "")
	bob, bobTok := e.user("bob@x.com", "")

	w, _ := e.do(http.MethodGet, fmt.Sprintf("/api/v1/users/%d", bob.ID), nil, aliceTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(http.MethodPatch, fmt.Sprintf("/api/v1/users/%d", alice.ID), map[string]any{"role": "admin"}, aliceTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, res := e.do(http.MethodPatch, fmt.Sprintf("/api/v1/users/%d", alice.ID), map[string]any{"firstName": "Alicia"}, aliceTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Alicia", decode[domain.User](t, res.Data).FirstName)

	w, _ = e.do(http.MethodGet, "/api/v1/users", nil, aliceTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(http.MethodGet, "/api/v1/users/abc", nil, aliceTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(http.MethodPut, fmt.Sprintf("/api/v1/users/%d/password", bob.ID),
		map[string]string{"currentPassword": "Abc12345!", "newPassword": "Xyz12345!"}, aliceTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(http.MethodPut, fmt.Sprintf("/api/v1/users/%d/password", bob.ID),
		map[string]string{"currentPassword": "Abc12345!", "newPassword": "Xyz12345!"}, bobTok)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCarLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	_, userTok := e.user("owner@x.com", "")
	_, adminTok := e.user("root@x.com", domain.RoleAdmin)
	car := map[string]any{"licensePlate": "abc-123", "brand": "Toyota", "model": "Corolla", "color": "Red"}

	w, res := e.do(http.MethodPost, "/api/v1/cars", car, userTok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[domain.Car](t, res.Data)
	assert.Equal(t, "ABC-123", created.LicensePlate)
	carPath := fmt.Sprintf("/api/v1/cars/%d", created.ID)

	car["licensePlate"] = "abc-123 "
	w, _ = e.do(http.MethodPost, "/api/v1/cars", car, userTok)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, res = e.do(http.MethodPatch, carPath, map[string]any{"latitude": 95, "longitude": 0}, userTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, res.Details)

	w, res = e.do(http.MethodGet, "/api/v1/cars/license-plate/abc-123", nil, userTok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[domain.Car](t, res.Data).ID)

	w, _ = e.do(http.MethodDelete, carPath, nil, userTok)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = e.do(http.MethodDelete, carPath, nil, userTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = e.do(http.MethodGet, carPath, nil, userTok)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = e.do(http.MethodGet, "/admin/v1/cars/deleted", nil, userTok)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, res = e.do(http.MethodGet, "/admin/v1/cars/deleted", nil, adminTok)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[domain.PageResult[domain.Car]](t, res.Data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, created.ID, page.Items[0].ID)

	w, _ = e.do(http.MethodPost, fmt.Sprintf("/admin/v1/cars/%d/restore", created.ID), nil, adminTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = e.do(http.MethodPost, fmt.Sprintf("/admin/v1/cars/%d/restore", created.ID), nil, adminTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = e.do(http.MethodGet, carPath, nil, userTok)
	assert.Equal(t, http.StatusOK, w.Code)

	w, res = e.do(http.MethodGet, "/admin/v1/overview", nil, adminTok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(res.Data), `"deletedCars"`)
}

func TestCarOwnershipEnforced(t *testing.T) {
	e := newEnv(t)
	alice, aliceTok := e.user("alice@x.com", "")
	_, bobTok := e.user("bob@x.com", "")

	w, res := e.do(http.MethodPost, "/api/v1/cars",
		map[string]any{"licensePlate": "ALC-1", "brand": "Kia", "model": "Rio", "color": "Red"}, aliceTok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[domain.Car](t, res.Data).ID

	w, _ = e.do(http.MethodPatch, fmt.Sprintf("/api/v1/cars/%d", id), map[string]any{"color": "Blue"}, bobTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(http.MethodPost, "/api/v1/cars",
		map[string]any{"userId": alice.ID, "licensePlate": "BOB-1", "brand": "Kia", "model": "Rio", "color": "Red"}, bobTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(http.MethodPatch, fmt.Sprintf("/api/v1/cars/%d", id), map[string]any{"userId": 99}, aliceTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(http.MethodGet, "/api/v1/cars", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCarImageOverHTTP(t *testing.T) {
	e := newEnv(t)
	_, tok := e.user("img@x.com", "")
	w, res := e.do(http.MethodPost, "/api/v1/cars",
		map[string]any{"licensePlate": "IMG-1", "brand": "Kia", "model": "Rio", "color": "Red"}, tok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	imgPath := fmt.Sprintf("/api/v1/cars/%d/image", decode[domain.Car](t, res.Data).ID)

	png, err := base64.StdEncoding.DecodeString(pngB64)
	require.NoError(t, err)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "car.png")
	require.NoError(t, err)
	_, err = fw.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, imgPath, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, res = e.send(req, tok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", *decode[domain.Car](t, res.Data).ImageType)

	w, _ = e.send(httptest.NewRequest(http.MethodGet, imgPath, nil), tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, png, w.Body.Bytes())

	w, _ = e.do(http.MethodDelete, imgPath, nil, tok)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = e.send(httptest.NewRequest(http.MethodGet, imgPath, nil), tok)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodPut, imgPath, strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	w, _ = e.send(req, tok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminUserOperations(t *testing.T) {
	e := newEnv(t)
	u, userTok := e.user("gone@x.com", "")
	_, adminTok := e.user("root@x.com", domain.RoleAdmin)

	w, _ := e.do(http.MethodPost, "/api/v1/cars",
		map[string]any{"licensePlate": "GON-1", "brand": "Kia", "model": "Rio", "color": "Red"}, userTok)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = e.do(http.MethodDelete, fmt.Sprintf("/api/v1/users/%d", u.ID), nil, userTok)
	require.Equal(t, http.StatusOK, w.Code)

	w, res := e.do(http.MethodGet, "/admin/v1/users/deleted", nil, adminTok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[domain.PageResult[domain.User]](t, res.Data).Total)

	w, _ = e.do(http.MethodDelete, fmt.Sprintf("/admin/v1/users/%d/force", u.ID), nil, adminTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(http.MethodPut, fmt.Sprintf("/admin/v1/users/%d/admin-password", u.ID), map[string]string{"newPassword": "Reset123!"}, adminTok)
	assert.Equal(t, http.StatusBadRequest, w.Code, "deleted users cannot be reset")

	w, _ = e.do(http.MethodPost, fmt.Sprintf("/admin/v1/users/%d/restore", u.ID), nil, adminTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = e.do(http.MethodPut, fmt.Sprintf("/admin/v1/users/%d/admin-password", u.ID), map[string]string{"newPassword": "Reset123!"}, adminTok)
	assert.Equal(t, http.StatusOK, w.Code)

	w, res = e.do(http.MethodGet, "/admin/v1/users/stats", nil, adminTok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[domain.UserStats](t, res.Data).Total)

	w, _ = e.do(http.MethodDelete, "/admin/v1/users/404/force", nil, adminTok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebsocketRooms(t *testing.T) {
	e := newEnv(t)
	u, tok := e.user("ws@x.com", "")
	srv := httptest.NewServer(e.r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + tok

	_, resp, err := websocket.DefaultDialer.Dial(base+"&room=admin", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base, nil)
	require.NoError(t, err)
	defer conn.Close()

	room := notify.OwnerChannel(u.ID)
	require.Eventually(t, func() bool { return e.hub.RoomSize(room) == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, e.hub.Publish(context.Background(), room, domain.NewEvent(domain.EntityCar, domain.EventCreated, 7, u.ID, nil)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "car-created", ev.Type)
	assert.Equal(t, uint(7), ev.ID)
}
