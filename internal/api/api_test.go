package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/jemimas-asking/internal/auth"
	"github.com/kiliankoe/jemimas-asking/internal/game"
	"github.com/kiliankoe/jemimas-asking/internal/pack"
	"github.com/kiliankoe/jemimas-asking/internal/room"
	"github.com/kiliankoe/jemimas-asking/internal/store"
)

func newRouter(t *testing.T, gm gin.HandlerFunc) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	h := New(st, game.NewMachine(0), auth.NewIssuer("test", time.Hour), "DEMO-ONLY")
	r := gin.New()
	h.Register(r, gm)
	return r, h
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func signIn(t *testing.T, r http.Handler) (uid, token string) {
	t.Helper()
	w := do(r, http.MethodPost, "/api/auth/anonymous", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	return out["uid"].(string), out["token"].(string)
}

func packBody() string {
	item := `{"question":"Q","correct_answer":"A"}`
	rounds := make([]string, 0, room.RoundCount)
	for n := 1; n <= room.RoundCount; n++ {
		rounds = append(rounds, fmt.Sprintf(`{"round":%d,"hostItems":[%s,%s,%s],"guestItems":[%s,%s,%s]}`,
			n, item, item, item, item, item, item))
	}
	return `{"version":"jemima-pack-1","meta":{"roomCode":"CAT"},"rounds":[` + strings.Join(rounds, ",") +
		`],"maths":{"events":[],"total":968,"scoring":{}}}`
}

func TestHealth(t *testing.T) {
	r, _ := newRouter(t, nil)
	w := do(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ok"])
}

func TestCreateRoomNeedsToken(t *testing.T) {
	r, _ := newRouter(t, nil)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/api/rooms", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/api/rooms", "junk", "").Code)
}

func TestCreateSeedAndRead(t *testing.T) {
	r, _ := newRouter(t, nil)
	uid, token := signIn(t, r)

	w := do(r, http.MethodPost, "/api/rooms", token, `{"code":"cat"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "CAT", decode(t, w)["code"])
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/rooms", token, `{"code":"CAT"}`).Code)

	_, other := signIn(t, r)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/api/rooms/CAT/pack", other, packBody()).Code)

	sealed, err := pack.Seal([]byte(packBody()), "DEMO-ONLY")
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/api/rooms/CAT/pack", token, string(sealed))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode(t, w)["report"].(map[string]any)
	assert.Equal(t, true, report["sealed"])

	w = do(r, http.MethodGet, "/api/rooms/cat", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)["room"].(map[string]any)
	assert.Equal(t, string(room.PhaseKeyroom), doc["state"])
	assert.Equal(t, uid, doc["meta"].(map[string]any)["hostUid"])

	w = do(r, http.MethodGet, "/api/rooms/CAT/rounds/2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["round"])

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/rooms/CAT/rounds/9", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/rooms/DOG", "", "").Code)

	// A seeded room cannot be seeded again.
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/rooms/CAT/pack", token, packBody()).Code)
}

func TestUploadRejectsBadPacks(t *testing.T) {
	r, _ := newRouter(t, nil)
	_, token := signIn(t, r)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/rooms", token, `{"code":"CAT"}`).Code)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/rooms/CAT/pack", token, `{"version":"x"}`).Code)
	short := strings.Replace(packBody(), `{"round":5`, `{"round":6`, 1)
	w := do(r, http.MethodPost, "/api/rooms/CAT/pack", token, short)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "incomplete_pack", decode(t, w)["error"])
}

func TestPackUploadBehindBasicAuth(t *testing.T) {
	r, _ := newRouter(t, gin.BasicAuth(gin.Accounts{"gm": "pw"}))
	_, token := signIn(t, r)
	w := do(r, http.MethodPost, "/api/rooms/CAT/pack", token, packBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/CAT/pack", strings.NewReader(packBody()))
	req.SetBasicAuth("gm", "pw")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "basic auth alone is not enough")

	req = httptest.NewRequest(http.MethodPost, "/api/rooms/CAT/pack", strings.NewReader(packBody()))
	req.SetBasicAuth("gm", "pw")
	req.Header.Set("X-Player-Token", token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
