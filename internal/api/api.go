// Package api is the HTTP surface: anonymous sign-in, room creation, pack
// seeding, and read-only room views.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/jemimas-asking/internal/auth"
	"github.com/kiliankoe/jemimas-asking/internal/game"
	"github.com/kiliankoe/jemimas-asking/internal/pack"
	"github.com/kiliankoe/jemimas-asking/internal/room"
	"github.com/kiliankoe/jemimas-asking/internal/store"
)

const (
	codeLen        = 3
	createAttempts = 10
	maxPackBytes   = 4 << 20
)

type Handler struct {
	Store        store.Store
	Machine      *game.Machine
	Issuer       *auth.Issuer
	PackPassword string

	now func() time.Time
}

func New(st store.Store, m *game.Machine, iss *auth.Issuer, packPassword string) *Handler {
	return &Handler{Store: st, Machine: m, Issuer: iss, PackPassword: packPassword, now: time.Now}
}

// Register mounts the routes. gm, when non-nil, additionally guards pack
// uploads (basic auth for the game master).
func (h *Handler) Register(r *gin.Engine, gm gin.HandlerFunc) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": h.now().UTC()})
	})

	api := r.Group("/api")
	api.POST("/auth/anonymous", h.anonymous)
	api.POST("/rooms", h.requireUID, h.createRoom)
	api.GET("/rooms/:code", h.getRoom)
	api.GET("/rooms/:code/rounds/:round", h.getRound)

	upload := []gin.HandlerFunc{}
	if gm != nil {
		upload = append(upload, gm)
	}
	upload = append(upload, h.requireUID, h.uploadPack)
	api.POST("/rooms/:code/pack", upload...)
}

// requireUID reads the player token from X-Player-Token, or from a Bearer
// Authorization header when basic auth is not in use.
func (h *Handler) requireUID(c *gin.Context) {
	token := c.GetHeader("X-Player-Token")
	if token == "" {
		bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}
		token = bearer
	}
	uid, err := h.Issuer.Verify(strings.TrimSpace(token))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	c.Set("uid", uid)
	c.Next()
}

func (h *Handler) anonymous(c *gin.Context) {
	uid, token, err := h.Issuer.Anonymous(h.now())
	if err != nil {
		log.Error().Err(err).Msg("issue anonymous token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": uid, "token": token})
}

func (h *Handler) createRoom(c *gin.Context) {
	var req struct {
		Code     string `json:"code"`
		GuestUID string `json:"guestUid"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&req); err != nil {
			return
		}
	}
	uid := c.GetString("uid")
	meta := room.Meta{HostUID: uid, GuestUID: req.GuestUID}

	codes := func() string { return room.RandomCode(codeLen) }
	if req.Code != "" {
		code, err := room.NormalizeCode(req.Code)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
			return
		}
		codes = func() string { return code }
	}
	for i := 0; i < createAttempts; i++ {
		code := codes()
		r := room.New(code, meta, room.Maths{}, h.now())
		r.State = room.PhaseLobby
		r.Seeds = room.Seeds{Message: "Waiting for pack."}
		err := h.Store.Create(c.Request.Context(), r)
		if errors.Is(err, store.ErrRoomExists) {
			if req.Code != "" {
				c.JSON(http.StatusConflict, gin.H{"error": "room_exists"})
				return
			}
			continue
		}
		if err != nil {
			h.unavailable(c, code, err)
			return
		}
		log.Info().Str("code", code).Str("host", uid).Msg("room created")
		c.JSON(http.StatusCreated, gin.H{"code": code, "role": room.RoleHost})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no_free_code"})
}

func (h *Handler) uploadPack(c *gin.Context) {
	code, ok := h.code(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	snap, err := h.Store.Read(ctx, code)
	switch {
	case err == nil:
		if snap.Room.Meta.HostUID != "" && snap.Room.Meta.HostUID != c.GetString("uid") {
			c.JSON(http.StatusForbidden, gin.H{"error": "not_host"})
			return
		}
	case !errors.Is(err, store.ErrRoomNotFound):
		h.unavailable(c, code, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPackBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read_failed"})
		return
	}
	p, report, err := pack.Load(body, h.PackPassword)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pack", "detail": err.Error()})
		return
	}
	if p.Meta.HostUID == "" {
		p.Meta.HostUID = c.GetString("uid")
	}
	if err := pack.Seed(ctx, h.Store, h.Machine, code, p, h.now()); err != nil {
		switch {
		case errors.Is(err, pack.ErrIncompletePack):
			c.JSON(http.StatusBadRequest, gin.H{"error": "incomplete_pack", "detail": err.Error()})
		case errors.Is(err, game.ErrInvalidPhase):
			c.JSON(http.StatusConflict, gin.H{"error": "room_in_progress"})
		default:
			h.unavailable(c, code, err)
		}
		return
	}
	if report.HasChecksum && !report.ChecksumOK {
		log.Warn().Str("code", code).Msg("pack checksum mismatch")
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "report": report})
}

func (h *Handler) getRoom(c *gin.Context) {
	code, ok := h.code(c)
	if !ok {
		return
	}
	snap, err := h.Store.Read(c.Request.Context(), code)
	if errors.Is(err, store.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return
	}
	if err != nil {
		h.unavailable(c, code, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version": snap.Version,
		"room":    snap.Room,
		"gate":    game.GateFor(snap.Room),
	})
}

func (h *Handler) getRound(c *gin.Context) {
	code, ok := h.code(c)
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.Param("round"))
	if err != nil || n < 1 || n > room.RoundCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_round"})
		return
	}
	rc, err := h.Store.Round(c.Request.Context(), code, n)
	if errors.Is(err, store.ErrRoundNotFound) || errors.Is(err, store.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "round_not_found"})
		return
	}
	if err != nil {
		h.unavailable(c, code, err)
		return
	}
	c.JSON(http.StatusOK, rc)
}

func (h *Handler) code(c *gin.Context) (string, bool) {
	code, err := room.NormalizeCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return "", false
	}
	return code, true
}

func (h *Handler) unavailable(c *gin.Context, code string, err error) {
	log.Error().Err(err).Str("code", code).Msg("store failure")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room_unreachable"})
}
