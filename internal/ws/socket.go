package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/jemimas-asking/internal/auth"
	"github.com/kiliankoe/jemimas-asking/internal/config"
	"github.com/kiliankoe/jemimas-asking/internal/game"
	"github.com/kiliankoe/jemimas-asking/internal/room"
	"github.com/kiliankoe/jemimas-asking/internal/store"
	"github.com/kiliankoe/jemimas-asking/internal/watcher"
)

const eventTimeout = 5 * time.Second

var errSeatTaken = errors.New("seat belongs to another player")

type ConnCtx struct {
	Code   string
	UID    string
	Role   room.Role
	Player *watcher.Player
}

// roomWatch is the gateway's single watcher for a room. It is a Writer while
// the host is connected and a Follower otherwise.
type roomWatch struct {
	w      *watcher.Watcher
	cancel context.CancelFunc
}

type Server struct {
	Store   store.Store
	Machine *game.Machine
	Issuer  *auth.Issuer
	config  config.Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	members map[string]map[string]socketio.Conn // room code -> socket id -> conn
	watches map[string]*roomWatch
}

func New(st store.Store, m *game.Machine, iss *auth.Issuer, cfg config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Store:   st,
		Machine: m,
		Issuer:  iss,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
		members: make(map[string]map[string]socketio.Conn),
		watches: make(map[string]*roomWatch),
	}
}

// Close stops every room watcher.
func (srv *Server) Close() {
	srv.cancel()
}

// Mount attaches Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// room:join
	io.OnEvent("/", "room:join", func(s socketio.Conn, payload struct {
		Code  string `json:"code"`
		Token string `json:"token"`
		Role  string `json:"role"`
	}) map[string]any {
		return srv.join(s, payload.Code, payload.Token, payload.Role)
	})

	// room:start (host)
	io.OnEvent("/", "room:start", func(s socketio.Conn, payload struct {
		HostCode string `json:"hostCode"`
	}) map[string]any {
		return srv.start(s, payload.HostCode)
	})

	// answers:submit
	io.OnEvent("/", "answers:submit", func(s socketio.Conn, payload struct {
		Round   int           `json:"round"`
		Answers []room.Answer `json:"answers"`
	}) map[string]any {
		return srv.write(s, "answers:submit", func(ctx context.Context, p *watcher.Player) error {
			return p.SubmitAnswers(ctx, payload.Round, payload.Answers)
		})
	})

	// marking:submit
	io.OnEvent("/", "marking:submit", func(s socketio.Conn, payload struct {
		Round    int            `json:"round"`
		Verdicts []room.Verdict `json:"verdicts"`
		Seconds  float64        `json:"seconds"`
	}) map[string]any {
		return srv.write(s, "marking:submit", func(ctx context.Context, p *watcher.Player) error {
			return p.SubmitMarking(ctx, payload.Round, payload.Verdicts, payload.Seconds)
		})
	})

	// phase:ack
	io.OnEvent("/", "phase:ack", func(s socketio.Conn, payload struct {
		Phase room.Phase `json:"phase"`
		Round int        `json:"round"`
	}) map[string]any {
		return srv.write(s, "phase:ack", func(ctx context.Context, p *watcher.Player) error {
			return p.Acknowledge(ctx, payload.Phase, payload.Round)
		})
	})

	// maths:submit
	io.OnEvent("/", "maths:submit", func(s socketio.Conn, payload struct {
		Events []int `json:"events"`
		Total  int   `json:"total"`
	}) map[string]any {
		return srv.write(s, "maths:submit", func(ctx context.Context, p *watcher.Player) error {
			return p.SubmitMaths(ctx, payload.Events, payload.Total)
		})
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		srv.leave(s)
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	// Mount to router
	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// join binds the socket to a room and role. An unresolvable role is
// answered with a room:role prompt.
func (srv *Server) join(s socketio.Conn, rawCode, token, storedRole string) map[string]any {
	code, err := room.NormalizeCode(rawCode)
	if err != nil {
		return srv.err(s, "bad_code", err.Error())
	}
	uid, err := srv.Issuer.Verify(token)
	if err != nil {
		return srv.err(s, "unauthorized", "Invalid token")
	}
	ctx, cancel := context.WithTimeout(srv.ctx, eventTimeout)
	defer cancel()
	snap, err := srv.Store.Read(ctx, code)
	if errors.Is(err, store.ErrRoomNotFound) {
		return srv.err(s, "room_not_found", "Room not found")
	}
	if err != nil {
		return srv.unreachable(s, code, err)
	}
	role, err := room.ResolveRole(snap.Room.Meta, room.Role(storedRole), uid)
	if errors.Is(err, room.ErrRoleUnknown) {
		s.Emit("room:role", map[string]any{"code": code, "options": room.Roles})
		return map[string]any{"needRole": true}
	}
	if err := srv.claimSeat(ctx, code, role, uid); err != nil {
		if errors.Is(err, errSeatTaken) {
			return srv.err(s, "role_taken", "That seat belongs to another player")
		}
		return srv.unreachable(s, code, err)
	}

	player := watcher.NewPlayer(srv.Store, code, role)
	s.SetContext(&ConnCtx{Code: code, UID: uid, Role: role, Player: player})
	s.Join(code)
	srv.addMember(code, s)
	if err := player.Join(ctx); err != nil {
		return srv.unreachable(s, code, err)
	}
	srv.ensureWatch(code)
	log.Info().Str("sid", s.ID()).Str("code", code).Str("role", string(role)).Msg("room:join")

	s.Emit("room:snapshot", snapshotPayload(snap, role))
	return map[string]any{"code": code, "role": role}
}

func (srv *Server) start(s socketio.Conn, hostCode string) map[string]any {
	cc, ok := srv.joined(s)
	if !ok {
		return srv.err(s, "not_joined", "Join a room first")
	}
	if cc.Role != room.RoleHost {
		return srv.err(s, "forbidden", "Only the host can start")
	}
	w := srv.writer(cc.Code)
	if w == nil {
		return srv.err(s, "forbidden", "Host is not the room writer")
	}
	ctx, cancel := context.WithTimeout(srv.ctx, eventTimeout)
	defer cancel()
	if err := w.Start(ctx, hostCode); err != nil {
		if errors.Is(err, game.ErrHostCodeTooShort) {
			return srv.err(s, "bad_request", err.Error())
		}
		return srv.unreachable(s, cc.Code, err)
	}
	log.Info().Str("code", cc.Code).Msg("room:start")
	return map[string]any{"ok": true}
}

func (srv *Server) leave(s socketio.Conn) {
	if cc, ok := s.Context().(*ConnCtx); ok && cc.Code != "" {
		srv.removeMember(cc.Code, s)
		srv.ensureWatch(cc.Code)
	}
}

func (srv *Server) joined(s socketio.Conn) (*ConnCtx, bool) {
	cc, ok := s.Context().(*ConnCtx)
	if !ok || cc.Code == "" || cc.Player == nil {
		return nil, false
	}
	return cc, true
}

// write runs a per-player field write for the socket's role.
func (srv *Server) write(s socketio.Conn, event string, fn func(ctx context.Context, p *watcher.Player) error) map[string]any {
	cc, ok := srv.joined(s)
	if !ok {
		return srv.err(s, "not_joined", "Join a room first")
	}
	ctx, cancel := context.WithTimeout(srv.ctx, eventTimeout)
	defer cancel()
	if err := fn(ctx, cc.Player); err != nil {
		switch {
		case errors.Is(err, watcher.ErrAnswerCount),
			errors.Is(err, watcher.ErrVerdictCount),
			errors.Is(err, watcher.ErrBadVerdict),
			errors.Is(err, watcher.ErrBadAck),
			errors.Is(err, watcher.ErrBadSeconds):
			return srv.err(s, "bad_request", err.Error())
		}
		return srv.unreachable(s, cc.Code, err)
	}
	log.Debug().Str("code", cc.Code).Str("role", string(cc.Role)).Msg(event)
	return map[string]any{"ok": true}
}

func (srv *Server) addMember(code string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[code] == nil {
		srv.members[code] = make(map[string]socketio.Conn)
	}
	srv.members[code][c.ID()] = c
}

func (srv *Server) removeMember(code string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[code]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, code)
		}
	}
}

// ensureWatch keeps exactly one watcher per room with members: a Writer when
// a host connection is present, a Follower otherwise, none when empty.
func (srv *Server) ensureWatch(code string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	want, occupied := watcher.Follower, false
	for _, c := range srv.members[code] {
		occupied = true
		if cc, ok := c.Context().(*ConnCtx); ok && cc.Role == room.RoleHost {
			want = watcher.Writer
		}
	}
	cur := srv.watches[code]
	if cur != nil && occupied && cur.w.Capability == want {
		return
	}
	if cur != nil {
		cur.cancel()
		delete(srv.watches, code)
	}
	if !occupied {
		return
	}

	role := room.RoleGuest
	if want == watcher.Writer {
		role = room.RoleHost
	}
	w := watcher.New(srv.Store, srv.Machine, code, role, want)
	w.OnSnapshot = func(snap store.Snapshot) { srv.emitStateTo(code, snap) }
	if want == watcher.Writer {
		w.OnPhase = func(prev room.Phase, snap store.Snapshot) {
			// a writer that starts on a finished room must not export it again
			if prev != "" {
				srv.onPhase(code, snap)
			}
		}
	}
	ctx, cancel := context.WithCancel(srv.ctx)
	rw := &roomWatch{w: w, cancel: cancel}
	srv.watches[code] = rw
	go srv.runWatch(ctx, code, rw)
}

func (srv *Server) runWatch(ctx context.Context, code string, rw *roomWatch) {
	err := rw.w.Run(ctx)
	srv.mu.Lock()
	if srv.watches[code] == rw {
		delete(srv.watches, code)
	}
	srv.mu.Unlock()
	if errors.Is(err, watcher.ErrRoomUnreachable) {
		log.Error().Str("code", code).Err(err).Msg("room watcher stopped")
		srv.broadcast(code, "room:unreachable", map[string]any{"code": code})
	}
}

func (srv *Server) writer(code string) *watcher.Watcher {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if rw := srv.watches[code]; rw != nil && rw.w.Capability == watcher.Writer {
		return rw.w
	}
	return nil
}

func (srv *Server) onPhase(code string, snap store.Snapshot) {
	if snap.Room.State != room.PhaseFinal || !srv.config.ExportOn {
		return
	}
	if err := game.ExportRoom(snap.Room, srv.config.ExportFile); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to export game data")
		return
	}
	log.Info().Str("code", code).Str("file", srv.config.ExportFile).Msg("exported game data")
}

func (srv *Server) conns(code string) []socketio.Conn {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]socketio.Conn, 0, len(srv.members[code]))
	for _, c := range srv.members[code] {
		out = append(out, c)
	}
	return out
}

func (srv *Server) broadcast(code, event string, payload any) {
	for _, c := range srv.conns(code) {
		c.Emit(event, payload)
	}
}

func (srv *Server) emitStateTo(code string, snap store.Snapshot) {
	for _, c := range srv.conns(code) {
		cc, _ := c.Context().(*ConnCtx)
		if cc == nil {
			continue
		}
		c.Emit("room:snapshot", snapshotPayload(snap, cc.Role))
	}
}

func snapshotPayload(snap store.Snapshot, you room.Role) map[string]any {
	return map[string]any{
		"version": snap.Version,
		"room":    snap.Room,
		"gate":    game.GateFor(snap.Room),
		"you":     map[string]any{"role": you},
		"totals": map[room.Role]int{
			room.RoleHost:  snap.Room.TotalScore(room.RoleHost),
			room.RoleGuest: snap.Room.TotalScore(room.RoleGuest),
		},
	}
}

// claimSeat binds an empty seat to uid. A seat, once owned, never changes
// hands.
func (srv *Server) claimSeat(ctx context.Context, code string, role room.Role, uid string) error {
	_, err := srv.Store.RunTransaction(ctx, code, func(r *room.Room) (bool, error) {
		switch owner := slotOwner(r.Meta, role); owner {
		case uid:
			return false, nil
		case "":
		default:
			return false, errSeatTaken
		}
		if role == room.RoleHost {
			r.Meta.HostUID = uid
		} else {
			r.Meta.GuestUID = uid
		}
		return true, nil
	})
	return err
}

func slotOwner(meta room.Meta, role room.Role) string {
	if role == room.RoleHost {
		return meta.HostUID
	}
	return meta.GuestUID
}

func (srv *Server) unreachable(s socketio.Conn, code string, err error) map[string]any {
	log.Error().Err(err).Str("code", code).Msg("room write failed")
	s.Emit("room:unreachable", map[string]any{"code": code})
	return map[string]any{"error": "Can't reach the room"}
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message}
}
