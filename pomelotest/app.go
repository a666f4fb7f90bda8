package pomelotest

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/Zereker/pomelo"
	"github.com/Zereker/pomelo/message"
)

// writeTimeout bounds how long a session waits for send buffer space.
const writeTimeout = 5 * time.Second

// Config describes how an App answers clients.
type Config struct {
	// Code is the handshake reply code (default 200).
	Code int
	// Heartbeat is the value announced in sys.heartbeat; 0 disables it.
	Heartbeat int
	// Dict is the route compression dictionary announced in sys.dict.
	Dict map[string]int
	// User is echoed in the reply; when nil the client's user is echoed.
	User map[string]any
	// Reply, when set, replaces the whole handshake reply body.
	Reply []byte
	// Codes are the package type bytes (default pomelo codes).
	Codes pomelo.PackageCodes

	// OnHandshake runs after the client acknowledged the handshake.
	OnHandshake func(s *Session)
	// OnRequest answers requests. When nil the request body is echoed back.
	OnRequest func(s *Session, msg *message.Message)
	// OnNotify receives notifies.
	OnNotify func(s *Session, msg *message.Message)
	// OnClose runs when a session ends.
	OnClose func(s *Session, err error)

	Logger pomelo.Logger
}

// App is a Handler that speaks the pomelo handshake, heartbeat and data
// protocol on every accepted connection.
type App struct {
	cfg    Config
	codec  *message.StandardCodec
	logger pomelo.Logger
	connID atomic.Int64

	sync.RWMutex
	sessions map[int64]*Session
}

var _ Handler = (*App)(nil)

// NewApp validates cfg and returns an App.
func NewApp(cfg Config) (*App, error) {
	if cfg.Code == 0 {
		cfg.Code = 200
	}
	if cfg.Codes == (pomelo.PackageCodes{}) {
		cfg.Codes = pomelo.DefaultPackageCodes()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	codec, err := message.NewCodec(cfg.Dict, nil, nil)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		codec:    codec,
		logger:   cfg.Logger,
		sessions: make(map[int64]*Session),
	}, nil
}

// Handle serves one connection until it closes.
func (a *App) Handle(raw *net.TCPConn) {
	s := &Session{ID: a.connID.Add(1), app: a}

	conn, err := NewConn(raw,
		OnPacketOption(s.handle),
		LoggerOption(a.logger),
	)
	if err != nil {
		a.logger.Error("create connection", "error", err)
		_ = raw.Close()
		return
	}
	s.conn = conn

	a.addSession(s)
	err = conn.Run(context.Background())
	a.deleteSession(s.ID)

	if a.cfg.OnClose != nil {
		a.cfg.OnClose(s, err)
	}
}

// Sessions returns the live sessions.
func (a *App) Sessions() []*Session {
	a.RLock()
	defer a.RUnlock()

	sessions := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Broadcast pushes payload on route to every handshaken session.
func (a *App) Broadcast(route string, payload any) error {
	var errs []error
	for _, s := range a.Sessions() {
		if !s.Handshaken() {
			continue
		}
		if err := s.Push(route, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "broadcast to %d sessions failed", len(errs))
	}
	return nil
}

// Close closes every live session.
func (a *App) Close() {
	for _, s := range a.Sessions() {
		_ = s.Close()
	}
}

func (a *App) addSession(s *Session) {
	a.Lock()
	defer a.Unlock()

	a.logger.Debug("add session", "id", s.ID, "addr", s.conn.Addr())
	a.sessions[s.ID] = s
}

func (a *App) deleteSession(id int64) {
	a.Lock()
	defer a.Unlock()

	delete(a.sessions, id)
}

// Session is one client as seen by an App.
type Session struct {
	ID   int64
	app  *App
	conn *Conn

	handshaken atomic.Bool

	mu   sync.Mutex
	user map[string]any
}

// Handshaken reports whether the client acknowledged the handshake.
func (s *Session) Handshaken() bool {
	return s.handshaken.Load()
}

// User returns the user object the client sent in its handshake.
func (s *Session) User() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Respond answers request id with payload.
func (s *Session) Respond(id uint32, payload any) error {
	body, err := s.app.codec.EncodeReply(message.Response, "", id, payload)
	if err != nil {
		return err
	}
	return s.send(pomelo.PackageData, body)
}

// Push sends a server-initiated message on route.
func (s *Session) Push(route string, payload any) error {
	body, err := s.app.codec.EncodeReply(message.Push, route, 0, payload)
	if err != nil {
		return err
	}
	return s.send(pomelo.PackageData, body)
}

// Send sends a package of type t with a raw body.
func (s *Session) Send(t pomelo.PackageType, body []byte) error {
	return s.send(t, body)
}

// SendRaw writes b to the stream unframed.
func (s *Session) SendRaw(b []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.WriteRaw(ctx, b)
}

// Kick sends a kick package and closes the connection after it.
func (s *Session) Kick() error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Shutdown(ctx, &Packet{Code: s.app.cfg.Codes.Kick})
}

// Close closes the connection without a kick.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) send(t pomelo.PackageType, body []byte) error {
	return s.conn.WriteTimeout(&Packet{Code: s.app.cfg.Codes.Code(t), Body: body}, writeTimeout)
}

// handle is the per-packet callback, run on the connection's read loop.
func (s *Session) handle(p *Packet) error {
	cfg := &s.app.cfg

	switch cfg.Codes.Type(p.Code) {
	case pomelo.PackageHandshake:
		return s.handshake(p.Body)

	case pomelo.PackageHandshakeAck:
		s.handshaken.Store(true)
		if cfg.OnHandshake != nil {
			cfg.OnHandshake(s)
		}

	case pomelo.PackageHeartbeat:
		if s.Handshaken() {
			return s.send(pomelo.PackageHeartbeat, nil)
		}

	case pomelo.PackageData:
		if !s.Handshaken() {
			s.app.logger.Debug("data before handshake", "id", s.ID)
			return nil
		}
		return s.dispatch(p.Body)

	default:
		s.app.logger.Debug("unknown package", "id", s.ID, "code", p.Code)
	}
	return nil
}

func (s *Session) handshake(body []byte) error {
	var req struct {
		User map[string]any `json:"user"`
	}
	if err := sonic.Unmarshal(body, &req); err != nil {
		return errors.Wrap(err, "decode handshake")
	}

	s.mu.Lock()
	s.user = req.User
	s.mu.Unlock()

	reply := s.app.cfg.Reply
	if reply == nil {
		user := s.app.cfg.User
		if user == nil {
			user = req.User
		}

		sys := map[string]any{"heartbeat": s.app.cfg.Heartbeat}
		if len(s.app.cfg.Dict) > 0 {
			sys["dict"] = s.app.cfg.Dict
		}

		var err error
		reply, err = sonic.Marshal(map[string]any{
			"code": s.app.cfg.Code,
			"sys":  sys,
			"user": user,
		})
		if err != nil {
			return err
		}
	}

	return s.send(pomelo.PackageHandshake, reply)
}

func (s *Session) dispatch(body []byte) error {
	msg, err := s.app.codec.Decode(body)
	if err != nil {
		return errors.Wrap(err, "decode message")
	}

	cfg := &s.app.cfg
	switch msg.Kind {
	case message.Request:
		if cfg.OnRequest != nil {
			cfg.OnRequest(s, msg)
			return nil
		}
		return s.Respond(msg.ID, msg.Body)

	case message.Notify:
		if cfg.OnNotify != nil {
			cfg.OnNotify(s, msg)
		}
	}
	return nil
}
