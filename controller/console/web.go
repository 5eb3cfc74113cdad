package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName  = "aqnode"
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
)

const index = "Gas sensor node. /update for OTA upload, /webserial for serial monitor\n"

type WebConfig struct {
	Address      string `yaml:"address"`
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"`
	SessionKey   string `yaml:"session_key"`
	Backlog      int    `yaml:"backlog"`
}

type client struct {
	conn *websocket.Conn
	send chan string
}

// WebTransport is the debug console: a websocket at /webserial carrying one
// text message per line, plus the node's small HTTP surface.
type WebTransport struct {
	cfg      WebConfig
	router   *mux.Router
	upgrader websocket.Upgrader
	sessions *sessions.CookieStore

	mu      sync.Mutex
	clients map[*client]struct{}
	backlog []string
	pending int
	receive func(string)
}

func NewWebTransport(cfg WebConfig) *WebTransport {
	if cfg.Backlog <= 0 {
		cfg.Backlog = 100
	}
	t := &WebTransport{
		cfg:      cfg,
		router:   mux.NewRouter(),
		clients:  make(map[*client]struct{}),
		sessions: sessions.NewCookieStore([]byte(cfg.SessionKey)),
	}
	t.sessions.Options.HttpOnly = true
	t.router.HandleFunc("/", t.index).Methods("GET")
	t.router.HandleFunc("/auth/signin", t.signIn).Methods("POST")
	t.router.HandleFunc("/auth/signout", t.signOut).Methods("GET")
	t.router.HandleFunc("/webserial", t.authorized(t.serveWebSerial)).Methods("GET")
	return t
}

// Router exposes the HTTP router so other services can mount handlers.
func (t *WebTransport) Router() *mux.Router { return t.router }

// Handle mounts h at path behind console authentication.
func (t *WebTransport) Handle(path string, h http.Handler) {
	t.router.Handle(path, t.authorized(h.ServeHTTP))
}

// LoadAPI registers the JSON endpoints for the console backlog and queue.
func (t *WebTransport) LoadAPI(q *Queue) {
	sr := t.router.PathPrefix("/api/console").Subrouter()
	sr.HandleFunc("/log", t.authorized(t.logList)).Methods("GET")
	sr.HandleFunc("/queue", t.authorized(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(q.ListTasks())
	})).Methods("GET")
}

// OnReceive registers the callback for text arriving from any client.
func (t *WebTransport) OnReceive(fn func(string)) {
	t.mu.Lock()
	t.receive = fn
	t.mu.Unlock()
}

// SendLine appends text to the backlog and queues it for every connected client.
func (t *WebTransport) SendLine(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backlog = append(t.backlog, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), text))
	if len(t.backlog) > t.cfg.Backlog {
		t.backlog = t.backlog[len(t.backlog)-t.cfg.Backlog:]
	}
	for c := range t.clients {
		select {
		case c.send <- text:
			t.pending++
		default:
			// slow client, drop the line
		}
	}
}

// Flush waits until every queued line has been written or ctx is done.
func (t *WebTransport) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		n := t.pending
		t.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%d console lines unsent", n)
		case <-ticker.C:
		}
	}
}

func (t *WebTransport) Backlog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := make([]string, len(t.backlog))
	copy(lines, t.backlog)
	return lines
}

// Start serves HTTP until ctx is done.
func (t *WebTransport) Start(ctx context.Context) error {
	srv := &http.Server{Addr: t.cfg.Address, Handler: t.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.WithField("module", "console").Infoln("console listening on", t.cfg.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("module", "console").WithError(err).Errorln("console server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	return nil
}

func (t *WebTransport) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, index)
}

func (t *WebTransport) authorized(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if t.cfg.PasswordHash == "" {
			fn(w, r)
			return
		}
		s, err := t.sessions.Get(r, sessionName)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if user, ok := s.Values["user"].(string); !ok || user != t.cfg.User {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fn(w, r)
	}
}

func (t *WebTransport) signIn(w http.ResponseWriter, r *http.Request) {
	user, password := r.FormValue("user"), r.FormValue("password")
	if user != t.cfg.User || bcrypt.CompareHashAndPassword([]byte(t.cfg.PasswordHash), []byte(password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	s, _ := t.sessions.Get(r, sessionName)
	s.Values["user"] = user
	if err := s.Save(r, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *WebTransport) signOut(w http.ResponseWriter, r *http.Request) {
	s, _ := t.sessions.Get(r, sessionName)
	s.Options.MaxAge = -1
	s.Save(r, w)
	w.WriteHeader(http.StatusNoContent)
}

func (t *WebTransport) logList(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t.Backlog())
}

func (t *WebTransport) serveWebSerial(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("module", "console").WithError(err).Debugln("websocket upgrade")
		return
	}
	c := &client{conn: conn, send: make(chan string, sendBuffer)}

	t.mu.Lock()
	backlog := make([]string, len(t.backlog))
	copy(backlog, t.backlog)
	t.clients[c] = struct{}{}
	t.mu.Unlock()

	go t.writeLoop(c, backlog)
	t.readLoop(c)
}

func (t *WebTransport) readLoop(c *client) {
	defer t.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		t.mu.Lock()
		fn := t.receive
		t.mu.Unlock()
		if fn != nil {
			fn(string(data))
		}
	}
}

func (t *WebTransport) writeLoop(c *client, backlog []string) {
	failed := false
	for _, l := range backlog {
		if err := t.write(c, l); err != nil {
			c.conn.Close()
			failed = true
			break
		}
	}
	for line := range c.send {
		if !failed {
			if err := t.write(c, line); err != nil {
				// unblocks readLoop, which drops the client and closes send
				c.conn.Close()
				failed = true
			}
		}
		t.mu.Lock()
		t.pending--
		t.mu.Unlock()
	}
}

func (t *WebTransport) write(c *client, text string) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (t *WebTransport) drop(c *client) {
	t.mu.Lock()
	if _, ok := t.clients[c]; ok {
		delete(t.clients, c)
		close(c.send)
	}
	t.mu.Unlock()
	c.conn.Close()
}
