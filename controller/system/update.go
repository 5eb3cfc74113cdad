package system

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const uploadForm = `<form method="POST" action="/update" enctype="multipart/form-data">
<input type="file" name="firmware"><input type="submit" value="Update">
</form>
`

type UpdateConfig struct {
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// Mounter is an HTTP surface the updater can attach to.
type Mounter interface {
	Handle(path string, h http.Handler)
}

// Updater accepts a new binary at /update and stages it at Path. The new
// binary runs after the next restart.
type Updater struct {
	cfg UpdateConfig
	srv Mounter

	once sync.Once
	mu   sync.Mutex
	last string
}

func NewUpdater(cfg UpdateConfig, srv Mounter) *Updater {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	return &Updater{cfg: cfg, srv: srv}
}

// Start registers the update endpoint. Calling it again has no effect.
func (u *Updater) Start(_ context.Context) error {
	if u.cfg.Path == "" {
		return errors.New("update path not configured")
	}
	u.once.Do(func() {
		u.srv.Handle("/update", u)
	})
	return nil
}

func (u *Updater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		u.form(w, r)
	case http.MethodPost:
		u.upload(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (u *Updater) Last() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

func (u *Updater) form(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, uploadForm)
}

func (u *Updater) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, u.cfg.MaxBytes)
	f, _, err := r.FormFile("firmware")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()
	n, sum, err := u.stage(f)
	if err != nil {
		log.WithField("module", "system").WithError(err).Errorln("firmware update failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	msg := fmt.Sprintf("staged %s (sha256 %s), reboot to apply", humanize.Bytes(uint64(n)), sum)
	u.mu.Lock()
	u.last = msg
	u.mu.Unlock()
	log.WithField("module", "system").Infoln("firmware", msg)
	fmt.Fprintln(w, "OK:", msg)
}

// stage writes to a temporary file next to the target and renames it into place.
func (u *Updater) stage(src io.Reader) (int64, string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(u.cfg.Path), ".update-*")
	if err != nil {
		return 0, "", errors.Wrap(err, "failed to create staging file")
	}
	defer os.Remove(tmp.Name())
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		tmp.Close()
		return 0, "", errors.Wrap(err, "failed to receive firmware")
	}
	if n == 0 {
		tmp.Close()
		return 0, "", errors.New("empty firmware image")
	}
	if err := tmp.Chmod(0755); err != nil {
		tmp.Close()
		return 0, "", err
	}
	if err := tmp.Close(); err != nil {
		return 0, "", err
	}
	if err := os.Rename(tmp.Name(), u.cfg.Path); err != nil {
		return 0, "", errors.Wrap(err, "failed to install firmware")
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
