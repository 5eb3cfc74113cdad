package telemetry

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrStoreNotReady  = errors.New("store not ready")
)

type Credentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// Store is a remote, append-only record store.
type Store interface {
	Name() string
	// Authenticate reports false with a nil error when the credentials were
	// rejected, and an error when the store could not be reached.
	Authenticate(ctx context.Context, creds Credentials) (bool, error)
	Ready() bool
	// Push appends a new entry under path and returns where it was written.
	Push(ctx context.Context, path string, rec Record) (string, error)
}

// DevicePath is where a device's readings are appended.
func DevicePath(deviceID string) string {
	return "/devices/" + deviceID + "/readings"
}

func segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
