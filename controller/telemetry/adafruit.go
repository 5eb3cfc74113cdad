package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/reef-pi/adafruitio"
)

type AdafruitConfig struct {
	Feed string `yaml:"feed"`
}

type submitter interface {
	SubmitData(user, feed string, d adafruitio.Data) error
}

// AdafruitStore submits each record, JSON encoded, as one value of an Adafruit IO feed.
type AdafruitStore struct {
	cfg AdafruitConfig

	mu     sync.Mutex
	client submitter
	user   string
}

func NewAdafruitStore(cfg AdafruitConfig) *AdafruitStore {
	return &AdafruitStore{cfg: cfg}
}

func (s *AdafruitStore) Name() string { return "adafruitio" }

func (s *AdafruitStore) Authenticate(_ context.Context, creds Credentials) (bool, error) {
	if creds.User == "" || creds.Token == "" {
		return false, nil
	}
	s.mu.Lock()
	s.client = adafruitio.NewClient(creds.Token)
	s.user = creds.User
	s.mu.Unlock()
	return true, nil
}

func (s *AdafruitStore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

func (s *AdafruitStore) Push(_ context.Context, path string, rec Record) (string, error) {
	s.mu.Lock()
	client, user := s.client, s.user
	s.mu.Unlock()
	if client == nil {
		return "", ErrStoreNotReady
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	feed := s.feed(path)
	if err := client.SubmitData(user, feed, adafruitio.Data{Value: string(payload)}); err != nil {
		return "", errors.Wrapf(err, "adafruitio submit to %s", feed)
	}
	return user + "/feeds/" + feed, nil
}

// feed names allow letters, digits and dashes only.
func (s *AdafruitStore) feed(path string) string {
	if s.cfg.Feed != "" {
		return s.cfg.Feed
	}
	return strings.ToLower(strings.Join(segments(path), "-"))
}
