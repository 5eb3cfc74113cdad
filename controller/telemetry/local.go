package telemetry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/reef-pi/aqnode/controller/storage"
)

type LocalConfig struct {
	Path string `yaml:"path"`
}

type localEntry struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Record Record `json:"record"`
}

// LocalStore appends records to a bbolt database on the node itself. It is
// meant for bench setups without a reachable remote store.
type LocalStore struct {
	store *storage.Store
}

func NewLocalStore(store *storage.Store) *LocalStore {
	return &LocalStore{store: store}
}

func (s *LocalStore) Name() string { return "local" }

func (s *LocalStore) Authenticate(context.Context, Credentials) (bool, error) {
	return true, nil
}

func (s *LocalStore) Ready() bool { return s.store != nil }

func bucketFor(path string) string {
	return strings.Join(segments(path), ".")
}

func (s *LocalStore) Push(_ context.Context, path string, rec Record) (string, error) {
	bucket := bucketFor(path)
	if err := s.store.CreateBucket(bucket); err != nil {
		return "", errors.Wrapf(err, "failed to create bucket %s", bucket)
	}
	e := localEntry{Key: uuid.NewString(), Record: rec}
	if err := s.store.Create(bucket, func(id string) interface{} {
		e.ID = id
		return &e
	}); err != nil {
		return "", errors.Wrapf(err, "failed to append to %s", path)
	}
	var stored localEntry
	if err := s.store.Get(bucket, e.ID, &stored); err != nil {
		return "", errors.Wrapf(err, "failed to read back %s", e.ID)
	}
	if stored.Key != e.Key {
		return "", errors.Errorf("entry %s in %s holds key %s, expected %s", e.ID, bucket, stored.Key, e.Key)
	}
	return strings.TrimSuffix(path, "/") + "/" + e.Key, nil
}

// Records returns everything appended under path, oldest first.
func (s *LocalStore) Records(path string) ([]Record, error) {
	var recs []Record
	err := s.store.List(bucketFor(path), func(_ string, v []byte) error {
		var e localEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		recs = append(recs, e.Record)
		return nil
	})
	return recs, err
}
