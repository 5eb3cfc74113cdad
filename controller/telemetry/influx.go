package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

type InfluxConfig struct {
	URL         string `yaml:"url"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// InfluxStore writes each record as a point tagged with the device path.
type InfluxStore struct {
	cfg InfluxConfig

	mu     sync.Mutex
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

func NewInfluxStore(cfg InfluxConfig) *InfluxStore {
	if cfg.Measurement == "" {
		cfg.Measurement = "gas"
	}
	return &InfluxStore{cfg: cfg}
}

func (s *InfluxStore) Name() string { return "influxdb" }

func (s *InfluxStore) Authenticate(ctx context.Context, creds Credentials) (bool, error) {
	client := influxdb2.NewClient(s.cfg.URL, creds.Token)
	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return false, errors.Wrapf(err, "influxdb ping %s", s.cfg.URL)
	}
	if !ok {
		client.Close()
		return false, nil
	}
	s.mu.Lock()
	s.client = client
	s.writer = client.WriteAPIBlocking(s.cfg.Org, s.cfg.Bucket)
	s.mu.Unlock()
	return true, nil
}

func (s *InfluxStore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer != nil
}

func (s *InfluxStore) Push(ctx context.Context, path string, rec Record) (string, error) {
	s.mu.Lock()
	w := s.writer
	s.mu.Unlock()
	if w == nil {
		return "", ErrStoreNotReady
	}
	ts := time.Now()
	if rec.ReadAt != 0 {
		ts = time.Unix(rec.ReadAt, 0)
	}
	p := influxdb2.NewPoint(s.cfg.Measurement,
		map[string]string{"path": path},
		map[string]interface{}{"ppm": rec.PPM, "rawAnalog": rec.RawAnalog, "readAt": rec.ReadAt},
		ts)
	if err := w.WritePoint(ctx, p); err != nil {
		return "", errors.Wrap(err, "influxdb write")
	}
	return fmt.Sprintf("%s/%s@%d", s.cfg.Bucket, s.cfg.Measurement, ts.UnixNano()), nil
}

func (s *InfluxStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
		s.writer = nil
	}
	return nil
}
