package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MQTTStore publishes each record to its own topic below the device path.
type MQTTStore struct {
	cfg MQTTConfig

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTStore(cfg MQTTConfig) *MQTTStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	return &MQTTStore{cfg: cfg}
}

func (s *MQTTStore) Name() string { return "mqtt" }

func (s *MQTTStore) Authenticate(_ context.Context, creds Credentials) (bool, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetUsername(creds.User).
		SetPassword(creds.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(s.cfg.Timeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.Timeout) {
		return false, errors.Errorf("mqtt connect to %s timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		if strings.Contains(err.Error(), "Authorized") || strings.Contains(err.Error(), "username or password") {
			return false, nil
		}
		return false, errors.Wrapf(err, "mqtt connect to %s", s.cfg.Broker)
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return true, nil
}

func (s *MQTTStore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.IsConnectionOpen()
}

func (s *MQTTStore) Push(ctx context.Context, path string, rec Record) (string, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return "", ErrStoreNotReady
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	topic := strings.Join(append(segments(path), uuid.NewString()), "/")
	token := client.Publish(topic, s.cfg.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.cfg.Timeout):
		return "", errors.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return "", errors.Wrapf(err, "mqtt publish to %s", topic)
	}
	return topic, nil
}

func (s *MQTTStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	return nil
}
