package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"userdesk/internal/domain"
	"userdesk/internal/storage"
)

const keyLayout = "20060102T150405.000Z"

// Source lists the users to snapshot.
type Source interface {
	List(ctx context.Context) ([]domain.User, error)
}

// Manager periodically uploads the user collection to object storage.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Snapshot(ctx context.Context) (string, error)
}

type Config struct {
	Bucket    string
	KeyPrefix string
	Interval  time.Duration
	Keep      int
	Logger    *logrus.Logger
	Now       func() time.Time
}

type manager struct {
	cfg     Config
	source  Source
	storage storage.Service

	mu     sync.Mutex
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(cfg Config, source Source, store storage.Service) Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Keep < 0 {
		cfg.Keep = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyPrefix = strings.Trim(cfg.KeyPrefix, "/")
	return &manager{
		cfg:     cfg,
		source:  source,
		storage: store,
	}
}

func (m *manager) Start(ctx context.Context) error {
	if m.cfg.Bucket == "" {
		return fmt.Errorf("backup bucket is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return fmt.Errorf("backup manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.loop(runCtx)

	m.cfg.Logger.Infof("backup manager started, bucket %s every %s", m.cfg.Bucket, m.cfg.Interval)
	return nil
}

// Shutdown stops the loop and writes one final snapshot.
func (m *manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if _, err := m.Snapshot(ctx); err != nil {
		m.cfg.Logger.Warnf("final backup: %v", err)
	}
	m.cfg.Logger.Info("backup manager stopped")
}

func (m *manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Snapshot(ctx); err != nil {
				m.cfg.Logger.Warnf("backup: %v", err)
			}
		}
	}
}

// Snapshot uploads the current collection and prunes old snapshots.
func (m *manager) Snapshot(ctx context.Context) (string, error) {
	users, err := m.source.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list users: %w", err)
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode users: %w", err)
	}

	key := m.snapshotKey(m.cfg.Now().UTC())
	location, err := m.storage.PutObject(ctx, bytes.NewReader(data), storage.PutOptions{
		Bucket:      m.cfg.Bucket,
		Key:         key,
		ContentType: "application/json",
	})
	if err != nil {
		return "", err
	}
	m.cfg.Logger.WithFields(logrus.Fields{
		"location": location,
		"users":    len(users),
	}).Info("backup uploaded")

	if err := m.prune(ctx); err != nil {
		m.cfg.Logger.Warnf("prune backups: %v", err)
	}
	return location, nil
}

func (m *manager) snapshotKey(at time.Time) string {
	name := fmt.Sprintf("users-%s.json", at.Format(keyLayout))
	if m.cfg.KeyPrefix == "" {
		return name
	}
	return path.Join(m.cfg.KeyPrefix, name)
}

func (m *manager) prune(ctx context.Context) error {
	if m.cfg.Keep == 0 {
		return nil
	}

	prefix := "users-"
	if m.cfg.KeyPrefix != "" {
		prefix = m.cfg.KeyPrefix + "/users-"
	}
	objects, err := m.storage.ListObjects(ctx, m.cfg.Bucket, prefix)
	if err != nil {
		return err
	}
	if len(objects) <= m.cfg.Keep {
		return nil
	}

	// timestamped keys sort chronologically
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)

	stale := keys[:len(keys)-m.cfg.Keep]
	if err := m.storage.DeleteObjects(ctx, m.cfg.Bucket, stale); err != nil {
		return err
	}
	m.cfg.Logger.Infof("pruned %d old backups", len(stale))
	return nil
}
