package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"userdesk/internal/domain"
	"userdesk/internal/repository"
)

// UserRepository keeps the whole user collection in one JSON array on disk.
// Every operation reads the file, mutates the slice and writes it back.
type UserRepository struct {
	path   string
	logger *logrus.Logger

	mu sync.Mutex
}

func NewUserRepository(path string, logger *logrus.Logger) *UserRepository {
	if logger == nil {
		logger = logrus.New()
	}
	return &UserRepository{path: path, logger: logger}
}

// Init creates the data directory. The file itself is written on first save.
func (r *UserRepository) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// Load returns every stored user. A missing or unparsable file yields an
// empty collection. Records that do not decode as users are skipped here but
// survive later writes untouched.
func (r *UserRepository) Load(ctx context.Context) []domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return decoded(r.load())
}

// Save overwrites the file with users.
func (r *UserRepository) Save(ctx context.Context, users []domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]record, len(users))
	for i := range users {
		records[i] = record{user: users[i]}
	}
	return r.save(records)
}

// record is one element of the stored array. raw is set when the element
// could not be decoded and must be written back as it was read.
type record struct {
	user domain.User
	raw  json.RawMessage
}

func (rec record) MarshalJSON() ([]byte, error) {
	if rec.raw != nil {
		return rec.raw, nil
	}
	return json.Marshal(rec.user)
}

func decoded(records []record) []domain.User {
	out := make([]domain.User, 0, len(records))
	for _, rec := range records {
		if rec.raw == nil {
			out = append(out, rec.user)
		}
	}
	return out
}

func (r *UserRepository) load() []record {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warnf("read users file %s: %v", r.path, err)
		}
		return []record{}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		r.logger.Warnf("parse users file %s: %v", r.path, err)
		return []record{}
	}

	records := make([]record, 0, len(elems))
	for i, elem := range elems {
		var rec record
		if err := json.Unmarshal(elem, &rec.user); err != nil {
			r.logger.WithField("index", i).Warnf("keeping undecodable user record as is: %v", err)
			rec = record{raw: elem}
		}
		records = append(records, rec)
	}
	return records
}

func (r *UserRepository) save(records []record) error {
	if records == nil {
		records = []record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write users: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace users file: %w", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	return r.Load(ctx), nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	for _, u := range r.Load(ctx) {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, u := range r.Load(ctx) {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User, opts repository.WriteOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.load()
	if opts.UniqueEmail && emailTaken(records, user.Email, 0) {
		return repository.ErrEmailExists
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	records = append(records, record{user: user.Clone()})
	return r.save(records)
}

func (r *UserRepository) Update(ctx context.Context, id int64, patch repository.PatchFunc, opts repository.WriteOptions) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.load()
	index := -1
	for i := range records {
		if records[i].raw == nil && records[i].user.ID == id {
			index = i
			break
		}
	}
	if index == -1 {
		return nil, repository.ErrNotFound
	}

	updated := records[index].user.Clone()
	if err := patch(&updated); err != nil {
		return nil, err
	}
	updated.ID = id
	if opts.UniqueEmail && emailTaken(records, updated.Email, id) {
		return nil, repository.ErrEmailExists
	}
	updated.UpdatedAt = time.Now().UTC()

	records[index] = record{user: updated}
	if err := r.save(records); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.load()
	kept := make([]record, 0, len(records))
	for _, rec := range records {
		if rec.raw != nil || rec.user.ID != id {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return repository.ErrNotFound
	}
	return r.save(kept)
}

func emailTaken(records []record, email string, exceptID int64) bool {
	for _, rec := range records {
		if rec.raw == nil && rec.user.Email == email && rec.user.ID != exceptID {
			return true
		}
	}
	return false
}

var _ repository.UserRepository = (*UserRepository)(nil)
