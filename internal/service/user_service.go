package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"userdesk/internal/auth"
	"userdesk/internal/domain"
	"userdesk/internal/repository"
)

var (
	// ErrInvalidInput is matched by every *InputError.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailExists is returned when registering with an email already in use.
	ErrEmailExists = errors.New("email already exists")
	// ErrUserNotFound is returned when no user matches an id or email.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidPassword indicates the password did not match the stored hash.
	ErrInvalidPassword = errors.New("invalid password")
)

// InputError carries a client-facing validation message.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// DefaultBcryptCost is the work factor used when Options leaves it unset.
const DefaultBcryptCost = 10

// UserService describes user lifecycle operations.
type UserService interface {
	Register(ctx context.Context, name, email, password string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (string, *domain.User, error)
	Create(ctx context.Context, fields map[string]any) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Get(ctx context.Context, id int64) (*domain.User, error)
	Update(ctx context.Context, id int64, fields map[string]any) (*domain.User, error)
	Delete(ctx context.Context, id int64) error
}

// Options tunes the user service.
type Options struct {
	BcryptCost int
	// UniqueEmail extends the registration-time email check to generic create and update.
	UniqueEmail bool
	Now         func() time.Time
}

type userService struct {
	users  repository.UserRepository
	tokens *auth.Issuer
	opts   Options
	ids    *idGenerator
}

func NewUserService(users repository.UserRepository, tokens *auth.Issuer, opts Options) UserService {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = DefaultBcryptCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &userService{
		users:  users,
		tokens: tokens,
		opts:   opts,
		ids:    &idGenerator{now: opts.Now},
	}
}

func (s *userService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	if name == "" || email == "" || password == "" {
		return nil, invalid("Name, Email, and Password are required")
	}
	if !emailPattern.MatchString(email) {
		return nil, invalid("Invalid email format")
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:       s.ids.next(),
		Name:     name,
		Email:    email,
		Password: hash,
	}
	if err := s.users.Create(ctx, user, repository.WriteOptions{UniqueEmail: true}); err != nil {
		return nil, translateRepoError(err)
	}
	return user, nil
}

func (s *userService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	if email == "" || password == "" {
		return "", nil, invalid("Email and Password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, translateRepoError(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, ErrInvalidPassword
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *userService) Create(ctx context.Context, fields map[string]any) (*domain.User, error) {
	fields, err := s.prepareFields(fields)
	if err != nil {
		return nil, err
	}
	user := &domain.User{ID: s.ids.next()}
	if err := applyFields(user, fields); err != nil {
		return nil, err
	}
	if user.Name == "" || user.Email == "" {
		return nil, invalid("Name and Email are required")
	}

	if err := s.users.Create(ctx, user, repository.WriteOptions{UniqueEmail: s.opts.UniqueEmail}); err != nil {
		return nil, translateRepoError(err)
	}
	return user, nil
}

func (s *userService) List(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}

func (s *userService) Get(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, translateRepoError(err)
	}
	return user, nil
}

func (s *userService) Update(ctx context.Context, id int64, fields map[string]any) (*domain.User, error) {
	fields, err := s.prepareFields(fields)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Update(ctx, id, func(u *domain.User) error {
		return applyFields(u, fields)
	}, repository.WriteOptions{UniqueEmail: s.opts.UniqueEmail})
	if err != nil {
		return nil, translateRepoError(err)
	}
	return user, nil
}

func (s *userService) Delete(ctx context.Context, id int64) error {
	return translateRepoError(s.users.Delete(ctx, id))
}

// prepareFields returns a copy of fields with any submitted password replaced by its hash.
func (s *userService) prepareFields(fields map[string]any) (map[string]any, error) {
	raw, ok := fields[domain.FieldPassword]
	if !ok {
		return fields, nil
	}
	plain, isString := raw.(string)
	if !isString {
		return nil, invalid("password must be a string")
	}
	hash, err := s.hashPassword(plain)
	if err != nil {
		return nil, err
	}

	prepared := make(map[string]any, len(fields))
	for k, v := range fields {
		prepared[k] = v
	}
	prepared[domain.FieldPassword] = hash
	return prepared, nil
}

func applyFields(user *domain.User, fields map[string]any) error {
	if err := user.Apply(fields); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func (s *userService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", invalid("Password must be at most 72 bytes")
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrEmailExists):
		return ErrEmailExists
	default:
		return err
	}
}

// idGenerator hands out millisecond timestamps, bumped past the last value so
// two users created within the same millisecond never share an id.
type idGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (g *idGenerator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
