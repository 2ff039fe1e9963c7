// Package identity signs users up and in against accounts kept in the document store.
package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"example.com/stepsync/internal/auth"
	"example.com/stepsync/internal/docstore"
	"example.com/stepsync/internal/leaderboard"
)

// MinPasswordLength is the shortest password SignUp accepts.
const MinPasswordLength = 6

// User is a signed-in account.
type User struct {
	ID    string `json:"user_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Provider authenticates users.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (User, error)
	SignUp(ctx context.Context, name, email, password string) (User, error)
	CurrentUser(ctx context.Context) (User, error)
}

// Option configures a LocalProvider.
type Option func(*LocalProvider)

// WithClock overrides the clock used for account timestamps.
func WithClock(clock func() time.Time) Option {
	return func(p *LocalProvider) {
		p.now = clock
	}
}

// WithHashCost overrides the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(p *LocalProvider) {
		p.cost = cost
	}
}

// LocalProvider stores bcrypt hashes under accounts/{email} and profiles
// under users/{uid}.
type LocalProvider struct {
	store docstore.Store
	now   func() time.Time
	cost  int
	newID func() string
}

// NewLocalProvider constructs a LocalProvider.
func NewLocalProvider(store docstore.Store, opts ...Option) *LocalProvider {
	p := &LocalProvider{
		store: store,
		now:   time.Now,
		cost:  bcrypt.DefaultCost,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignUp creates the account, the profile and an empty leaderboard row.
func (p *LocalProvider) SignUp(ctx context.Context, name, email, password string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(email) == "" || password == "" {
		return User{}, ErrMissingFields
	}
	email, accountPath, err := normalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	if len(password) < MinPasswordLength {
		return User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return User{}, unknown(err)
	}

	user := User{ID: p.newID(), Name: name, Email: email}
	err = p.store.Create(ctx, accountPath, docstore.Fields{
		"uid":          user.ID,
		"email":        email,
		"passwordHash": string(hash),
		"disabled":     false,
		"complete":     false,
		"createdAt":    p.now().UTC().Format(time.RFC3339),
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		uid, resumed, rerr := p.unfinishedAccount(ctx, accountPath, password)
		if rerr != nil {
			return User{}, rerr
		}
		if !resumed {
			return User{}, ErrEmailAlreadyInUse
		}
		user.ID = uid
	} else if err != nil {
		return User{}, unknown(err)
	}

	if err := p.finishSignUp(ctx, accountPath, user); err != nil {
		return User{}, unknown(err)
	}
	return user, nil
}

// unfinishedAccount returns the uid of an account whose sign-up stopped
// before the profile was written, provided password matches it. Accounts
// without the complete flag predate it and count as finished.
func (p *LocalProvider) unfinishedAccount(ctx context.Context, accountPath docstore.Path, password string) (string, bool, error) {
	account, err := p.store.Get(ctx, accountPath)
	if err != nil {
		return "", false, unknown(err)
	}
	if account == nil {
		return "", false, nil
	}
	if complete, ok := account.Bool("complete"); !ok || complete {
		return "", false, nil
	}
	hash, _ := account.String("passwordHash")
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", false, nil
	}
	uid, _ := account.String("uid")
	return uid, uid != "", nil
}

// finishSignUp writes the profile and leaderboard row, then marks the
// account complete. Each step is a merge, so a retried sign-up repeats it safely.
func (p *LocalProvider) finishSignUp(ctx context.Context, accountPath docstore.Path, user User) error {
	profile, err := profilePath(user.ID)
	if err != nil {
		return err
	}
	if err := p.store.Upsert(ctx, profile, docstore.Fields{
		"uid":        user.ID,
		"name":       user.Name,
		"email":      user.Email,
		"totalSteps": 0,
	}); err != nil {
		return err
	}

	board, err := leaderboard.Path(user.ID)
	if err != nil {
		return err
	}
	if err := p.store.Upsert(ctx, board, docstore.Fields{
		leaderboard.FieldName:       user.Name,
		leaderboard.FieldDailySteps: 0,
	}); err != nil {
		return err
	}
	return p.store.Upsert(ctx, accountPath, docstore.Fields{"complete": true})
}

// SignIn verifies the password. A missing profile is initialised.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return User{}, ErrMissingFields
	}
	email, accountPath, err := normalizeEmail(email)
	if err != nil {
		return User{}, err
	}

	account, err := p.store.Get(ctx, accountPath)
	if err != nil {
		return User{}, unknown(err)
	}
	if account == nil {
		return User{}, ErrUserNotFound
	}
	if disabled, _ := account.Bool("disabled"); disabled {
		return User{}, ErrUserDisabled
	}
	hash, _ := account.String("passwordHash")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return User{}, ErrWrongPassword
		}
		return User{}, unknown(err)
	}

	uid, _ := account.String("uid")
	user := User{ID: uid, Email: email}

	profile, err := profilePath(uid)
	if err != nil {
		return User{}, unknown(err)
	}
	doc, err := p.store.Get(ctx, profile)
	if err != nil {
		return User{}, unknown(err)
	}
	if doc == nil {
		if err := p.store.Upsert(ctx, profile, docstore.Fields{"totalSteps": 0}); err != nil {
			return User{}, unknown(err)
		}
		return user, nil
	}
	user.Name, _ = doc.String("name")
	return user, nil
}

// CurrentUser resolves the user behind the bearer token in ctx.
func (p *LocalProvider) CurrentUser(ctx context.Context) (User, error) {
	claims, ok := auth.FromContext(ctx)
	if !ok || claims.Subject == "" {
		return User{}, ErrSignedOut
	}
	profile, err := profilePath(claims.Subject)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	doc, err := p.store.Get(ctx, profile)
	if err != nil {
		return User{}, unknown(err)
	}
	if doc == nil {
		return User{}, ErrUserNotFound
	}
	user := User{ID: claims.Subject}
	user.Name, _ = doc.String("name")
	user.Email, _ = doc.String("email")
	return user, nil
}

// SetDisabled blocks or re-enables sign-in for an account.
func (p *LocalProvider) SetDisabled(ctx context.Context, email string, disabled bool) error {
	_, accountPath, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	account, err := p.store.Get(ctx, accountPath)
	if err != nil {
		return unknown(err)
	}
	if account == nil {
		return ErrUserNotFound
	}
	if err := p.store.Upsert(ctx, accountPath, docstore.Fields{"disabled": disabled}); err != nil {
		return unknown(err)
	}
	return nil
}

func normalizeEmail(raw string) (string, docstore.Path, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", "", ErrInvalidEmail
	}
	path, err := docstore.NewPath("accounts", email)
	if err != nil {
		return "", "", ErrInvalidEmail
	}
	return email, path, nil
}

func profilePath(uid string) (docstore.Path, error) {
	return docstore.NewPath("users", uid)
}
