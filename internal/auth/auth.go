package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"pigeon/internal/content"
	"pigeon/internal/models"

	"github.com/c-pro/geche"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 72 * time.Hour
	inviteAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"
	invitePasswordLen  = 12
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
)

type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userStore interface {
	CreateUser(user models.User, passwordHash string) (models.User, error)
	GetCredentials(email string) (models.User, string, error)
}

type Config struct {
	Secret      string        `json:"secret"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int `json:"-"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	return nil
}

// failedLogins throttles brute force attempts per email.
type failedLogins struct {
	Count       int64
	LastAttempt int64
}

type AuthService struct {
	Config
	store    userStore
	validate *validator.Validate
	revoked  geche.Geche[string, struct{}]
	attempts *geche.Locker[string, failedLogins]
	now      func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store userStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:   config,
		store:    store,
		validate: validator.New(),
		revoked:  geche.NewMapTTLCache[string, struct{}](ctx, config.TokenExpiry, time.Minute),
		attempts: geche.NewLocker[string, failedLogins](geche.NewMapCache[string, failedLogins]()),
		now:      time.Now,
	}, nil
}

// Signup registers a new account and returns it with a session token.
func (as *AuthService) Signup(creds Credentials) (models.User, string, error) {
	creds.Email = content.NormalizeEmail(creds.Email)
	if err := as.validate.Struct(creds); err != nil {
		return models.User{}, "", fmt.Errorf("email and password are required: %w", models.ErrValidation)
	}
	if err := content.ValidateEmail(creds.Email); err != nil {
		return models.User{}, "", fmt.Errorf("%s: %w", err.Error(), models.ErrValidation)
	}
	if err := content.ValidatePassword(creds.Password); err != nil {
		return models.User{}, "", fmt.Errorf("%s: %w", err.Error(), models.ErrValidation)
	}

	user, err := as.createUser(creds.Email, creds.Password)
	if err != nil {
		return models.User{}, "", err
	}

	token, err := as.issueToken(user.ID)
	if err != nil {
		slog.Error("signup failed", "user_id", user.ID, "error", err)
		return models.User{}, "", err
	}
	return user, token, nil
}

// CreateInvitedUser registers email with a generated password that
// satisfies the password policy. The password is returned once.
func (as *AuthService) CreateInvitedUser(email string) (models.User, string, error) {
	email = content.NormalizeEmail(email)
	if err := as.validate.Var(email, "required,email"); err != nil {
		return models.User{}, "", fmt.Errorf("invalid email %q: %w", email, models.ErrValidation)
	}

	password, err := generatePassword()
	if err != nil {
		return models.User{}, "", err
	}
	user, err := as.createUser(email, password)
	if err != nil {
		return models.User{}, "", err
	}
	return user, password, nil
}

func (as *AuthService) createUser(email, password string) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), as.BcryptCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}
	return as.store.CreateUser(models.User{Email: email}, string(hash))
}

// Login checks the password and issues a fresh token. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (as *AuthService) Login(creds Credentials) (models.User, string, error) {
	now := as.now()
	email := content.NormalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return models.User{}, "", fmt.Errorf("email and password are required: %w", models.ErrValidation)
	}

	tx := as.attempts.Lock()
	defer tx.Unlock()
	failed, _ := tx.Get(email)

	if failed.Count > 3 {
		nextAttempt := failed.LastAttempt + 30*(failed.Count*failed.Count)
		if now.Unix() < nextAttempt {
			return models.User{}, "", fmt.Errorf("%w: next attempt in %d seconds", ErrTooManyAttempts, nextAttempt-now.Unix())
		}
	}

	user, hash, err := as.store.GetCredentials(email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.User{}, "", ErrInvalidCredentials
		}
		return models.User{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)); err != nil {
		tx.Set(email, failedLogins{Count: failed.Count + 1, LastAttempt: now.Unix()})
		return models.User{}, "", ErrInvalidCredentials
	}
	_ = tx.Del(email)

	token, err := as.issueToken(user.ID)
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return models.User{}, "", err
	}
	return user, token, nil
}

// Logout revokes token for the rest of its lifetime. Invalid tokens are
// ignored.
func (as *AuthService) Logout(token string) {
	claims, err := as.parse(token)
	if err != nil {
		return
	}
	as.revoked.Set(claims.ID, struct{}{})
}

// GetUserID returns the user a valid, unrevoked token was issued to.
func (as *AuthService) GetUserID(token string) (string, error) {
	claims, err := as.parse(token)
	if err != nil {
		return "", err
	}
	if _, err := as.revoked.Get(claims.ID); err == nil {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (as *AuthService) issueToken(userID string) (string, error) {
	now := as.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(as.TokenExpiry)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (as *AuthService) parse(token string) (*jwt.RegisteredClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(as.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generatePassword() (string, error) {
	b := make([]byte, invitePasswordLen)
	max := big.NewInt(int64(len(inviteAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		b[i] = inviteAlphabet[n.Int64()]
	}
	// Guarantee every character class the password policy asks for.
	return string(b) + "Aa1!", nil
}
