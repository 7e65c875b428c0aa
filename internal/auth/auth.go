package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/settlement/internal/cache"
	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/order"
)

const (
	// ChallengeTTL bounds how long a login challenge stays valid.
	ChallengeTTL = 5 * time.Minute
	// TokenTTL is the lifetime of issued JWTs.
	TokenTTL = 24 * time.Hour
)

// Role is a JWT's privilege level.
type Role string

const (
	RoleTrader Role = "trader"
	RoleAdmin  Role = "admin"
)

// Claims are the JWT claims issued by the service.
type Claims struct {
	Account common.Address `json:"account"`
	Role    Role           `json:"role"`
	jwt.RegisteredClaims
}

// Operator is a username/password login bound to an account.
type Operator struct {
	Username     string
	PasswordHash string
	Account      common.Address
}

// AuthService issues and checks API credentials
type AuthService struct {
	secret     []byte
	challenges cache.Challenges
	verifier   *order.Verifier
	admins     map[common.Address]bool
	operators  map[string]Operator
	now        func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(secret string, challenges cache.Challenges, admins []common.Address, operators []Operator) (*AuthService, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	s := &AuthService{
		secret:     []byte(secret),
		challenges: challenges,
		verifier:   order.NewVerifier(),
		admins:     make(map[common.Address]bool, len(admins)),
		operators:  make(map[string]Operator, len(operators)),
		now:        time.Now,
	}
	for _, a := range admins {
		s.admins[a] = true
	}
	for _, op := range operators {
		if op.Username == "" || op.PasswordHash == "" {
			return nil, fmt.Errorf("operator entries need a username and password hash")
		}
		s.operators[op.Username] = op
	}
	return s, nil
}

// ChallengeText is the message a trader personal-signs to log in.
func ChallengeText(account common.Address, id string) string {
	return fmt.Sprintf("Sign in to the settlement API\naccount: %s\nchallenge: %s", account.Hex(), id)
}

// Challenge issues a fresh login challenge for account, replacing any
// pending one, and returns the text to sign.
func (s *AuthService) Challenge(ctx context.Context, account common.Address) (string, error) {
	if account == (common.Address{}) {
		return "", models.NewError(models.ErrNotAuthorized, "zero account")
	}
	text := ChallengeText(account, uuid.NewString())
	if err := s.challenges.Put(ctx, account.Hex(), text, ChallengeTTL); err != nil {
		return "", err
	}
	return text, nil
}

// Login verifies a personal signature over the pending challenge and
// returns a JWT for account.
func (s *AuthService) Login(ctx context.Context, account common.Address, sig []byte) (string, error) {
	text, err := s.challenges.Take(ctx, account.Hex())
	if errors.Is(err, cache.ErrMiss) {
		return "", models.NewError(models.ErrNotAuthorized, "no pending challenge")
	}
	if err != nil {
		return "", err
	}
	signer, err := s.verifier.Recover(common.BytesToHash(accounts.TextHash([]byte(text))), sig)
	if err != nil {
		return "", err
	}
	if signer != account {
		return "", models.NewError(models.ErrNotAuthorized, "challenge signed by "+signer.Hex())
	}
	role := RoleTrader
	if s.admins[account] {
		role = RoleAdmin
	}
	return s.issue(account, role)
}

// OperatorLogin verifies credentials and generates a JWT
func (s *AuthService) OperatorLogin(ctx context.Context, username, password string) (string, error) {
	op, ok := s.operators[username]
	if !ok {
		return "", models.NewError(models.ErrNotAuthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return "", models.NewError(models.ErrNotAuthorized, "invalid credentials")
	}
	role := RoleTrader
	if s.admins[op.Account] {
		role = RoleAdmin
	}
	return s.issue(op.Account, role)
}

func (s *AuthService) issue(account common.Address, role Role) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Account: account,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.ToLower(account.Hex()),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates tokenString and returns its claims.
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, models.NewError(models.ErrNotAuthorized, err.Error())
	}
	if claims.Account == (common.Address{}) {
		return nil, models.NewError(models.ErrNotAuthorized, "token has no account")
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash for operator configuration.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if len(password) > 72 {
		return "", fmt.Errorf("password too long (max 72 bytes)")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
