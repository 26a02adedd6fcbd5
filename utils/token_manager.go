package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	subjectVoter = "voter:"
	subjectAdmin = "admin:"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenManager 签发和解析 HS256 令牌，subject 区分投票人与管理员
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (m *TokenManager) IssueVoterToken(voterID uint) (string, error) {
	return m.issue(subjectVoter + strconv.FormatUint(uint64(voterID), 10))
}

// ResolveVoter 返回令牌对应的投票人主键
func (m *TokenManager) ResolveVoter(token string) (uint, error) {
	sub, err := m.subject(token, subjectVoter)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(sub, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}

func (m *TokenManager) IssueAdminToken(username string) (string, error) {
	return m.issue(subjectAdmin + username)
}

func (m *TokenManager) ResolveAdmin(token string) (string, error) {
	sub, err := m.subject(token, subjectAdmin)
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

func (m *TokenManager) issue(subject string) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (m *TokenManager) subject(token, prefix string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !strings.HasPrefix(claims.Subject, prefix) {
		return "", ErrInvalidToken
	}
	return strings.TrimPrefix(claims.Subject, prefix), nil
}
