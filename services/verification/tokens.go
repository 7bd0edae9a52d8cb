package verification

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const actionTokenSubject = "verification-action"

// ErrInvalidToken covers bad signatures, expiry and foreign tokens alike.
var ErrInvalidToken = errors.New("invalid or expired action link")

type actionClaims struct {
	RequestID string `json:"requestId"`
	Action    Action `json:"action"`
	OwnerID   uint   `json:"ownerId"`
	jwt.RegisteredClaims
}

// ActionTokens signs the approve/reject links emailed to certificate owners.
// The key is derived from the session secret so a link cannot double as a
// session token.
type ActionTokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewActionTokens(secret string, ttl time.Duration) *ActionTokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ActionTokens{key: []byte(actionTokenSubject + ":" + secret), ttl: ttl, now: time.Now}
}

func (t *ActionTokens) Sign(requestID string, action Action, ownerID uint) (string, error) {
	now := t.now()
	claims := actionClaims{
		RequestID: requestID,
		Action:    action,
		OwnerID:   ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actionTokenSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign action token: %w", err)
	}
	return token, nil
}

func (t *ActionTokens) Parse(tokenString string) (*actionClaims, error) {
	claims := &actionClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject != actionTokenSubject || claims.RequestID == "" || claims.OwnerID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
