// Package auth issues and checks the HS256 tokens used between the escrow
// node, trustees and lenders.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
)

const ReasonDefault = "default"

// ReleaseClaims authorize one trustee to release one share for one reveal
// epoch. The audience is the trustee id.
type ReleaseClaims struct {
	jwt.RegisteredClaims
	LoanID             uint64 `json:"loan"`
	ActivityCommitment string `json:"ac"`
	Reason             string `json:"reason"`
	Epoch              int64  `json:"epoch"`
}

// LenderClaims identify a lender by address in the subject.
type LenderClaims struct {
	jwt.RegisteredClaims
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parse(tokenString string, claims jwt.Claims, secret []byte, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return common.ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return common.ErrInvalidToken
	}
	return nil
}

func GenerateReleaseToken(trusteeID string, loanID uint64, activityCommitment, reason string, epoch int64, secret []byte, validity time.Duration) (string, error) {
	now := time.Now()
	return sign(ReleaseClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{trusteeID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		LoanID:             loanID,
		ActivityCommitment: activityCommitment,
		Reason:             reason,
		Epoch:              epoch,
	}, secret)
}

// ParseReleaseToken verifies the signature, expiry and audience.
func ParseReleaseToken(tokenString string, secret []byte, trusteeID string) (*ReleaseClaims, error) {
	claims := &ReleaseClaims{}
	if err := parse(tokenString, claims, secret, jwt.WithAudience(trusteeID)); err != nil {
		return nil, err
	}
	return claims, nil
}

func GenerateLenderToken(lender string, secret []byte, validity time.Duration) (string, error) {
	return sign(LenderClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   lender,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
	}}, secret)
}

// LenderFromToken returns the lender address carried in the subject.
func LenderFromToken(tokenString string, secret []byte) (string, error) {
	claims := &LenderClaims{}
	if err := parse(tokenString, claims, secret); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", common.ErrInvalidToken
	}
	return claims.Subject, nil
}
