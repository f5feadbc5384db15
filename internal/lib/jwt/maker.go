// Package jwt проверяет токены доступа, выпущенные сервисом аккаунтов платформы.
// Биллинг не выпускает токены для пользователей; GenerateToken нужен для
// служебных вызовов и тестов.
package jwt

import (
	"time"
)

// Maker описывает генерацию и разбор токена.
type Maker interface {
	GenerateToken(userID, email string) (string, error)
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// MakerImpl подписывает токены HS256 общим секретом.
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewJWTMaker создаёт MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}
