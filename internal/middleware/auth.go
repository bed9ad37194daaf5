package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const tenantLocalKey = "hotelID"

var (
	ErrMissingToken   = errors.New("missing token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTenantMismatch = errors.New("token not valid for this hotel")
)

// TenantClaims is the JWT a hotel's operators present
type TenantClaims struct {
	HotelID string `json:"hotel_id"`
	jwt.RegisteredClaims
}

// IssueTenantToken signs a token for one hotel
func IssueTenantToken(secret, hotelID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TenantClaims{
		HotelID: hotelID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  hotelID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseTenantToken validates tokenStr and returns the hotel it was issued for
func ParseTenantToken(secret, tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrMissingToken
	}
	token, err := jwt.ParseWithClaims(tokenStr, &TenantClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims := token.Claims.(*TenantClaims)
	if claims.HotelID == "" {
		return "", ErrInvalidToken
	}
	return claims.HotelID, nil
}

// TenantAuth requires a bearer token when secret is set. Without a secret every
// request passes and no hotel is bound to the request.
func TenantAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		h := c.Get(fiber.HeaderAuthorization)
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": ErrMissingToken.Error()})
		}

		hotelID, err := ParseTenantToken(secret, strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}

		c.Locals(tenantLocalKey, hotelID)
		return c.Next()
	}
}

// CheckTenant fails with 403 when the request is bound to a different hotel
func CheckTenant(c *fiber.Ctx, hotelID string) error {
	bound := BoundTenant(c)
	if bound == "" {
		return nil
	}
	if bound != hotelID {
		return fiber.NewError(fiber.StatusForbidden, ErrTenantMismatch.Error())
	}
	return nil
}

// TokenAuthorizer checks realtime join requests the way TenantAuth checks HTTP requests
func TokenAuthorizer(secret string) func(hotelID, token string) error {
	return func(hotelID, token string) error {
		if secret == "" {
			return nil
		}
		bound, err := ParseTenantToken(secret, token)
		if err != nil {
			return err
		}
		if bound != hotelID {
			return ErrTenantMismatch
		}
		return nil
	}
}

// BoundTenant returns the hotel the request's token was issued for, if any
func BoundTenant(c *fiber.Ctx) string {
	bound, _ := c.Locals(tenantLocalKey).(string)
	return bound
}
