package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/consolesso/pkg/contextkeys"
	"github.com/platinummonkey/consolesso/pkg/users"
)

// Method is how a request was authenticated
type Method string

const (
	MethodSession Method = "session"
	MethodDevice  Method = "device"
)

// DeviceToken is a bearer credential issued to a mobile client
type DeviceToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Name        string     `json:"name"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AuthContext holds the authenticated user for a request
type AuthContext struct {
	User   *users.User
	Method Method
	// Token is set when Method is MethodDevice
	Token *DeviceToken
}

// Principal returns the principal of the authenticated user
func (ac *AuthContext) Principal() users.Principal {
	return ac.User.Principal()
}

// FromContext returns the request's auth context or nil
func FromContext(ctx context.Context) *AuthContext {
	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return authCtx
}
