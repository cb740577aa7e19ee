package auth

import (
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/consolesso/pkg/observability"
)

// Audit actions
const (
	ActionLoginSuccess     = "auth.login.success"
	ActionLoginFailure     = "auth.login.failure"
	ActionLogout           = "auth.logout"
	ActionTokenIssue       = "token.issue"
	ActionTokenRevoke      = "token.revoke"
	ActionRoleCreate       = "role.create"
	ActionRoleUpdate       = "role.update"
	ActionRoleDelete       = "role.delete"
	ActionPermissionGrant  = "permission.grant"
	ActionPermissionRevoke = "permission.revoke"
	ActionPermissionPurge  = "permission.purge"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)

// AuditEvent is one security-relevant action
type AuditEvent struct {
	Action       string
	Status       string
	UserID       int64
	Organization string
	ResourceType string
	ResourceID   string
	Reason       string
}

// AuditLogger writes audit events as structured log lines
type AuditLogger struct {
	logger *observability.Logger
}

// NewAuditLogger creates an audit logger
func NewAuditLogger(logger *observability.Logger) *AuditLogger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuditLogger{logger: logger.WithField("audit", true)}
}

// Log records an event for the request
func (al *AuditLogger) Log(r *http.Request, event AuditEvent) {
	if al == nil {
		return
	}

	fields := map[string]interface{}{
		"action":     event.Action,
		"status":     event.Status,
		"ip_address": ClientIP(r),
		"user_agent": r.UserAgent(),
	}
	if event.UserID != 0 {
		fields["user_id"] = event.UserID
	}
	if event.Organization != "" {
		fields["organization"] = event.Organization
	}
	if event.ResourceType != "" {
		fields["resource_type"] = event.ResourceType
		fields["resource_id"] = event.ResourceID
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}

	if requestID := observability.GetRequestID(r.Context()); requestID != "" {
		fields["request_id"] = requestID
	}
	al.logger.WithFields(fields).Info("audit")
}

// ClientIP returns the originating address of the request
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
