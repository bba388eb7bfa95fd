// Package audit records every authentication, session, and authorization
// decision to one or more sinks. Sink failures never fail the operation
// being recorded; they are surfaced as warnings and counted instead.
package audit

import (
	"context"
	"time"
)

// Action identifies what happened.
type Action string

const (
	ActionFlowStarted    Action = "auth.flow_started"
	ActionCallbackFailed Action = "auth_callback_failed"
	ActionLoginSuccess   Action = "auth.login_success"
	ActionLoginFailure   Action = "auth.login_failure"
	ActionAccountLocked  Action = "auth.account_locked"
	ActionLockedRejected Action = "auth.locked_rejected"
	ActionTokenIssued    Action = "token.issued"
	ActionTokenRejected  Action = "token.rejected"
	ActionSessionCreated Action = "session.created"
	ActionSessionRenewed Action = "session.renewed"
	ActionSessionRevoked Action = "session.revoked"
	ActionAccessGranted  Action = "authz.access_granted"
	ActionAccessDenied   Action = "authz.access_denied"
)

// Outcome is the result of the recorded action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Entry is one immutable audit record. IDs are ULIDs so entries sort by
// creation time even when written through different sinks.
type Entry struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Actor        string            `json:"actor"`
	Action       Action            `json:"action"`
	Provider     string            `json:"provider,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Outcome      Outcome           `json:"outcome"`
	Stage        string            `json:"stage,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
}

// Sink persists audit entries.
type Sink interface {
	Write(ctx context.Context, e *Entry) error
	Close() error
}
