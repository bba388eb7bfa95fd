// Package orchestrator drives the authentication state machine: protocol
// callback, lockout gate, identity validation, role resolution, session
// creation, and token issuance. No partial session or token escapes a
// failed flow.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/webqx-health/authcore/pkg/audit"
	"github.com/webqx-health/authcore/pkg/autherr"
	"github.com/webqx-health/authcore/pkg/lockout"
	"github.com/webqx-health/authcore/pkg/observability"
	"github.com/webqx-health/authcore/pkg/provider"
	"github.com/webqx-health/authcore/pkg/rbac"
	"github.com/webqx-health/authcore/pkg/session"
	"github.com/webqx-health/authcore/pkg/token"
)

// Flow stages, recorded with every failure so the audit trail shows how far
// a callback got.
const (
	StageFlowStarted       = "flow_started"
	StageCallbackReceived  = "callback_received"
	StageLockoutGate       = "lockout_gate"
	StageIdentityValidated = "identity_validated"
	StageRoleResolved      = "role_resolved"
	StageSessionCreated    = "session_created"
	StageTokenIssued       = "token_issued"
)

// Deps are the injected collaborators. The orchestrator holds no
// package-level state.
type Deps struct {
	Adapters  map[string]provider.Adapter
	Flows     *provider.FlowStore
	Mapper    *rbac.Mapper
	Hierarchy *rbac.Hierarchy
	Lockout   *lockout.Guard
	Sessions  *session.Manager
	Issuer    *token.Issuer
	Recorder  *audit.Recorder
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// Orchestrator coordinates the full authentication flow across the
// protocol adapters, lockout guard, role mapper, session manager, and
// token issuer.
type Orchestrator struct {
	adapters  map[string]provider.Adapter
	flows     *provider.FlowStore
	mapper    *rbac.Mapper
	hierarchy *rbac.Hierarchy
	lockout   *lockout.Guard
	sessions  *session.Manager
	issuer    *token.Issuer
	recorder  *audit.Recorder
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// New wires an orchestrator from its dependencies.
func New(deps Deps) (*Orchestrator, error) {
	if len(deps.Adapters) == 0 {
		return nil, autherr.NewConfiguration("orchestrator", fmt.Errorf("at least one adapter is required"))
	}
	if deps.Flows == nil || deps.Mapper == nil || deps.Hierarchy == nil ||
		deps.Lockout == nil || deps.Sessions == nil || deps.Issuer == nil {
		return nil, autherr.NewConfiguration("orchestrator", fmt.Errorf("missing dependency"))
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.NewRecorder(audit.NopSink{}, "nop", nil, nil)
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &Orchestrator{
		adapters:  deps.Adapters,
		flows:     deps.Flows,
		mapper:    deps.Mapper,
		hierarchy: deps.Hierarchy,
		lockout:   deps.Lockout,
		sessions:  deps.Sessions,
		issuer:    deps.Issuer,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       time.Now,
	}, nil
}

// FlowStart is the answer to a start request.
type FlowStart struct {
	Provider    string `json:"provider"`
	Protocol    string `json:"protocol"`
	RedirectURL string `json:"redirect_url"`
	FlowToken   string `json:"flow_token"`
}

// AuthResult is the outcome of a completed callback.
type AuthResult struct {
	Success  bool                        `json:"success"`
	User     *provider.FederatedIdentity `json:"user,omitempty"`
	Session  *session.Session            `json:"session,omitempty"`
	Token    *token.IssuedToken          `json:"token,omitempty"`
	Role     string                      `json:"role,omitempty"`
	ReturnTo string                      `json:"return_to,omitempty"`
	Warnings []string                    `json:"warnings,omitempty"`
}

// VerifyResult pairs verified token claims with the live session they
// reference.
type VerifyResult struct {
	Claims  *token.Claims    `json:"claims"`
	Session *session.Session `json:"session"`
}

// LogoutResult reports what a logout revoked.
type LogoutResult struct {
	RevokedSessions int    `json:"revoked_sessions"`
	SLORedirectURL  string `json:"slo_redirect_url,omitempty"`
}

func (o *Orchestrator) adapter(name string) (provider.Adapter, error) {
	a, ok := o.adapters[name]
	if !ok {
		return nil, autherr.NewValidation("provider", fmt.Sprintf("unknown provider %q", name))
	}
	return a, nil
}

// Adapter exposes a configured adapter by name, for surfaces that need
// protocol-specific extras such as SAML metadata.
func (o *Orchestrator) Adapter(name string) (provider.Adapter, error) {
	return o.adapter(name)
}

// StartFlow begins an authentication flow against the named provider.
func (o *Orchestrator) StartFlow(ctx context.Context, providerName string, opts provider.StartOptions) (*FlowStart, error) {
	adapter, err := o.adapter(providerName)
	if err != nil {
		return nil, err
	}

	directive, err := adapter.StartFlow(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("start flow: %w", err)
	}
	o.flows.Put(directive.FlowToken, providerName, opts)

	if o.metrics != nil {
		o.metrics.FlowsStartedTotal.WithLabelValues(providerName, string(adapter.Type())).Inc()
	}
	o.record(ctx, &audit.Entry{
		Actor:    opts.AccountHint,
		Action:   audit.ActionFlowStarted,
		Provider: providerName,
		Outcome:  audit.OutcomeSuccess,
		Stage:    StageFlowStarted,
	})

	return &FlowStart{
		Provider:    providerName,
		Protocol:    string(adapter.Type()),
		RedirectURL: directive.RedirectURL,
		FlowToken:   directive.FlowToken,
	}, nil
}

// CompleteFlow processes a provider callback end to end. The lockout gate
// runs before the provider exchange keyed by the flow's account hint, and
// again after identity validation keyed by the identity itself: valid
// credentials presented inside a lockout window are still rejected.
func (o *Orchestrator) CompleteFlow(ctx context.Context, providerName string, payload provider.CallbackPayload) (*AuthResult, error) {
	started := o.now()
	adapter, err := o.adapter(providerName)
	if err != nil {
		return nil, err
	}
	protocol := string(adapter.Type())

	defer func() {
		if o.metrics != nil {
			o.metrics.CallbackDuration.WithLabelValues(providerName, protocol).
				Observe(o.now().Sub(started).Seconds())
		}
	}()

	flowToken := payload.State
	if flowToken == "" {
		flowToken = payload.RelayState
	}

	flow, err := o.flows.Consume(flowToken)
	if err != nil {
		return nil, o.fail(ctx, providerName, protocol, "", StageCallbackReceived, err)
	}
	if flow.Provider != providerName {
		err := &autherr.AuthenticationError{Reason: "flow belongs to a different provider"}
		return nil, o.fail(ctx, providerName, protocol, flow.AccountHint, StageCallbackReceived, err)
	}

	// Pre-validation gate. The identity is not known yet, so the key is
	// the caller-supplied hint, falling back to a per-flow key.
	hintKey := flow.AccountHint
	if hintKey == "" {
		hintKey = providerName + ":" + flowToken
	}
	if status := o.lockout.CheckLocked(hintKey); status.Locked {
		err := &autherr.AccountLockedError{AccountKey: hintKey, RetryAfter: status.RetryAfter}
		o.record(ctx, &audit.Entry{
			Actor:    hintKey,
			Action:   audit.ActionLockedRejected,
			Provider: providerName,
			Outcome:  audit.OutcomeDenied,
			Stage:    StageLockoutGate,
		})
		return nil, o.fail(ctx, providerName, protocol, hintKey, StageLockoutGate, err)
	}

	identity, err := adapter.CompleteFlow(ctx, payload)
	if err != nil {
		var authErr *autherr.AuthenticationError
		if errors.As(err, &authErr) {
			o.countFailure(ctx, providerName, hintKey)
		}
		return nil, o.fail(ctx, providerName, protocol, hintKey, StageIdentityValidated, err)
	}

	// Post-validation gate, keyed by the real identity. A success inside
	// the window must not clear or bypass the lock.
	accountKey := identity.Email
	if status := o.lockout.CheckLocked(accountKey); status.Locked {
		err := &autherr.AccountLockedError{AccountKey: accountKey, RetryAfter: status.RetryAfter}
		o.record(ctx, &audit.Entry{
			Actor:    accountKey,
			Action:   audit.ActionLockedRejected,
			Provider: providerName,
			Outcome:  audit.OutcomeDenied,
			Stage:    StageLockoutGate,
		})
		return nil, o.fail(ctx, providerName, protocol, accountKey, StageLockoutGate, err)
	}
	o.lockout.RecordSuccess(accountKey)
	if hintKey != accountKey {
		o.lockout.RecordSuccess(hintKey)
	}

	resolution := o.mapper.MapRole(identity.ExternalRoles, identity.ExternalGroups)

	sess, err := o.sessions.Create(ctx, session.NewSessionParams{
		UserID:   identity.ExternalID,
		Provider: providerName,
		Protocol: string(identity.Protocol),
		Role:     resolution.Role,
		Metadata: map[string]string{
			"email":        identity.Email,
			"display_name": identity.DisplayName,
		},
	})
	if err != nil {
		return nil, o.fail(ctx, providerName, protocol, accountKey, StageSessionCreated, err)
	}
	if o.metrics != nil {
		o.metrics.SessionsCreated.WithLabelValues(providerName).Inc()
	}

	issued, err := o.issuer.Issue(sess, resolution.Role)
	if err != nil {
		// The session must not outlive a failed flow.
		_ = o.sessions.Revoke(ctx, sess.ID)
		return nil, o.fail(ctx, providerName, protocol, accountKey, StageTokenIssued, err)
	}
	if o.metrics != nil {
		o.metrics.TokensIssuedTotal.WithLabelValues(resolution.Role).Inc()
		o.metrics.CallbacksTotal.WithLabelValues(providerName, protocol, "success").Inc()
	}

	result := &AuthResult{
		Success:  true,
		User:     identity,
		Session:  sess,
		Token:    issued,
		Role:     resolution.Role,
		ReturnTo: flow.ReturnTo,
	}
	if err := o.record(ctx, &audit.Entry{
		Actor:      accountKey,
		Action:     audit.ActionLoginSuccess,
		Provider:   providerName,
		ResourceID: sess.ID,
		Outcome:    audit.OutcomeSuccess,
		Stage:      StageTokenIssued,
		Context:    map[string]string{"role": resolution.Role},
	}); err != nil {
		result.Warnings = append(result.Warnings, "audit trail is degraded")
	}

	o.logger.WithFields(map[string]interface{}{
		"provider": providerName,
		"role":     resolution.Role,
		"session":  sess.ID,
	}).Info("authentication completed")
	return result, nil
}

// countFailure increments the lockout counter and audits the lock
// transition when this failure crosses the threshold.
func (o *Orchestrator) countFailure(ctx context.Context, providerName, accountKey string) {
	rec := o.lockout.RecordFailure(accountKey)
	o.record(ctx, &audit.Entry{
		Actor:    accountKey,
		Action:   audit.ActionLoginFailure,
		Provider: providerName,
		Outcome:  audit.OutcomeFailure,
		Context:  map[string]string{"failed_attempts": fmt.Sprintf("%d", rec.FailedAttempts)},
	})

	if rec.FailedAttempts == o.lockout.Threshold() {
		if o.metrics != nil {
			o.metrics.LockoutsTotal.WithLabelValues(providerName).Inc()
		}
		o.record(ctx, &audit.Entry{
			Actor:    accountKey,
			Action:   audit.ActionAccountLocked,
			Provider: providerName,
			Outcome:  audit.OutcomeDenied,
			Context:  map[string]string{"unlock_at": rec.UnlockAt.Format(time.RFC3339)},
		})
	}
}

// fail audits and counts a callback failure, then returns err unchanged.
func (o *Orchestrator) fail(ctx context.Context, providerName, protocol, actor, stage string, err error) error {
	if o.metrics != nil {
		o.metrics.CallbackFailures.WithLabelValues(providerName, stage).Inc()
		o.metrics.CallbacksTotal.WithLabelValues(providerName, protocol, "failure").Inc()
	}
	o.record(ctx, &audit.Entry{
		Actor:    actor,
		Action:   audit.ActionCallbackFailed,
		Provider: providerName,
		Outcome:  audit.OutcomeFailure,
		Stage:    stage,
		Reason:   err.Error(),
	})
	o.logger.WithError(err).
		WithField("provider", providerName).
		WithField("stage", stage).
		Warn("authentication callback failed")
	return err
}

func (o *Orchestrator) record(ctx context.Context, e *audit.Entry) error {
	return o.recorder.Record(ctx, e)
}

// Verify checks a bearer token and the live session behind it. A verified
// signature is not enough: a revoked or expired session invalidates the
// token regardless of its exp claim.
func (o *Orchestrator) Verify(ctx context.Context, bearer string) (*VerifyResult, error) {
	claims, err := o.issuer.Verify(bearer)
	if err != nil {
		if o.metrics != nil {
			o.metrics.TokenVerifyFailures.WithLabelValues("signature").Inc()
		}
		return nil, err
	}

	sess, err := o.sessions.Validate(ctx, claims.SessionID)
	if err != nil {
		if o.metrics != nil {
			o.metrics.TokenVerifyFailures.WithLabelValues("session").Inc()
		}
		return nil, err
	}
	if sess.UserID != claims.Subject {
		if o.metrics != nil {
			o.metrics.TokenVerifyFailures.WithLabelValues("subject_mismatch").Inc()
		}
		return nil, &autherr.AuthenticationError{Reason: "token subject does not match session"}
	}

	return &VerifyResult{Claims: claims, Session: sess}, nil
}

// Renew extends the session behind the bearer token and issues a fresh
// token bound to the new expiry.
func (o *Orchestrator) Renew(ctx context.Context, bearer string) (*AuthResult, error) {
	verified, err := o.Verify(ctx, bearer)
	if err != nil {
		return nil, err
	}

	sess, err := o.sessions.Renew(ctx, verified.Session.ID)
	if err != nil {
		return nil, err
	}

	issued, err := o.issuer.Issue(sess, sess.Role)
	if err != nil {
		return nil, err
	}

	o.record(ctx, &audit.Entry{
		Actor:      sess.UserID,
		Action:     audit.ActionSessionRenewed,
		Provider:   sess.Provider,
		ResourceID: sess.ID,
		Outcome:    audit.OutcomeSuccess,
	})

	return &AuthResult{
		Success: true,
		Session: sess,
		Token:   issued,
		Role:    sess.Role,
	}, nil
}

// Logout revokes the session behind the bearer token, or every session for
// its user when allDevices is set. SAML-backed sessions also get a single
// logout redirect when the provider configures one.
func (o *Orchestrator) Logout(ctx context.Context, bearer string, allDevices bool) (*LogoutResult, error) {
	verified, err := o.Verify(ctx, bearer)
	if err != nil {
		return nil, err
	}
	sess := verified.Session

	result := &LogoutResult{}
	if allDevices {
		revoked, err := o.sessions.RevokeAllForUser(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		result.RevokedSessions = revoked
	} else {
		if err := o.sessions.Revoke(ctx, sess.ID); err != nil {
			return nil, err
		}
		result.RevokedSessions = 1
	}

	if adapter, ok := o.adapters[sess.Provider]; ok {
		if samlAdapter, ok := adapter.(*provider.SAMLAdapter); ok {
			if sloURL, err := samlAdapter.LogoutURL(sess.Metadata["email"]); err == nil {
				result.SLORedirectURL = sloURL
			}
		}
	}

	reason := "logout"
	if allDevices {
		reason = "logout_all"
	}
	if o.metrics != nil {
		o.metrics.SessionsRevoked.WithLabelValues(reason).Add(float64(result.RevokedSessions))
	}
	o.record(ctx, &audit.Entry{
		Actor:      sess.UserID,
		Action:     audit.ActionSessionRevoked,
		Provider:   sess.Provider,
		ResourceID: sess.ID,
		Outcome:    audit.OutcomeSuccess,
		Context:    map[string]string{"all_devices": fmt.Sprintf("%t", allDevices)},
	})

	return result, nil
}

// SweepExpired runs all background sweeps once and returns how many
// records were removed in total.
func (o *Orchestrator) SweepExpired(ctx context.Context) int {
	total := o.flows.SweepExpired()
	total += o.lockout.SweepExpired()
	if swept, err := o.sessions.SweepExpired(ctx); err == nil {
		total += swept
		if o.metrics != nil {
			o.metrics.SessionsSweptTotal.Add(float64(swept))
		}
	}
	if o.metrics != nil {
		o.metrics.LockedAccounts.Set(float64(o.lockout.LockedCount()))
		if count, err := o.sessions.Count(ctx); err == nil {
			o.metrics.SessionsActive.Set(float64(count))
		}
	}
	return total
}
