package iam

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/db/models"
	"github.com/clinigate/authgw/internal/repository"
	"github.com/clinigate/authgw/internal/telemetry"
)

// Login methods, as recorded in the audit trail.
const (
	LoginMethodWebForm       = "web_form"
	LoginMethodPasswordGrant = "password_grant"
	LoginMethodAssertion     = "assertion"
)

// Keys read from MapDetails.
const (
	DetailAssertion = "jwt"
	DetailTenant    = "tenant"
	DetailOffice    = "office"
	DetailClientID  = "client_id"
	DetailScope     = "scope"
)

// Credentials is the username/password pair presented at login. A nil
// Password means none was supplied.
type Credentials struct {
	Username string
	Password *string
}

// LoginDetails is the extra data accompanying a login. It is one of
// WebFormDetails or MapDetails.
type LoginDetails interface {
	loginMethod() string
}

// WebFormDetails accompanies a legacy web-form login.
type WebFormDetails struct {
	Tenant string
}

func (WebFormDetails) loginMethod() string { return LoginMethodWebForm }

// MapDetails carries the request parameters of a programmatic login. A jwt
// key selects the patient assertion path whatever else is present.
type MapDetails map[string]string

func (d MapDetails) loginMethod() string {
	if _, ok := d[DetailAssertion]; ok {
		return LoginMethodAssertion
	}
	return LoginMethodPasswordGrant
}

// LoginMethod classifies details. Nil details are treated as an empty map.
func LoginMethod(details LoginDetails) string {
	switch d := details.(type) {
	case WebFormDetails, *WebFormDetails:
		return LoginMethodWebForm
	case MapDetails:
		return d.loginMethod()
	}
	return LoginMethodPasswordGrant
}

// CredentialDispatcherDependencies are the collaborators of a CredentialDispatcher.
type CredentialDispatcherDependencies struct {
	Credentials repository.CredentialStore
	Identities  repository.IdentityStore
	Permissions repository.PermissionStore
	Audit       repository.AuditSink
	// Assertions is optional; patient login is rejected without it.
	Assertions AssertionConsumer
	Logger     zerolog.Logger
	Metrics    *telemetry.AuthMetrics
}

// CredentialDispatcher resolves login credentials into a Principal.
//
// Passwords are never compared here; verification is delegated to the
// tenant's credential store. Every outcome, approval or denial, is written
// to the audit sink.
type CredentialDispatcher struct {
	credentials repository.CredentialStore
	identities  repository.IdentityStore
	permissions repository.PermissionStore
	audit       repository.AuditSink
	assertions  AssertionConsumer
	logger      zerolog.Logger
	metrics     *telemetry.AuthMetrics
}

// NewCredentialDispatcher creates a dispatcher.
func NewCredentialDispatcher(deps CredentialDispatcherDependencies) *CredentialDispatcher {
	return &CredentialDispatcher{
		credentials: deps.Credentials,
		identities:  deps.Identities,
		permissions: deps.Permissions,
		audit:       deps.Audit,
		assertions:  deps.Assertions,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
}

// Login authenticates creds. The returned error is always an *auth.Error.
func (d *CredentialDispatcher) Login(ctx context.Context, creds Credentials, details LoginDetails) (_ *auth.Principal, err error) {
	method := LoginMethod(details)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.Login",
		attribute.String(telemetry.AttrLoginMethod, method),
	)
	start := time.Now()
	defer func() {
		outcome := models.AuditApproved
		if err != nil {
			outcome = auth.KindOf(err).String()
		}
		telemetry.RecordError(span, err)
		d.metrics.RecordLogin(ctx, method, outcome, float64(time.Since(start).Milliseconds()))
		span.End()
	}()

	principal, loginErr := d.dispatch(ctx, method, creds, details)
	if loginErr != nil {
		loginErr = categorize(loginErr)
	}

	if auditErr := d.record(ctx, method, creds, details, principal, loginErr); auditErr != nil {
		d.logger.Error().Err(auditErr).Str("method", method).Msg("audit sink rejected login event")
		return nil, auth.AuthServiceError("audit unavailable", auditErr)
	}

	if loginErr != nil {
		d.logger.Warn().
			Str("method", method).
			Str("tenant", tenantOf(details)).
			Str("client_id", clientIDOf(details)).
			Str("kind", auth.KindOf(loginErr).String()).
			Msg("login denied")
		return nil, loginErr
	}
	return principal, nil
}

func (d *CredentialDispatcher) dispatch(ctx context.Context, method string, creds Credentials, details LoginDetails) (*auth.Principal, error) {
	if creds.Password == nil {
		return nil, auth.BadCredentials("password is required")
	}

	switch details := details.(type) {
	case WebFormDetails:
		return d.loginWebForm(ctx, creds, details)
	case *WebFormDetails:
		if details == nil {
			return nil, auth.InvalidRequest("tenant is required")
		}
		return d.loginWebForm(ctx, creds, *details)
	case MapDetails:
		if method == LoginMethodAssertion {
			return d.loginAssertion(ctx, details)
		}
		return d.loginPasswordGrant(ctx, creds, details)
	default:
		return d.loginPasswordGrant(ctx, creds, nil)
	}
}

func (d *CredentialDispatcher) loginWebForm(ctx context.Context, creds Credentials, details WebFormDetails) (*auth.Principal, error) {
	tenant := strings.TrimSpace(details.Tenant)
	if tenant == "" {
		return nil, auth.InvalidRequest("tenant is required")
	}

	user, err := d.verifyActiveUser(ctx, tenant, creds)
	if err != nil {
		return nil, err
	}

	return auth.NewPrincipal(auth.Principal{
		Kind:         auth.IdentityLegacyProvider,
		UserIdentity: auth.FormatID(user.ID),
		Username:     user.Username,
		TenantID:     tenant,
		GrantType:    auth.GrantTypePassword,
		SessionID:    uuid.NewString(),
	}), nil
}

func (d *CredentialDispatcher) loginAssertion(ctx context.Context, values MapDetails) (*auth.Principal, error) {
	if d.assertions == nil {
		return nil, auth.BadCredentials("patient login is not enabled")
	}
	externalID, err := d.assertions.Consume(values[DetailAssertion])
	if err != nil {
		return nil, err
	}

	tenant := strings.TrimSpace(values[DetailTenant])
	if tenant == "" {
		return nil, auth.InvalidRequest("tenant is required")
	}

	patient, err := d.identities.PatientByExternalID(ctx, tenant, externalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.BadCredentials("no patient matches the assertion")
		}
		return nil, auth.AuthServiceError("identity store unavailable", err)
	}

	return auth.NewPrincipal(auth.Principal{
		Kind:         auth.IdentityLegacyPatient,
		UserIdentity: auth.FormatID(patient.ID),
		Username:     externalID,
		TenantID:     tenant,
		Scopes:       strings.Fields(values[DetailScope]),
		ClientID:     values[DetailClientID],
		GrantType:    auth.GrantTypePassword,
		SessionID:    uuid.NewString(),
	}), nil
}

func (d *CredentialDispatcher) loginPasswordGrant(ctx context.Context, creds Credentials, values MapDetails) (*auth.Principal, error) {
	// Request shape is checked before any store is touched.
	tenant := strings.TrimSpace(values[DetailTenant])
	if tenant == "" {
		return nil, auth.InvalidRequest("tenant is required")
	}
	office, err := auth.ParseOfficeID(values[DetailOffice])
	if err != nil {
		return nil, auth.InvalidRequest(err.Error())
	}

	userID, err := d.verify(ctx, tenant, creds)
	if err != nil {
		return nil, err
	}

	offices, err := d.credentials.OfficesFor(ctx, tenant, userID)
	if err != nil {
		return nil, auth.AuthServiceError("credential store unavailable", err)
	}
	if len(offices) == 0 {
		return nil, auth.InsufficientAccess("user belongs to no office")
	}
	if !slices.Contains(offices, office) {
		return nil, auth.InsufficientAccess("user does not belong to the requested office")
	}

	user, err := d.activeUser(ctx, tenant, userID)
	if err != nil {
		return nil, err
	}

	snapshot, err := d.permissions.PermissionsFor(ctx, repository.PermissionSubject{
		Kind:         auth.IdentityLegacyProvider,
		TenantID:     tenant,
		UserIdentity: auth.FormatID(userID),
		OfficeID:     &office,
	})
	if err != nil {
		return nil, auth.AuthServiceError("permission store unavailable", err)
	}
	if !auth.NewAuthorizationContext(*snapshot).ExternalAccessEnabled(auth.ExternalAccessREST) {
		return nil, auth.InsufficientAccess("REST access is not enabled for this user")
	}

	return auth.NewPrincipal(auth.Principal{
		Kind:         auth.IdentityLegacyProvider,
		UserIdentity: auth.FormatID(userID),
		Username:     user.Username,
		TenantID:     tenant,
		Scopes:       strings.Fields(values[DetailScope]),
		OfficeID:     &office,
		ClientID:     values[DetailClientID],
		GrantType:    auth.GrantTypePassword,
		SessionID:    uuid.NewString(),
	}), nil
}

func (d *CredentialDispatcher) verifyActiveUser(ctx context.Context, tenant string, creds Credentials) (*models.User, error) {
	userID, err := d.verify(ctx, tenant, creds)
	if err != nil {
		return nil, err
	}
	return d.activeUser(ctx, tenant, userID)
}

// verify delegates to the credential store and maps its failures 1:1.
func (d *CredentialDispatcher) verify(ctx context.Context, tenant string, creds Credentials) (int64, error) {
	userID, err := d.credentials.Verify(ctx, tenant, creds.Username, *creds.Password)
	if err == nil {
		return userID, nil
	}

	var credErr *repository.CredentialError
	if !errors.As(err, &credErr) {
		return 0, auth.AuthServiceError("credential store unavailable", err)
	}
	switch credErr.Reason {
	case repository.CredentialInvalid:
		return 0, auth.BadCredentials("invalid username or password")
	case repository.CredentialLocked:
		return 0, auth.AccountLocked("account is locked")
	case repository.CredentialDisabled:
		return 0, auth.AccountDisabled("account is disabled")
	default:
		return 0, auth.AuthServiceError("credential store unavailable", credErr)
	}
}

func (d *CredentialDispatcher) activeUser(ctx context.Context, tenant string, userID int64) (*models.User, error) {
	user, err := d.identities.UserByID(ctx, tenant, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.BadCredentials("invalid username or password")
		}
		return nil, auth.AuthServiceError("identity store unavailable", err)
	}
	if !user.Active {
		return nil, auth.InsufficientAccess("user is deactivated")
	}
	return user, nil
}

func (d *CredentialDispatcher) record(ctx context.Context, method string, creds Credentials, details LoginDetails, p *auth.Principal, loginErr error) error {
	event := &models.AuditEvent{
		OccurredAt: time.Now().UTC(),
		TenantID:   tenantOf(details),
		Username:   creds.Username,
		ClientID:   clientIDOf(details),
		Method:     method,
		Outcome:    models.AuditApproved,
	}
	if loginErr != nil {
		event.Outcome = models.AuditDenied
		event.Reason = auth.KindOf(loginErr).String()
	}
	if p != nil {
		event.Principal = string(p.Kind) + ":" + p.UserIdentity
	}
	return d.audit.Record(ctx, event)
}

// categorize turns any uncategorized collaborator failure into AuthServiceError.
func categorize(err error) error {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr
	}
	return auth.AuthServiceError("authentication service failure", err)
}

func tenantOf(details LoginDetails) string {
	switch d := details.(type) {
	case WebFormDetails:
		return strings.TrimSpace(d.Tenant)
	case *WebFormDetails:
		if d != nil {
			return strings.TrimSpace(d.Tenant)
		}
	case MapDetails:
		return strings.TrimSpace(d[DetailTenant])
	}
	return ""
}

func clientIDOf(details LoginDetails) string {
	if d, ok := details.(MapDetails); ok {
		return d[DetailClientID]
	}
	return ""
}
