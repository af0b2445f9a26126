package middleware

import (
	"context"
	"sync/atomic"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/services/iam"
)

// fakeIAM resolves tokens from a fixed table and serves one permission
// snapshot to every principal.
type fakeIAM struct {
	tokens    map[string]*auth.Principal
	verifyErr error
	snapshot  auth.PermissionSnapshot
	authzErr  error

	ends  atomic.Int32
	store auth.Store
}

var _ iam.Service = (*fakeIAM)(nil)

func newFakeIAM() *fakeIAM {
	office := int64(3)
	return &fakeIAM{
		tokens: map[string]*auth.Principal{
			"provider-token": auth.NewPrincipal(auth.Principal{
				Kind:         auth.IdentityLegacyProvider,
				UserIdentity: "7",
				Username:     "drsmith",
				TenantID:     "acme",
				Scopes:       []string{"user/provider.*.read", "openid"},
				OfficeID:     &office,
				ClientID:     "ehr-web",
				GrantType:    auth.GrantTypePassword,
			}),
			"patient-token": auth.NewPrincipal(auth.Principal{
				Kind:         auth.IdentityLegacyPatient,
				UserIdentity: "501",
				TenantID:     "acme",
				Scopes:       []string{"patient/consumer.Appointment.read"},
				ClientID:     "patient-portal",
				GrantType:    auth.GrantTypePassword,
			}),
		},
		snapshot: auth.PermissionSnapshot{
			RoleSections: map[int64]map[auth.RoleSection]auth.SectionLevel{
				3: {auth.SectionScheduling: auth.SectionReadWrite},
			},
			Features:       map[int64][]auth.Feature{3: {auth.FeatureTelehealth}},
			ExternalAccess: []auth.ExternalAccess{auth.ExternalAccessREST},
		},
	}
}

func (f *fakeIAM) VerifyToken(_ context.Context, token string) (*auth.Principal, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	p, ok := f.tokens[token]
	if !ok {
		return nil, auth.InvalidToken("unknown token", nil)
	}
	return p, nil
}

func (f *fakeIAM) Login(context.Context, iam.Credentials, iam.LoginDetails) (*auth.Principal, error) {
	return nil, auth.BadCredentials("not supported")
}

func (f *fakeIAM) Authorization(context.Context, *auth.Principal) (*auth.AuthorizationContext, error) {
	if f.authzErr != nil {
		return nil, f.authzErr
	}
	return auth.NewAuthorizationContext(f.snapshot), nil
}

func (f *fakeIAM) PurgeAuthorizationCache() {}

func (f *fakeIAM) Begin(ctx context.Context, p *auth.Principal) (context.Context, *auth.SecurityContext) {
	return f.store.Start(ctx, p, f.Authorization)
}

func (f *fakeIAM) Current(ctx context.Context) (*auth.SecurityContext, bool) {
	return f.store.Current(ctx)
}

func (f *fakeIAM) End(ctx context.Context) {
	f.ends.Add(1)
	f.store.End(ctx)
}
