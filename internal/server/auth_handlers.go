package server

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/invocation"
	"github.com/clinigate/authgw/internal/services/iam"
)

const maxLoginBody = 1 << 20

// LoginRequest is the JSON body accepted by POST /auth/login.
//
// Without Details the request is a web-form login scoped to Tenant. With
// Details it is a programmatic login and Details carries the grant
// parameters (tenant, office, client_id, scope, or jwt for a patient assertion).
type LoginRequest struct {
	Username string            `json:"username"`
	Password *string           `json:"password,omitempty"`
	Tenant   string            `json:"tenant,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// PrincipalResponse describes an authenticated caller.
type PrincipalResponse struct {
	Kind             string     `json:"kind"`
	UserIdentity     string     `json:"user_identity,omitempty"`
	Username         string     `json:"username,omitempty"`
	TenantID         string     `json:"tenant_id,omitempty"`
	Scopes           []string   `json:"scopes"`
	OfficeID         *int64     `json:"office_id,omitempty"`
	OriginalOfficeID *int64     `json:"original_office_id,omitempty"`
	ClientID         string     `json:"client_id,omitempty"`
	GrantType        string     `json:"grant_type"`
	SessionID        string     `json:"session_id"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// WhoAmIResponse is returned by GET /auth/whoami.
type WhoAmIResponse struct {
	Principal PrincipalResponse `json:"principal"`
	Offices   []int64           `json:"offices"`
}

func newPrincipalResponse(p *auth.Principal) PrincipalResponse {
	resp := PrincipalResponse{
		Kind:             string(p.Kind),
		UserIdentity:     p.UserIdentity,
		Username:         p.Username,
		TenantID:         p.TenantID,
		Scopes:           p.Scopes,
		OfficeID:         p.OfficeID,
		OriginalOfficeID: p.OriginalOfficeID,
		ClientID:         p.ClientID,
		GrantType:        p.GrantType,
		SessionID:        p.SessionID,
	}
	if resp.Scopes == nil {
		resp.Scopes = []string{}
	}
	if !p.ExpiresAt.IsZero() {
		exp := p.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	return resp
}

// HandleLogin authenticates a credential pair. It accepts a JSON LoginRequest
// or an OAuth-style form post, where every field other than username and
// password becomes a login detail.
func HandleLogin(svc iam.Service, errs *invocation.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, details, err := decodeLogin(w, r)
		if err != nil {
			errs.WriteError(w, r, err)
			return
		}

		var principal *auth.Principal
		err = invocation.Invoke(r.Context(), "login", func(ctx context.Context) error {
			var err error
			principal, err = svc.Login(ctx, creds, details)
			return err
		})
		if err != nil {
			errs.WriteError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newPrincipalResponse(principal))
	}
}

func decodeLogin(w http.ResponseWriter, r *http.Request) (iam.Credentials, iam.LoginDetails, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)
		if err := r.ParseForm(); err != nil {
			return iam.Credentials{}, nil, auth.InvalidRequest("malformed form body")
		}
		creds := iam.Credentials{Username: r.PostForm.Get("username")}
		if r.PostForm.Has("password") {
			password := r.PostForm.Get("password")
			creds.Password = &password
		}
		details := iam.MapDetails{}
		for key, values := range r.PostForm {
			if key == "username" || key == "password" || len(values) == 0 {
				continue
			}
			details[key] = values[0]
		}
		return creds, details, nil
	}

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		return iam.Credentials{}, nil, auth.InvalidRequest("malformed JSON body")
	}
	creds := iam.Credentials{Username: req.Username, Password: req.Password}
	if req.Details == nil {
		return creds, iam.WebFormDetails{Tenant: req.Tenant}, nil
	}
	details := iam.MapDetails(req.Details)
	if _, ok := details[iam.DetailTenant]; !ok && req.Tenant != "" {
		details[iam.DetailTenant] = req.Tenant
	}
	return creds, details, nil
}

// HandleWhoAmI reports the caller's security context, including the offices
// its authorization context covers.
func HandleWhoAmI(errs *invocation.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := auth.Store{}.Current(r.Context())
		if !ok {
			errs.WriteError(w, r, auth.InvalidToken("authentication required", nil))
			return
		}
		authz, err := sc.Authorization()
		if err != nil {
			errs.WriteError(w, r, err)
			return
		}

		offices := authz.Offices()
		if offices == nil {
			offices = []int64{}
		}
		writeJSON(w, http.StatusOK, WhoAmIResponse{
			Principal: newPrincipalResponse(sc.Principal),
			Offices:   offices,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
