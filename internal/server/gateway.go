package server

import (
	"context"
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/invocation"
	gwmiddleware "github.com/clinigate/authgw/internal/middleware"
)

const (
	// GatewayServiceName is the fully-qualified name of the gateway's Connect service.
	GatewayServiceName = "authgw.v1.GatewayService"

	// GatewayWhoAmIProcedure is the fully-qualified name of the WhoAmI RPC.
	GatewayWhoAmIProcedure = "/" + GatewayServiceName + "/WhoAmI"
)

// GatewayProcedureScopes lists every gateway RPC and the scopes that admit it.
var GatewayProcedureScopes = gwmiddleware.ProcedureScopes{
	GatewayWhoAmIProcedure: nil,
}

// MountGatewayService mounts the Connect gateway service on r. Requests are
// authenticated and scope-checked before opts.ConnectInterceptors run.
func MountGatewayService(r chi.Router, opts RouterOptions, errs *invocation.Writer) {
	interceptors := append([]connect.Interceptor{
		gwmiddleware.NewAuthnInterceptor(opts.IAM, errs, opts.TokenSources...),
		gwmiddleware.NewScopeInterceptor(GatewayProcedureScopes, errs),
	}, opts.ConnectInterceptors...)

	r.Handle(GatewayWhoAmIProcedure, connect.NewUnaryHandler(
		GatewayWhoAmIProcedure,
		whoAmIRPC(errs),
		connect.WithInterceptors(interceptors...),
	))
}

// whoAmIRPC returns the same document as GET /auth/whoami as a Struct.
func whoAmIRPC(errs *invocation.Writer) func(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
		var doc *structpb.Struct
		err := invocation.Invoke(ctx, "gateway.WhoAmI", func(ctx context.Context) error {
			sc, ok := auth.Store{}.Current(ctx)
			if !ok {
				return auth.InvalidToken("authentication required", nil)
			}
			authz, err := sc.Authorization()
			if err != nil {
				return err
			}
			offices := authz.Offices()
			if offices == nil {
				offices = []int64{}
			}
			doc, err = toStruct(WhoAmIResponse{Principal: newPrincipalResponse(sc.Principal), Offices: offices})
			return err
		})
		if err != nil {
			return nil, errs.ConnectError(ctx, err)
		}
		return connect.NewResponse(doc), nil
	}
}

// toStruct converts a JSON-serializable value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return structpb.NewStruct(fields)
}
