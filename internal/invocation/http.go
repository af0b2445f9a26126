package invocation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/telemetry"
)

// Writer renders translated errors onto HTTP responses and Connect errors.
// A nil *Writer is usable and records no metrics.
type Writer struct {
	Metrics *telemetry.AuthMetrics
}

// WriteError translates err and writes it as a JSON error response.
func (wr *Writer) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	o := wr.outcome(r.Context(), err)

	if o.Category == auth.KindInvalidToken {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(o.Status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: o.Category.String(), Message: o.Message})
}

// ConnectError translates err into a *connect.Error carrying the safe message.
func (wr *Writer) ConnectError(ctx context.Context, err error) *connect.Error {
	o := wr.outcome(ctx, err)
	return connect.NewError(o.Code, errors.New(o.Message))
}

func (wr *Writer) outcome(ctx context.Context, err error) Outcome {
	o := Translate(err)
	Log(ctx, err, o)
	if wr != nil {
		wr.Metrics.RecordTranslation(ctx, o.Category.String())
	}
	return o
}

// WriteError writes err without recording metrics.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	(*Writer)(nil).WriteError(w, r, err)
}

// ConnectError converts err without recording metrics.
func ConnectError(ctx context.Context, err error) *connect.Error {
	return (*Writer)(nil).ConnectError(ctx, err)
}
