package grpcservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"go.klb.dev/wlsel/internal/compositor"
)

// SourceHeader names the HTTP header that plays the role of MDSource.
const SourceHeader = "X-Wlsel-Source"

// RegisterGateway adds the HTTP routes for s to mux:
//
//	GET    /v1/status
//	GET    /v1/selection/{kind}?mime=TYPE
//	PUT    /v1/selection/{kind}   body typed by Content-Type
//	DELETE /v1/selection/{kind}
//
// Payloads are served raw; status is rendered with the mux's marshaler.
// PUT bodies larger than maxBody bytes are rejected; zero means no limit.
func RegisterGateway(mux *gwruntime.ServeMux, s *Service, maxBody int64) error {
	routes := []struct {
		method, path string
		h            gwruntime.HandlerFunc
	}{
		{http.MethodGet, "/v1/status", s.httpStatus(mux)},
		{http.MethodGet, "/v1/selection/{kind}", s.httpPaste(mux)},
		{http.MethodPut, "/v1/selection/{kind}", s.httpCopy(mux, maxBody)},
		{http.MethodDelete, "/v1/selection/{kind}", s.httpClear(mux)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return fmt.Errorf("route %s %s: %w", rt.method, rt.path, err)
		}
	}
	return nil
}

// incoming builds the context a gRPC call with the same parameters would
// carry.
func incoming(r *http.Request, kind, mimeType string) context.Context {
	md := metadata.MD{}
	if v := r.Header.Get("Authorization"); v != "" {
		md.Set("authorization", v)
	}
	source := r.Header.Get(SourceHeader)
	if source == "" {
		source = "http:" + r.RemoteAddr
	}
	md.Set(MDSource, source)
	if kind != "" {
		md.Set(MDSelection, kind)
	}
	if mimeType != "" {
		md.Set(MDMime, mimeType)
	}
	return metadata.NewIncomingContext(r.Context(), md)
}

func httpError(ctx context.Context, mux *gwruntime.ServeMux, w http.ResponseWriter, r *http.Request, err error) {
	_, outbound := gwruntime.MarshalerForRequest(mux, r)
	gwruntime.HTTPError(ctx, mux, outbound, w, r, err)
}

func (s *Service) httpStatus(mux *gwruntime.ServeMux) gwruntime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		ctx := incoming(r, "", "")
		st, err := s.Status(ctx, &emptypb.Empty{})
		if err != nil {
			httpError(ctx, mux, w, r, err)
			return
		}
		_, outbound := gwruntime.MarshalerForRequest(mux, r)
		buf, err := outbound.Marshal(st)
		if err != nil {
			httpError(ctx, mux, w, r, status.Error(codes.Internal, err.Error()))
			return
		}
		w.Header().Set("Content-Type", outbound.ContentType(st))
		_, _ = w.Write(buf)
	}
}

func (s *Service) httpPaste(mux *gwruntime.ServeMux) gwruntime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx := incoming(r, params["kind"], "")
		if err := s.auth(ctx); err != nil {
			httpError(ctx, mux, w, r, err)
			return
		}
		kind, err := compositor.ParseKind(params["kind"])
		if err != nil {
			httpError(ctx, mux, w, r, toStatus(err))
			return
		}
		it, err := s.paste(ctx, sourceFromCtx(ctx, ""), kind, r.URL.Query().Get("mime"))
		if err != nil {
			httpError(ctx, mux, w, r, toStatus(err))
			return
		}
		w.Header().Set("Content-Type", it.Mime)
		_, _ = w.Write(it.Data)
	}
}

func (s *Service) httpCopy(mux *gwruntime.ServeMux, maxBody int64) gwruntime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx := incoming(r, params["kind"], mediaType(r.Header.Get("Content-Type")))
		body := r.Body
		if maxBody > 0 {
			body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				err = status.Errorf(codes.ResourceExhausted, "body exceeds %d bytes", tooLarge.Limit)
			} else {
				err = status.Error(codes.InvalidArgument, err.Error())
			}
			httpError(ctx, mux, w, r, err)
			return
		}
		if _, err := s.Copy(ctx, wrapperspb.Bytes(data)); err != nil {
			httpError(ctx, mux, w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) httpClear(mux *gwruntime.ServeMux) gwruntime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx := incoming(r, params["kind"], "")
		if _, err := s.Clear(ctx, &emptypb.Empty{}); err != nil {
			httpError(ctx, mux, w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// mediaType strips parameters from a Content-Type value. A bare text/plain
// is kept as is so it resolves to the canonical text type downstream.
func mediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, params, err := mime.ParseMediaType(v)
	if err != nil {
		return v
	}
	if cs := params["charset"]; mt == "text/plain" && cs != "" && !strings.EqualFold(cs, "utf-8") {
		return v
	}
	return mt
}
