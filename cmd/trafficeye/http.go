package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"trafficeye/internal/auth"
	mw "trafficeye/internal/middleware"
	"trafficeye/internal/services"
	"trafficeye/internal/ws"
)

// publicPaths are served without a token
var publicPaths = []string{"/healthz", "/api/auth/login"}

// handleHTTPServer configures and starts a HTTP server on the given address.
// It shuts down the server when ctx is cancelled.
func handleHTTPServer(ctx context.Context, addr string, api *services.Server, wsHandler *ws.Handler, authenticator *auth.Authenticator, wg *sync.WaitGroup, errc chan error, logger *log.Logger, debug bool) {
	handler := newHandler(api, wsHandler, authenticator, logger, debug)

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, m := range api.Mounts {
		logger.Printf("HTTP mounted on %s", m)
	}
	logger.Printf("HTTP mounted on GET %s{camera_id}", ws.PathPrefix)

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Printf("HTTP server listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}

// newHandler builds the API muxer with its middleware chain. Websocket
// upgrades bypass the request logger, which does not hijack connections.
func newHandler(api *services.Server, wsHandler *ws.Handler, authenticator *auth.Authenticator, logger *log.Logger, debug bool) http.Handler {
	// Setup goa log adapter.
	var (
		adapter middleware.Logger
	)
	{
		adapter = middleware.NewLogger(logger)
	}

	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}
	api.Mount(mux)

	var apiHandler http.Handler = mux
	{
		if debug {
			apiHandler = httpmdlwr.Debug(mux, os.Stdout)(apiHandler)
		}
		apiHandler = mw.AuthMiddleware(authenticator, publicPaths...)(apiHandler)
		apiHandler = httpmdlwr.Log(adapter)(apiHandler)
		apiHandler = httpmdlwr.RequestID()(apiHandler)
	}

	wsAuthed := mw.AuthMiddleware(authenticator)(wsHandler)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, ws.PathPrefix) {
			wsAuthed.ServeHTTP(w, r)
			return
		}
		apiHandler.ServeHTTP(w, r)
	})
}
