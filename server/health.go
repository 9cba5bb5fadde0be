package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"

	"github.com/lumenid/issuer/storage"
)

// storageHealthCheckFunc is the periodic check wired into the
// server's gosundheit.Health: a cheap, harmless read against the
// storage gateway, so a misconfigured or unreachable backend flips
// /readyz before a real request ever hits it.
func storageHealthCheckFunc(gw storage.Gateway, now func() time.Time) func(context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		var dest struct{}
		err := gw.Get(ctx, storage.TableClients, "__readyz_probe__", &dest)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, nil
	}
}

// handleHealthz is a liveness probe: always 200 once the process is up
// and routing requests, the same Kubernetes-style split dex's
// /healthz/live endpoint makes between "is the process alive" and
// "is it ready to take traffic".
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz is a readiness probe backed by the gosundheit health
// checker's registered periodic checks.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	gosundheithttp.HandleHealthJSON(s.healthChecker).ServeHTTP(w, r)
}
