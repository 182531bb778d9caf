// Package httpapi exposes the host's debug/introspection HTTP surface and
// its Prometheus metrics endpoint, routed with gorilla/mux exactly as
// hscontrol/noise.go routes the machine API: a single mux.Router with a
// logging middleware installed via router.Use, and one HandleFunc per
// resource.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/b0czek/eden/internal/appbus"
	"github.com/b0czek/eden/internal/subscription"
	"github.com/b0czek/eden/internal/viewmanager"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// AppBusInspector is satisfied by internal/appbus.Bus.
type AppBusInspector interface {
	ListServices() []appbus.ServiceInfo
}

// SubscriptionInspector is satisfied by internal/subscription.Bus.
type SubscriptionInspector interface {
	Subjects() []subscription.SubjectSnapshot
}

// ViewInspector is satisfied by internal/viewmanager.Manager.
type ViewInspector interface {
	OrderedStack() []*viewmanager.View
}

// ProcessController is satisfied by internal/lifecycle.Manager: edenctl's
// force-stop command.
type ProcessController interface {
	Stop(appID string) error
	GetRunningApps() []string
}

// GrantController is satisfied by internal/session.Manager: edenctl's
// grant/revoke/login/logout commands.
type GrantController interface {
	Grant(permission string) error
	Revoke(permission string) error
	Login(username, password string) error
	Logout()
}

// NewRouter builds the /debug/*, /control/*, and /metrics mux.Router.
func NewRouter(bus AppBusInspector, subs SubscriptionInspector, views ViewInspector, proc ProcessController, grants GrantController, logger zerolog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	router.HandleFunc("/debug/appbus", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, bus.ListServices())
	}).Methods(http.MethodGet)

	router.HandleFunc("/debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, subs.Subjects())
	}).Methods(http.MethodGet)

	router.HandleFunc("/debug/views", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, views.OrderedStack())
	}).Methods(http.MethodGet)

	router.HandleFunc("/debug/apps", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, proc.GetRunningApps())
	}).Methods(http.MethodGet)

	router.HandleFunc("/control/stop/{appId}", func(w http.ResponseWriter, r *http.Request) {
		appID := mux.Vars(r)["appId"]
		if err := proc.Stop(appID); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.HandleFunc("/control/grant/{permission:.+}", func(w http.ResponseWriter, r *http.Request) {
		if err := grants.Grant(mux.Vars(r)["permission"]); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.HandleFunc("/control/revoke/{permission:.+}", func(w http.ResponseWriter, r *http.Request) {
		if err := grants.Revoke(mux.Vars(r)["permission"]); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.HandleFunc("/control/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := grants.Login(body.Username, body.Password); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.HandleFunc("/control/logout", func(w http.ResponseWriter, r *http.Request) {
		grants.Logout()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

func loggingMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("debug http request")
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
