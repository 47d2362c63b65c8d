package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cazacugmihai/fleetctl/pkg/apierror"
	"github.com/cazacugmihai/fleetctl/pkg/events"
	"github.com/cazacugmihai/fleetctl/pkg/log"
	"github.com/cazacugmihai/fleetctl/pkg/manager"
	"github.com/cazacugmihai/fleetctl/pkg/metrics"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// Controller is the control plane's REST surface: groups, deployments,
// health, and metrics, routed with gorilla/mux.
type Controller struct {
	manager *manager.GroupManager
	router  *mux.Router
}

// NewController builds a Controller wired to mgr and registers every route.
func NewController(mgr *manager.GroupManager) *Controller {
	r := mux.NewRouter()
	c := &Controller{manager: mgr, router: r}

	r.HandleFunc("/v2/groups", c.getGroup).Methods(http.MethodGet)
	r.HandleFunc("/v2/groups", c.postGroup).Methods(http.MethodPost)
	r.HandleFunc("/v2/groups", c.putGroup).Methods(http.MethodPut)
	r.HandleFunc("/v2/groups", c.deleteGroup).Methods(http.MethodDelete)
	r.HandleFunc("/v2/groups/{id:.+}/versions/{v}", c.getVersion).Methods(http.MethodGet)
	r.HandleFunc("/v2/groups/{id:.+}/versions", c.listVersions).Methods(http.MethodGet)
	r.HandleFunc("/v2/groups/{id:.+}", c.getGroup).Methods(http.MethodGet)
	r.HandleFunc("/v2/groups/{id:.+}", c.postGroup).Methods(http.MethodPost)
	r.HandleFunc("/v2/groups/{id:.+}", c.putGroup).Methods(http.MethodPut)
	r.HandleFunc("/v2/groups/{id:.+}", c.deleteGroup).Methods(http.MethodDelete)

	r.HandleFunc("/v2/deployments", c.listDeployments).Methods(http.MethodGet)
	r.HandleFunc("/v2/deployments/{id}", c.cancelDeployment).Methods(http.MethodDelete)

	r.HandleFunc("/v2/cluster/voters", c.postVoter).Methods(http.MethodPost)
	r.HandleFunc("/v2/cluster/tokens", c.postToken).Methods(http.MethodPost)
	r.HandleFunc("/v2/cluster/tokens", c.listTokens).Methods(http.MethodGet)
	r.HandleFunc("/v2/cluster/tokens/{token}", c.revokeToken).Methods(http.MethodDelete)

	r.Handle("/healthz", metrics.LivenessHandler())
	r.HandleFunc("/readyz", c.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler())

	r.Use(instrumented)

	return c
}

// Router returns the http.Handler serving every registered route.
func (c *Controller) Router() http.Handler {
	return c.router
}

// instrumented records request count and latency for every route, labeled
// by the matched route template rather than the raw path so path
// parameters don't blow up cardinality.
func instrumented(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if tmpl, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil {
			route = tmpl
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func pathParam(r *http.Request) pathid.PathId {
	id, ok := mux.Vars(r)["id"]
	if !ok || id == "" {
		return pathid.Root
	}
	return pathid.New("/" + id)
}

func (c *Controller) getGroup(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	group, ok := c.manager.Group(path)
	if !ok {
		writeError(w, apierror.New(apierror.KindUnknownGroup, "no group at "+path.String()))
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (c *Controller) getVersion(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	v, err := snapshot.Parse(mux.Vars(r)["v"])
	if err != nil {
		writeError(w, apierror.New(apierror.KindUnknownVersion, "malformed version: "+err.Error()))
		return
	}
	group, ok := c.manager.GroupAt(path, v)
	if !ok {
		writeError(w, apierror.New(apierror.KindUnknownVersion, "no group at "+path.String()+" as of "+v.String()))
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (c *Controller) listVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := c.manager.Versions()
	if err != nil {
		writeError(w, apierror.New(apierror.KindRepositoryFailure, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (c *Controller) postGroup(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	if snapshot.Conflicts(c.manager.Root(), path) {
		writeError(w, apierror.New(apierror.KindConflictingPath, "already exists: "+path.String()))
		return
	}
	c.mutate(w, r, path, false)
}

func (c *Controller) putGroup(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	if r.URL.Query().Get("dryRun") == "true" {
		var update snapshot.GroupUpdate
		if err := decodeBody(r, &update); err != nil {
			writeError(w, apierror.New(apierror.KindValidation, err.Error()))
			return
		}
		plan, err := c.manager.DryRunUpdate(path, update, snapshot.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"steps": plan.Steps})
		return
	}
	c.mutate(w, r, path, false)
}

func (c *Controller) mutate(w http.ResponseWriter, r *http.Request, path pathid.PathId, _ bool) {
	var update snapshot.GroupUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, apierror.New(apierror.KindValidation, err.Error()))
		return
	}

	force := r.URL.Query().Get("force") == "true"
	v := snapshot.Now()
	plan, err := c.manager.UpdateRoot(path, update, v, force)
	if err != nil {
		writeError(w, err)
		return
	}

	c.manager.Events().Publish(events.ApiPostEvent, "group updated via API", map[string]string{
		"path": path.String(),
	})

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
		w.Header().Set("Location", "/v2/groups/"+strings.TrimPrefix(path.String(), "/"))
	}
	writeJSON(w, status, map[string]any{"deploymentId": plan.ID, "version": v.String()})
}

func (c *Controller) deleteGroup(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	force := r.URL.Query().Get("force") == "true"
	v := snapshot.Now()

	plan, err := c.manager.DeleteGroup(path, v, force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deploymentId": plan.ID, "version": v.String()})
}

func (c *Controller) listDeployments(w http.ResponseWriter, r *http.Request) {
	plans, err := c.manager.InFlightPlans()
	if err != nil {
		writeError(w, apierror.New(apierror.KindRepositoryFailure, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (c *Controller) cancelDeployment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := c.manager.CancelDeployment(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"canceled": id})
}

type readyResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Message string            `json:"message,omitempty"`
}

// readyz reports whether this node can usefully serve traffic: whether raft
// has a leader (even if it's some other node) and whether the snapshot
// repository responds. It's deliberately separate from /healthz, which only
// asserts the process is alive.
func (c *Controller) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	if c.manager.IsLeader() {
		checks["raft"] = "leader"
	} else if addr := c.manager.LeaderAddr(); addr != "" {
		checks["raft"] = "follower (leader: " + addr + ")"
	} else {
		checks["raft"] = "no leader elected"
		ready = false
		message = "waiting for leader election"
	}

	if _, err := c.manager.Versions(); err != nil {
		checks["storage"] = "error: " + err.Error()
		ready = false
		if message == "" {
			message = "storage not accessible"
		}
	} else {
		checks["storage"] = "ok"
	}

	status := http.StatusOK
	resp := readyResponse{Status: "ready", Checks: checks}
	if !ready {
		status = http.StatusServiceUnavailable
		resp.Status = "not ready"
		resp.Message = message
	}
	writeJSON(w, status, resp)
}

type voterRequest struct {
	NodeID   string `json:"nodeId"`
	BindAddr string `json:"bindAddr"`
	Token    string `json:"token"`
}

// postVoter backs the /v2/cluster/voters admin endpoint GroupManager.Join
// calls on the current leader when a new node joins the raft cluster.
func (c *Controller) postVoter(w http.ResponseWriter, r *http.Request) {
	var req voterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierror.New(apierror.KindValidation, err.Error()))
		return
	}
	if err := c.manager.HandleJoinRequest(manager.JoinRequest{NodeID: req.NodeID, BindAddr: req.BindAddr, Token: req.Token}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"joined": req.NodeID})
}

type tokenRequest struct {
	Role string `json:"role"`
}

// postToken backs the /v2/cluster/tokens admin endpoint: only the leader
// can mint a token a prospective voter then presents to Join.
func (c *Controller) postToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierror.New(apierror.KindValidation, err.Error()))
		return
	}
	if req.Role == "" {
		req.Role = "manager"
	}
	token, err := c.manager.GenerateJoinToken(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// listTokens backs the leader's /v2/cluster/tokens admin endpoint, listing
// every join token not yet expired or revoked.
func (c *Controller) listTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.manager.ListJoinTokens())
}

// revokeToken backs the leader's /v2/cluster/tokens/{token} admin endpoint,
// invalidating a minted token before its natural expiry.
func (c *Controller) revokeToken(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if err := c.manager.RevokeJoinToken(token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"revoked": token})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if apiErr, ok := apierror.As(err); ok {
		payload := map[string]any{"kind": apiErr.Kind, "message": apiErr.Message}
		if apiErr.Fields != nil {
			payload["fields"] = apiErr.Fields
		}
		if apiErr.ConflictingID != "" {
			payload["deploymentId"] = apiErr.ConflictingID
		}
		if apiErr.LeaderAddr != "" {
			payload["leaderAddr"] = apiErr.LeaderAddr
		}
		writeJSON(w, apiErr.Status(), payload)
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
}
