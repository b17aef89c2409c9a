package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/trellis-mcp/trellis-go/internal/audit"
	"github.com/trellis-mcp/trellis-go/internal/childrencache"
	"github.com/trellis-mcp/trellis-go/internal/config"
	"github.com/trellis-mcp/trellis-go/internal/idutil"
	"github.com/trellis-mcp/trellis-go/internal/object"
	"github.com/trellis-mcp/trellis-go/internal/scheduler"
	"github.com/trellis-mcp/trellis-go/internal/tools"
	"github.com/trellis-mcp/trellis-go/internal/trellerr"
)

func newServeCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the seven Trellis tool operations over HTTP",
		Long: `serve is a thin demonstration harness: it exposes createObject,
getObject, updateObject, listBacklog, claimNextTask, completeTask, and
getNextReviewableTask as JSON POST endpoints under /tools/. A real
deployment would front this with whatever RPC framing its agent
transport requires; that framing is intentionally out of scope here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "planning root directory (default: the configured planning_root)")

	return cmd
}

func runServe(cmd *cobra.Command, root string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.LoadSettingsWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if root == "" {
		root = cfg.PlanningRoot
	}

	roots, err := idutil.ResolvePlanningRoot(root)
	if err != nil {
		return fmt.Errorf("resolve planning root: %w", err)
	}
	if cfg.AutoCreateDirs {
		if err := idutil.EnsurePlanningSkeleton(roots.ResolutionRoot); err != nil {
			return fmt.Errorf("create planning skeleton: %w", err)
		}
	}

	// Audit events are discarded (NopSink); serve does not read the
	// debug_mode or log_level settings.
	sink := audit.NopSink{}
	cache := childrencache.New(cfg.CacheMaxItems)
	h := tools.New(roots.ResolutionRoot, cache, sink)

	mux := http.NewServeMux()
	registerRoutes(mux, h)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Serving Trellis tools on %s (planning root: %s)\n", addr, roots.ResolutionRoot)
	return http.ListenAndServe(addr, mux)
}

func registerRoutes(mux *http.ServeMux, h *tools.Handlers) {
	mux.HandleFunc("/tools/createObject", jsonHandler(func(req createObjectRequest) (any, trellerr.List) {
		res, errs := h.CreateObject(tools.CreateParams{
			Kind: object.Kind(req.Kind), Title: req.Title, ParentID: req.ParentID,
			Priority: req.Priority, Prerequisites: req.Prerequisites, Body: req.Body,
			Extra: req.Extra,
		})
		if errs != nil {
			return nil, errs
		}
		return res, nil
	}))

	mux.HandleFunc("/tools/getObject", jsonHandler(func(req getObjectRequest) (any, trellerr.List) {
		res, err := h.GetObject(req.ID, object.Kind(req.Kind))
		if err != nil {
			return nil, trellerr.List{err}
		}
		return res, nil
	}))

	mux.HandleFunc("/tools/updateObject", jsonHandler(func(req updateObjectRequest) (any, trellerr.List) {
		res, deleted, errs := h.UpdateObject(tools.UpdateParams{
			ID: req.ID, KindHint: object.Kind(req.Kind), YAMLPatch: req.YAMLPatch,
			BodyReplace: req.BodyReplace, Force: req.Force,
		})
		if errs != nil {
			return nil, errs
		}
		if deleted != nil {
			return deleted, nil
		}
		return res, nil
	}))

	mux.HandleFunc("/tools/listBacklog", jsonHandler(func(req listBacklogRequest) (any, trellerr.List) {
		res, err := h.ListBacklog(tools.BacklogFilter{Status: object.Status(req.Status), Scope: req.Scope})
		if err != nil {
			return nil, trellerr.List{err}
		}
		return res, nil
	}))

	mux.HandleFunc("/tools/claimNextTask", jsonHandler(func(req claimNextTaskRequest) (any, trellerr.List) {
		res, err := h.ClaimNextTask(scheduler.Params{
			Worktree: req.Worktree, Scope: req.Scope, TaskID: req.TaskID, Force: req.Force,
		})
		if err != nil {
			return nil, trellerr.List{err}
		}
		return res, nil
	}))

	mux.HandleFunc("/tools/completeTask", jsonHandler(func(req completeTaskRequest) (any, trellerr.List) {
		res, err := h.CompleteTask(req.ID, req.Summary, req.FilesChanged)
		if err != nil {
			return nil, trellerr.List{err}
		}
		return res, nil
	}))

	mux.HandleFunc("/tools/getNextReviewableTask", jsonHandler(func(req struct{}) (any, trellerr.List) {
		res, err := h.GetNextReviewableTask()
		if err != nil {
			return nil, trellerr.List{err}
		}
		return res, nil
	}))
}

type createObjectRequest struct {
	Kind          string         `json:"kind"`
	Title         string         `json:"title"`
	ParentID      string         `json:"parentId"`
	Priority      string         `json:"priority"`
	Prerequisites []string       `json:"prerequisites"`
	Body          string         `json:"body"`
	Extra         map[string]any `json:"extra"`
}

type getObjectRequest struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type updateObjectRequest struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	YAMLPatch   map[string]any `json:"yamlPatch"`
	BodyReplace *string        `json:"bodyReplace"`
	Force       bool           `json:"force"`
}

type listBacklogRequest struct {
	Status string `json:"status"`
	Scope  string `json:"scope"`
}

type claimNextTaskRequest struct {
	Worktree string `json:"worktree"`
	Scope    string `json:"scope"`
	TaskID   string `json:"taskId"`
	Force    bool   `json:"force"`
}

type completeTaskRequest struct {
	ID           string   `json:"id"`
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"filesChanged"`
}

type errorResponse struct {
	Errors []trellisErrorPayload `json:"errors"`
}

type trellisErrorPayload struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	ObjectID string            `json:"objectId,omitempty"`
	Kind     string            `json:"kind,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
}

// jsonHandler decodes the request body into T, runs fn, and writes the
// result or error list as JSON. Errors map to 422; a malformed request
// body maps to 400.
func jsonHandler[T any](fn func(T) (any, trellerr.List)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req T
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "malformed request body", http.StatusBadRequest)
				return
			}
		}

		result, errs := fn(req)
		w.Header().Set("Content-Type", "application/json")

		if len(errs) > 0 {
			payload := errorResponse{Errors: make([]trellisErrorPayload, len(errs))}
			for i, e := range errs {
				payload.Errors[i] = trellisErrorPayload{
					Code: string(e.Code), Message: e.Message, ObjectID: e.ObjectID, Kind: e.Kind, Context: e.Context,
				}
			}
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(payload)
			return
		}

		_ = json.NewEncoder(w).Encode(result)
	}
}
