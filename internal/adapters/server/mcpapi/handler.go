// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/adapters/server/common"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/plan"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// toolHandler is the mcp-go tool callback signature.
type toolHandler = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// NewHandler builds one stateless MCP adapter exposing the progress service as tools.
func NewHandler(cfg Config, svc common.ProgressService) (*Handler, error) {
	if svc == nil {
		return nil, fmt.Errorf("progress service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerProjectTools(mcpSrv, svc)
	registerWorkItemTools(mcpSrv, svc)
	registerDependencyTools(mcpSrv, svc)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "weightmap"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerProjectTools registers project and read-model tools.
func registerProjectTools(srv *mcpserver.MCPServer, svc common.ProgressService) {
	srv.AddTool(
		mcp.NewTool(
			"weightmap.list_projects",
			mcp.WithDescription("List projects."),
			mcp.WithBoolean("include_archived", mcp.Description("Include archived projects")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projects, err := svc.ListProjects(ctx, req.GetBool("include_archived", false))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_projects", map[string]any{"projects": projects})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.create_project",
			mcp.WithDescription("Create one project."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
			mcp.WithString("description", mcp.Description("Optional description")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, err := req.RequireString("name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			project, err := svc.CreateProject(ctx, name, req.GetString("description", ""))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("create_project", project)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.update_project",
			mcp.WithDescription("Rename, describe, archive, or restore one project."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithBoolean("archived", mcp.Description("Archive (true) or restore (false)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			name, err := req.RequireString("name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			in := app.UpdateProjectInput{
				ProjectID:   projectID,
				Name:        name,
				Description: req.GetString("description", ""),
			}
			if _, ok := req.GetArguments()["archived"]; ok {
				archived := req.GetBool("archived", false)
				in.Archived = &archived
			}
			project, err := svc.UpdateProject(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("update_project", project)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.project_progress",
			mcp.WithDescription("Return weighted progress, status, and blockers for every item of one project."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		projectRead("project_progress", func(ctx context.Context, projectID string) (any, error) {
			return svc.ProjectProgress(ctx, projectID)
		}),
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.dependency_rollup",
			mcp.WithDescription("Summarize dependency edges and blocked or ready items of one project."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		projectRead("dependency_rollup", func(ctx context.Context, projectID string) (any, error) {
			return svc.DependencyRollup(ctx, projectID)
		}),
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.list_change_events",
			mcp.WithDescription("List recent project change events, newest first."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			events, err := svc.ListProjectChangeEvents(ctx, projectID, req.GetInt("limit", 25))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_change_events", map[string]any{"events": events})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.apply_plan",
			mcp.WithDescription("Create a work breakdown from a YAML plan document."),
			mcp.WithString("plan_yaml", mcp.Required(), mcp.Description("YAML plan with nested items")),
			mcp.WithString("project_id", mcp.Description("Existing project; a new project is created from the plan when empty")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := req.RequireString("plan_yaml")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			p, err := plan.Parse([]byte(raw))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := svc.ApplyPlan(ctx, req.GetString("project_id", ""), p)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("apply_plan", result)
		},
	)
}

// registerWorkItemTools registers work-item mutation tools.
func registerWorkItemTools(srv *mcpserver.MCPServer, svc common.ProgressService) {
	srv.AddTool(
		mcp.NewTool(
			"weightmap.list_work_items",
			mcp.WithDescription("List every work item of one project."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		projectRead("list_work_items", func(ctx context.Context, projectID string) (any, error) {
			items, err := svc.ListWorkItems(ctx, projectID)
			return map[string]any{"items": items}, err
		}),
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.create_work_item",
			mcp.WithDescription("Create one work item, optionally under a parent."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Work item title")),
			mcp.WithString("parent_id", mcp.Description("Parent work item identifier")),
			mcp.WithString("kind", mcp.Description("phase|activity|deliverable|part"), mcp.Enum("phase", "activity", "deliverable", "part")),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithNumber("weight", mcp.Description("Relative weight among siblings")),
			mcp.WithNumber("progress", mcp.Description("Initial progress 0..100")),
			mcp.WithString("due_at", mcp.Description("RFC3339 timestamp or YYYY-MM-DD")),
			mcp.WithArray("dependencies", mcp.Description("Prerequisite work item ids"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			title, err := req.RequireString("title")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			wire := common.CreateWorkItemRequest{
				ParentID:     req.GetString("parent_id", ""),
				Kind:         req.GetString("kind", ""),
				Title:        title,
				Description:  req.GetString("description", ""),
				Progress:     req.GetFloat("progress", 0),
				DueAt:        req.GetString("due_at", ""),
				Dependencies: req.GetStringSlice("dependencies", nil),
			}
			if _, ok := req.GetArguments()["weight"]; ok {
				weight := req.GetFloat("weight", 0)
				wire.Weight = &weight
			}
			in, err := wire.Input(projectID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			item, err := svc.CreateWorkItem(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("create_work_item", item)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.update_work_item",
			mcp.WithDescription("Edit title, description, kind, or due date of one work item."),
			mcp.WithString("work_item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Work item title")),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithString("kind", mcp.Description("phase|activity|deliverable|part")),
			mcp.WithString("due_at", mcp.Description("RFC3339 timestamp or YYYY-MM-DD; empty clears")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("work_item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			title, err := req.RequireString("title")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			in, err := common.UpdateWorkItemRequest{
				Title:       title,
				Description: req.GetString("description", ""),
				Kind:        req.GetString("kind", ""),
				DueAt:       req.GetString("due_at", ""),
			}.Input(itemID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			item, err := svc.UpdateWorkItemDetails(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("update_work_item", item)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.update_progress",
			mcp.WithDescription("Set the progress of one leaf and propagate it to every ancestor."),
			mcp.WithString("work_item_id", mcp.Required(), mcp.Description("Leaf work item identifier")),
			mcp.WithNumber("progress", mcp.Required(), mcp.Description("Progress 0..100")),
		),
		itemFloatMutation("progress", "update_progress", svc.UpdateProgress),
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.update_weight",
			mcp.WithDescription("Change the weight of one work item and recompute its ancestors."),
			mcp.WithString("work_item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithNumber("weight", mcp.Required(), mcp.Description("Non-negative weight")),
		),
		itemFloatMutation("weight", "update_weight", svc.UpdateWeight),
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.reparent_work_item",
			mcp.WithDescription("Move one work item under another parent, or to the top level."),
			mcp.WithString("work_item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithString("parent_id", mcp.Description("New parent identifier; empty moves to the top level")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("work_item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := svc.ReparentWorkItem(ctx, itemID, req.GetString("parent_id", ""))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("reparent_work_item", item)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.set_override",
			mcp.WithDescription("Force or clear the derived status of one work item."),
			mcp.WithString("work_item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithString("override", mcp.Description("blocked|on-hold|completed; empty clears")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("work_item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := svc.SetOverride(ctx, itemID, domain.Override(req.GetString("override", "")))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("set_override", item)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.delete_work_item",
			mcp.WithDescription("Delete one work item. cascade removes its subtree; reparent lifts its children."),
			mcp.WithString("work_item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithString("mode", mcp.Description("cascade|reparent"), mcp.Enum("cascade", "reparent")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("work_item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			removed, err := svc.DeleteWorkItem(ctx, itemID, app.DeleteMode(req.GetString("mode", "")))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("delete_work_item", map[string]any{"removed": removed})
		},
	)
}

// registerDependencyTools registers dependency graph tools.
func registerDependencyTools(srv *mcpserver.MCPServer, svc common.ProgressService) {
	srv.AddTool(
		mcp.NewTool(
			"weightmap.add_dependency",
			mcp.WithDescription("Record that one work item depends on another. Cycles are rejected."),
			mcp.WithString("work_item_id", mcp.Required(), mcp.Description("Dependent work item identifier")),
			mcp.WithString("depends_on_id", mcp.Required(), mcp.Description("Prerequisite work item identifier")),
		),
		edgeMutation("add_dependency", svc.AddDependency),
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.remove_dependency",
			mcp.WithDescription("Remove one dependency edge."),
			mcp.WithString("work_item_id", mcp.Required(), mcp.Description("Dependent work item identifier")),
			mcp.WithString("depends_on_id", mcp.Required(), mcp.Description("Prerequisite work item identifier")),
		),
		edgeMutation("remove_dependency", svc.RemoveDependency),
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.dependency_chain",
			mcp.WithDescription("List every transitive prerequisite of one work item."),
			mcp.WithString("work_item_id", mcp.Required(), mcp.Description("Work item identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("work_item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			chain, err := svc.DependencyChain(ctx, itemID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("dependency_chain", map[string]any{"chain": chain})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"weightmap.dependency_order",
			mcp.WithDescription("List project work items with prerequisites before dependents."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		projectRead("dependency_order", func(ctx context.Context, projectID string) (any, error) {
			items, err := svc.DependencyOrder(ctx, projectID)
			return map[string]any{"items": items}, err
		}),
	)
}

// projectRead adapts one project-scoped read into a tool handler.
func projectRead(name string, read func(context.Context, string) (any, error)) toolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := read(ctx, projectID)
		if err != nil {
			return toolResultFromError(err), nil
		}
		return jsonResult(name, out)
	}
}

// itemFloatMutation adapts one numeric work-item write into a tool handler.
func itemFloatMutation(arg, name string, write func(context.Context, string, float64) ([]domain.WorkItem, error)) toolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := req.RequireString("work_item_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, err := req.RequireFloat(arg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		updated, err := write(ctx, itemID, value)
		if err != nil {
			return toolResultFromError(err), nil
		}
		return jsonResult(name, map[string]any{"updated": updated})
	}
}

// edgeMutation adapts one dependency-edge write into a tool handler.
func edgeMutation(name string, write func(context.Context, string, string) (domain.WorkItem, error)) toolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := req.RequireString("work_item_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		dependsOnID, err := req.RequireString("depends_on_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		item, err := write(ctx, itemID, dependsOnID)
		if err != nil {
			return toolResultFromError(err), nil
		}
		return jsonResult(name, item)
	}
}

// jsonResult encodes one structured tool result.
func jsonResult(name string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", name, err)
	}
	return result, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("unknown error")
	}
	return mcp.NewToolResultError(common.Classify(err).Code + ": " + err.Error())
}
