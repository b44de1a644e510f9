package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/adapters/server"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/adapters/server/common"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/adapters/snapshotstore"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/plan"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/tui"
)

// newServeCommand runs the HTTP API and MCP server.
func newServeCommand(opts *rootOptions, stderr io.Writer) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				cfg := server.Config{
					HTTPBind:      rt.cfg.Server.Bind,
					APIEndpoint:   rt.cfg.Server.APIEndpoint,
					MCPEndpoint:   rt.cfg.Server.MCPEndpoint,
					ServerVersion: version,
				}
				if strings.TrimSpace(bind) != "" {
					cfg.HTTPBind = bind
				}
				return server.Run(ctx, cfg, server.Dependencies{
					Service: rt.svc,
					Ready:   rt.repo.Ping,
					Logger:  rt.logger.Component("http"),
				})
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address (defaults to server.bind from config)")
	return cmd
}

// newProjectCommand groups project commands.
func newProjectCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}

	var description string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				project, err := rt.svc.CreateProject(ctx, args[0], description)
				if err != nil {
					return err
				}
				return writeJSON(stdout, project)
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "project description")

	var includeArchived bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				projects, err := rt.svc.ListProjects(ctx, includeArchived)
				if err != nil {
					return err
				}
				return writeJSON(stdout, projects)
			})
		},
	}
	list.Flags().BoolVar(&includeArchived, "all", false, "include archived projects")

	var limit int
	events := &cobra.Command{
		Use:   "events PROJECT_ID",
		Short: "List recent change events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				rows, err := rt.svc.ListProjectChangeEvents(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return writeJSON(stdout, rows)
			})
		},
	}
	events.Flags().IntVar(&limit, "limit", 20, "maximum rows")

	order := &cobra.Command{
		Use:   "order PROJECT_ID",
		Short: "List items so every prerequisite comes first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				items, err := rt.svc.DependencyOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(stdout, items)
			})
		},
	}

	rollup := &cobra.Command{
		Use:   "rollup PROJECT_ID",
		Short: "Summarize dependency edges and blocked items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				summary, err := rt.svc.DependencyRollup(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(stdout, summary)
			})
		},
	}

	cmd.AddCommand(create, list, events, order, rollup)
	return cmd
}

// itemAddFlags holds flags for `item add`.
type itemAddFlags struct {
	parent      string
	kind        string
	description string
	weight      float64
	progress    float64
	due         string
	dependsOn   []string
}

// newItemCommand groups work-item commands.
func newItemCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Manage work items"}

	var add itemAddFlags
	addCmd := &cobra.Command{
		Use:   "add PROJECT_ID TITLE",
		Short: "Add a work item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				req := common.CreateWorkItemRequest{
					ParentID:     add.parent,
					Kind:         add.kind,
					Title:        args[1],
					Description:  add.description,
					Progress:     add.progress,
					DueAt:        add.due,
					Dependencies: add.dependsOn,
				}
				if cmd.Flags().Changed("weight") {
					weight := add.weight
					req.Weight = &weight
				}
				in, err := req.Input(args[0])
				if err != nil {
					return err
				}
				item, err := rt.svc.CreateWorkItem(ctx, in)
				if err != nil {
					return err
				}
				return writeJSON(stdout, item)
			})
		},
	}
	addCmd.Flags().StringVar(&add.parent, "parent", "", "parent work item id")
	addCmd.Flags().StringVar(&add.kind, "kind", "", "phase|activity|deliverable|part")
	addCmd.Flags().StringVar(&add.description, "description", "", "description")
	addCmd.Flags().Float64Var(&add.weight, "weight", 0, "relative weight among siblings")
	addCmd.Flags().Float64Var(&add.progress, "progress", 0, "initial progress 0..100")
	addCmd.Flags().StringVar(&add.due, "due", "", "due date (YYYY-MM-DD or RFC3339)")
	addCmd.Flags().StringSliceVar(&add.dependsOn, "depends-on", nil, "prerequisite work item ids")

	progress := &cobra.Command{
		Use:   "progress ITEM_ID PERCENT",
		Short: "Set leaf progress and roll it up",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseFloatArg("progress", args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				updated, err := rt.svc.UpdateProgress(ctx, args[0], value)
				if err != nil {
					return err
				}
				return writeJSON(stdout, updated)
			})
		},
	}

	weight := &cobra.Command{
		Use:   "weight ITEM_ID WEIGHT",
		Short: "Change an item's weight",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseFloatArg("weight", args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				updated, err := rt.svc.UpdateWeight(ctx, args[0], value)
				if err != nil {
					return err
				}
				return writeJSON(stdout, updated)
			})
		},
	}

	var moveParent string
	move := &cobra.Command{
		Use:   "move ITEM_ID",
		Short: "Move an item under another parent (omit --parent for top level)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				item, err := rt.svc.ReparentWorkItem(ctx, args[0], moveParent)
				if err != nil {
					return err
				}
				return writeJSON(stdout, item)
			})
		},
	}
	move.Flags().StringVar(&moveParent, "parent", "", "new parent work item id")

	override := &cobra.Command{
		Use:   "override ITEM_ID [blocked|on-hold|completed|none]",
		Short: "Force or clear an item's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				item, err := rt.svc.SetOverride(ctx, args[0], domain.Override(args[1]))
				if err != nil {
					return err
				}
				return writeJSON(stdout, item)
			})
		},
	}

	var deleteMode string
	deleteCmd := &cobra.Command{
		Use:   "delete ITEM_ID",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				removed, err := rt.svc.DeleteWorkItem(ctx, args[0], app.DeleteMode(deleteMode))
				if err != nil {
					return err
				}
				return writeJSON(stdout, map[string]any{"removed": removed})
			})
		},
	}
	deleteCmd.Flags().StringVar(&deleteMode, "mode", "", "cascade|reparent (defaults to delete.default_mode)")

	depend := &cobra.Command{
		Use:   "depend ITEM_ID DEPENDS_ON_ID",
		Short: "Record a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				item, err := rt.svc.AddDependency(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(stdout, item)
			})
		},
	}

	undepend := &cobra.Command{
		Use:   "undepend ITEM_ID DEPENDS_ON_ID",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				item, err := rt.svc.RemoveDependency(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(stdout, item)
			})
		},
	}

	chain := &cobra.Command{
		Use:   "chain ITEM_ID",
		Short: "List transitive prerequisites",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				items, err := rt.svc.DependencyChain(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(stdout, items)
			})
		},
	}

	cmd.AddCommand(addCmd, progress, weight, move, override, deleteCmd, depend, undepend, chain)
	return cmd
}

// newReportCommand prints a project's progress tree.
func newReportCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report PROJECT_ID",
		Short: "Print weighted progress, status, and blockers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				progress, err := rt.svc.ProjectProgress(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(stdout, progress)
				}
				_, err = io.WriteString(stdout, renderReport(progress))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// newPlanCommand groups plan-file commands.
func newPlanCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Work with YAML plan files"}

	var projectID string
	apply := &cobra.Command{
		Use:   "apply FILE",
		Short: "Create work items from a YAML plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				result, err := rt.svc.ApplyPlan(ctx, projectID, p)
				if err != nil {
					return err
				}
				return writeJSON(stdout, result)
			})
		},
	}
	apply.Flags().StringVar(&projectID, "project", "", "existing project id (a new project is created when empty)")

	cmd.AddCommand(apply)
	return cmd
}

// newExportCommand writes a snapshot to a file, stdout, or the snapshot bucket.
func newExportCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		outPath         string
		s3Key           string
		includeArchived bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				snap, err := rt.svc.ExportSnapshot(ctx, includeArchived)
				if err != nil {
					return fmt.Errorf("export snapshot: %w", err)
				}
				if strings.TrimSpace(s3Key) != "" {
					store, err := openSnapshotStore(rt)
					if err != nil {
						return err
					}
					if err := store.Put(ctx, s3Key, snap); err != nil {
						return err
					}
					rt.logger.Info("snapshot uploaded", "key", s3Key, "projects", len(snap.Projects))
					return nil
				}
				encoded, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return fmt.Errorf("encode snapshot json: %w", err)
				}
				encoded = append(encoded, '\n')
				if outPath == "-" {
					if _, err := stdout.Write(encoded); err != nil {
						return fmt.Errorf("write snapshot to stdout: %w", err)
					}
					return nil
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create export output dir: %w", err)
				}
				if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	cmd.Flags().StringVar(&s3Key, "s3-key", "", "upload to the configured snapshot bucket under this key")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", true, "include archived projects")
	return cmd
}

// newImportCommand reads a snapshot from a file or the snapshot bucket.
func newImportCommand(opts *rootOptions, stderr io.Writer) *cobra.Command {
	var inPath, s3Key string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(inPath) == "" && strings.TrimSpace(s3Key) == "" {
				return fmt.Errorf("--in or --s3-key is required")
			}
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				var snap app.Snapshot
				if strings.TrimSpace(s3Key) != "" {
					store, err := openSnapshotStore(rt)
					if err != nil {
						return err
					}
					if snap, err = store.Get(ctx, s3Key); err != nil {
						return err
					}
				} else {
					content, err := os.ReadFile(inPath)
					if err != nil {
						return fmt.Errorf("read import file: %w", err)
					}
					if err := json.Unmarshal(content, &snap); err != nil {
						return fmt.Errorf("decode snapshot json: %w", err)
					}
				}
				if err := rt.svc.ImportSnapshot(ctx, snap); err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
				rt.logger.Info("snapshot imported", "projects", len(snap.Projects), "work_items", len(snap.WorkItems))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot JSON file")
	cmd.Flags().StringVar(&s3Key, "s3-key", "", "download from the configured snapshot bucket")
	return cmd
}

// newSnapshotsCommand lists snapshots in the configured bucket.
func newSnapshotsCommand(opts *rootOptions, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "snapshots", Short: "Inspect remote snapshots"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshot keys in the configured bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				store, err := openSnapshotStore(rt)
				if err != nil {
					return err
				}
				keys, err := store.List(ctx)
				if err != nil {
					return err
				}
				return writeJSON(stdout, keys)
			})
		},
	})
	return cmd
}

// openSnapshotStore builds the S3 snapshot store from config.
func openSnapshotStore(rt *cliRuntime) (*snapshotstore.Store, error) {
	sc := rt.cfg.Snapshots
	if !sc.Enabled() {
		return nil, fmt.Errorf("remote snapshots are not configured: set [snapshots] endpoint in config")
	}
	return snapshotstore.New(snapshotstore.Config{
		Endpoint:  sc.Endpoint,
		Region:    sc.Region,
		AccessKey: sc.AccessKey,
		SecretKey: sc.SecretKey,
		Bucket:    sc.Bucket,
		Prefix:    sc.Prefix,
		UseSSL:    sc.UseSSL,
	})
}

// newBoardCommand opens the interactive progress board for one project.
func newBoardCommand(opts *rootOptions, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "board PROJECT_ID",
		Short: "Browse and edit a project's progress interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, stderr, func(ctx context.Context, rt *cliRuntime) error {
				if _, err := rt.svc.GetProject(ctx, args[0]); err != nil {
					return err
				}
				// The board owns the terminal; runtime logs go to the dev file only.
				rt.logger.SetConsoleEnabled(false)
				defer rt.logger.SetConsoleEnabled(true)
				_, err := programFactory(tui.NewModel(rt.svc, args[0])).Run()
				return err
			})
		},
	}
}

// parseFloatArg parses one numeric positional argument.
func parseFloatArg(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %q", name, raw)
	}
	return v, nil
}

// writeJSON prints one indented JSON document.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
