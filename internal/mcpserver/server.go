// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes unit inspection and control tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/unitdeck/internal/dispatcher"
	"github.com/starford/unitdeck/internal/models"
	"github.com/starford/unitdeck/internal/registry"
	"github.com/starford/unitdeck/internal/systemd"
)

const guideURI = "unitdeck://unit-states"

// Server wraps the MCP server with unit tools.
type Server struct {
	mcp        *server.MCPServer
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	units      *systemd.Reader
}

// New creates a new MCP server with all unit tools registered.
func New(reg *registry.Registry, disp *dispatcher.Dispatcher, units *systemd.Reader, version string) *Server {
	s := &Server{registry: reg, dispatcher: disp, units: units}

	s.mcp = server.NewMCPServer(
		"unitdeck",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_units",
		mcp.WithDescription("List systemd units with their state and stored metadata (favorite, group, note)."),
		mcp.WithString("filter", mcp.Description("Optional case-insensitive substring matched against name, description and group")),
		mcp.WithBoolean("favorites_only", mcp.Description("Only return units marked as favorite")),
	), s.listUnits)

	s.mcp.AddTool(mcp.NewTool("get_unit",
		mcp.WithDescription("Read one unit live from systemd, including main PID, memory and uptime."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full unit name (e.g. nginx.service)")),
	), s.getUnit)

	s.mcp.AddTool(mcp.NewTool("control_unit",
		mcp.WithDescription("Run a control action against a unit. Only one action per unit may be in flight; "+
			"a concurrent request is rejected with accepted=false. Read the "+guideURI+" resource for state meanings."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full unit name (e.g. nginx.service)")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum(string(models.ActionStart), string(models.ActionStop), string(models.ActionRestart),
				string(models.ActionEnable), string(models.ActionDisable)),
			mcp.Description("Action to run")),
	), s.controlUnit)

	s.mcp.AddTool(mcp.NewTool("annotate_unit",
		mcp.WithDescription("Set favorite, group or note on a unit. Omitted fields are unchanged; an empty string clears group or note."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full unit name (e.g. nginx.service)")),
		mcp.WithBoolean("favorite", mcp.Description("Mark or unmark as favorite")),
		mcp.WithString("group", mcp.Description("Group label")),
		mcp.WithString("note", mcp.Description("Free-form note")),
	), s.annotateUnit)

	s.mcp.AddTool(mcp.NewTool("refresh_units",
		mcp.WithDescription("Re-list all units now. On failure the previous view is kept and ok=false is returned."),
	), s.refreshUnits)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Unit States",
			mcp.WithResourceDescription("What the active and enabled states reported by the tools mean."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

type unitList struct {
	State registry.State `json:"state"`
	AsOf  string         `json:"as_of,omitempty"`
	Units []registry.Row `json:"units"`
}

func (s *Server) listUnits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := strings.ToLower(req.GetString("filter", ""))
	favorites := req.GetBool("favorites_only", false)

	v := s.registry.CurrentView()
	out := unitList{State: s.registry.State(), Units: []registry.Row{}}
	if !v.AsOf.IsZero() {
		out.AsOf = v.AsOf.UTC().Format(time.RFC3339)
	}
	for _, row := range v.Rows {
		if favorites && !row.Favorite {
			continue
		}
		if filter != "" && !matches(row, filter) {
			continue
		}
		out.Units = append(out.Units, row)
	}
	return jsonResult(out)
}

func matches(row registry.Row, filter string) bool {
	if strings.Contains(strings.ToLower(row.Name), filter) ||
		strings.Contains(strings.ToLower(row.Description), filter) {
		return true
	}
	return row.Group != nil && strings.Contains(strings.ToLower(*row.Group), filter)
}

type unitDetail struct {
	Unit    models.UnitSnapshot `json:"unit"`
	Details models.UnitDetails  `json:"details"`
	Row     *registry.Row       `json:"metadata,omitempty"`
}

func (s *Server) getUnit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	unit, details, err := s.units.Status(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := unitDetail{Unit: unit, Details: details}
	if row, rerr := s.registry.Unit(name); rerr == nil {
		out.Row = &row
	}
	return jsonResult(out)
}

func (s *Server) controlUnit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, ok := models.ParseAction(raw)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", raw)), nil
	}
	out, err := s.dispatcher.Execute(ctx, name, action)
	if err != nil {
		if !out.Accepted {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultError(err.Error() + "\n" + string(data)), nil
	}
	return jsonResult(out)
}

func (s *Server) annotateUnit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	var fields models.MetadataFields
	if _, ok := args["favorite"]; ok {
		fav := req.GetBool("favorite", false)
		fields.Favorite = &fav
	}
	if _, ok := args["group"]; ok {
		g := req.GetString("group", "")
		fields.Group = &g
	}
	if _, ok := args["note"]; ok {
		n := req.GetString("note", "")
		fields.Note = &n
	}
	if fields.Empty() {
		return mcp.NewToolResultError("nothing to change: pass favorite, group or note"), nil
	}
	m, err := s.registry.UpdateMetadata(ctx, name, fields)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(m)
}

func (s *Server) refreshUnits(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.registry.Refresh(ctx))
}

func (s *Server) readGuideResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     UnitStatesGuide,
		},
	}, nil
}
