package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/unitdeck/internal/dispatcher"
	"github.com/starford/unitdeck/internal/models"
	"github.com/starford/unitdeck/internal/registry"
	"github.com/starford/unitdeck/internal/testutil"
)

func testServer(t *testing.T) (*Server, *testutil.FakeSystemd) {
	t.Helper()

	host := testutil.NewFakeSystemd(
		testutil.Unit{Name: "nginx.service", Description: "nginx web server"},
		testutil.Unit{Name: "cron.service", Description: "periodic jobs", ActiveState: "active", SubState: "running", UnitFileState: "enabled"},
	)
	units := testutil.Reader(host)
	reg := registry.New(units, testutil.TestStore(t), testutil.Logger())
	if res := reg.Refresh(context.Background()); !res.OK {
		t.Fatalf("initial refresh: %+v", res)
	}
	disp := dispatcher.New(host, units, reg, testutil.Logger())
	return New(reg, disp, units, "test"), host
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process "call tool" helper, so handlers are called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_units":
		result, err = srv.listUnits(ctx, req)
	case "get_unit":
		result, err = srv.getUnit(ctx, req)
	case "control_unit":
		result, err = srv.controlUnit(ctx, req)
	case "annotate_unit":
		result, err = srv.annotateUnit(ctx, req)
	case "refresh_units":
		result, err = srv.refreshUnits(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decode(t *testing.T, r *mcp.CallToolResult, v any) {
	t.Helper()
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}
	if err := json.Unmarshal([]byte(resultText(r)), v); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, resultText(r))
	}
}

func TestListUnits(t *testing.T) {
	srv, _ := testServer(t)

	var all unitList
	decode(t, callTool(t, srv, "list_units", map[string]interface{}{}), &all)
	if all.State != registry.StateFresh || len(all.Units) != 2 || all.AsOf == "" {
		t.Errorf("list = %+v", all)
	}

	var filtered unitList
	decode(t, callTool(t, srv, "list_units", map[string]interface{}{"filter": "WEB"}), &filtered)
	if len(filtered.Units) != 1 || filtered.Units[0].Name != "nginx.service" {
		t.Errorf("filtered = %+v", filtered.Units)
	}
}

func TestAnnotateThenListFavorites(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "annotate_unit", map[string]interface{}{
		"name":     "cron.service",
		"favorite": true,
		"group":    "ops",
	})
	var m models.UnitMetadata
	decode(t, r, &m)
	if !m.Favorite || m.Group == nil || *m.Group != "ops" {
		t.Errorf("metadata = %+v", m)
	}

	var favs unitList
	decode(t, callTool(t, srv, "list_units", map[string]interface{}{"favorites_only": true}), &favs)
	if len(favs.Units) != 1 || favs.Units[0].Name != "cron.service" {
		t.Errorf("favorites = %+v", favs.Units)
	}

	// Group is searchable too.
	var byGroup unitList
	decode(t, callTool(t, srv, "list_units", map[string]interface{}{"filter": "ops"}), &byGroup)
	if len(byGroup.Units) != 1 {
		t.Errorf("group filter = %+v", byGroup.Units)
	}
}

func TestAnnotateNothing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "annotate_unit", map[string]interface{}{"name": "cron.service"})
	if !r.IsError {
		t.Error("expected error for empty annotation")
	}
}

func TestGetUnit(t *testing.T) {
	srv, _ := testServer(t)

	var d unitDetail
	decode(t, callTool(t, srv, "get_unit", map[string]interface{}{"name": "cron.service"}), &d)
	if d.Details.MainPID != 4242 || d.Row == nil || d.Row.Name != "cron.service" {
		t.Errorf("detail = %+v", d)
	}

	r := callTool(t, srv, "get_unit", map[string]interface{}{"name": "ghost.service"})
	if !r.IsError {
		t.Error("expected error for unknown unit")
	}
	r = callTool(t, srv, "get_unit", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing name")
	}
}

func TestControlUnit(t *testing.T) {
	srv, host := testServer(t)

	var out dispatcher.Outcome
	decode(t, callTool(t, srv, "control_unit", map[string]interface{}{"name": "nginx.service", "action": "start"}), &out)
	if !out.Accepted || out.Observed == nil || out.Observed.ActiveState != models.ActiveStateActive {
		t.Errorf("outcome = %+v", out)
	}
	if u, _ := host.Get("nginx.service"); u.ActiveState != "active" {
		t.Errorf("host state = %+v", u)
	}

	r := callTool(t, srv, "control_unit", map[string]interface{}{"name": "nginx.service", "action": "reload"})
	if !r.IsError || !strings.Contains(resultText(r), "unknown action") {
		t.Errorf("bad action = %+v", r)
	}
}

func TestControlUnitTimeout(t *testing.T) {
	srv, host := testServer(t)
	host.TimeoutControl(true)

	r := callTool(t, srv, "control_unit", map[string]interface{}{"name": "nginx.service", "action": "restart"})
	if !r.IsError || !strings.Contains(resultText(r), `"accepted": true`) {
		t.Errorf("timeout result = %s", resultText(r))
	}
}

func TestRefreshUnits(t *testing.T) {
	srv, host := testServer(t)
	host.FailList(nil, 1)

	var res registry.RefreshResult
	decode(t, callTool(t, srv, "refresh_units", map[string]interface{}{}), &res)
	if res.OK || res.Units != 2 {
		t.Errorf("refresh = %+v", res)
	}
}

func TestGuideResource(t *testing.T) {
	srv, _ := testServer(t)
	contents, err := srv.readGuideResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != guideURI || !strings.Contains(tc.Text, "active_state") {
		t.Errorf("resource = %+v", contents)
	}
}
