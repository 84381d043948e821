package dispatch

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names exposed to external agents.
const (
	ToolGetContext    = "get_context"
	ToolUpdateMission = "update_mission"
)

// Catalog is the fixed set of tools served by tools/list and accepted by
// tools/call. Each tool's input schema is compiled once and used to check
// call arguments.
type Catalog struct {
	tools   []mcp.Tool
	schemas map[string]*jsonschema.Schema
}

// NewCatalog builds the catalog and compiles every input schema.
func NewCatalog() (*Catalog, error) {
	tools := []mcp.Tool{
		mcp.NewTool(ToolGetContext,
			mcp.WithDescription("Read the desktop's current operating state and the number of tasks on the board."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		mcp.NewTool(ToolUpdateMission,
			mcp.WithDescription("Move a task to a new status on the desktop board. Allowed statuses: todo, doing, done."),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("Id of the task to update"),
			),
			mcp.WithString("status",
				mcp.Required(),
				mcp.Description("New status: todo, doing or done"),
			),
			mcp.WithString("comment",
				mcp.Description("Optional note recorded in the task's activity log"),
			),
		),
	}

	c := &Catalog{tools: tools, schemas: make(map[string]*jsonschema.Schema, len(tools))}
	compiler := jsonschema.NewCompiler()
	for _, t := range tools {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", t.Name, err)
		}
		schema, err := compiler.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", t.Name, err)
		}
		c.schemas[t.Name] = schema
	}
	return c, nil
}

// Tools returns the tool definitions in catalog order.
func (c *Catalog) Tools() []mcp.Tool {
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Has reports whether name is a known tool.
func (c *Catalog) Has(name string) bool {
	_, ok := c.schemas[name]
	return ok
}

// Names returns the sorted tool names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.schemas))
	for n := range c.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks args against the named tool's input schema.
func (c *Catalog) Validate(name string, args map[string]any) error {
	schema, ok := c.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	result := schema.Validate(args)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(violations(result.ToList(false), args), "; "))
}

// violations flattens an evaluation list into sorted messages, each
// prefixed with the offending argument. The "properties" summary errors
// and the null-type errors of missing arguments are dropped: the detail
// and "required" errors already name them.
func violations(list *jsonschema.List, args map[string]any) []string {
	var out []string
	add := func(location string, errs map[string]string) {
		arg := strings.TrimPrefix(location, "/")
		if _, present := args[arg]; arg != "" && !present {
			return
		}
		for keyword, msg := range errs {
			if keyword == "properties" {
				continue
			}
			if arg != "" {
				msg = arg + ": " + msg
			}
			out = append(out, msg)
		}
	}
	add(list.InstanceLocation, list.Errors)
	for _, d := range list.Details {
		add(d.InstanceLocation, d.Errors)
	}
	if len(out) == 0 {
		return []string{"arguments do not match the input schema"}
	}
	sort.Strings(out)
	return slices.Compact(out)
}
