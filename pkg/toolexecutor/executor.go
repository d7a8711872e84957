package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/agentapi/internal/observability"
	"github.com/harun/agentapi/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimeout bounds a single handler call when the caller sets none.
	DefaultTimeout = 30 * time.Second
	maxOutputSize  = 10 * 1024
)

var validParamTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "object": true, "array": true,
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler. It is not modified after registration.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolResult is the envelope form of an execution, for callers that want a value rather than an error.
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    string                 `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolExecutor is the registry: a closed catalog of tools resolved by exact name.
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	mu      sync.RWMutex
}

// Option customizes a ToolExecutor.
type Option func(*ToolExecutor)

// WithTimeout sets the default per-call handler timeout.
func WithTimeout(d time.Duration) Option {
	return func(te *ToolExecutor) {
		if d > 0 {
			te.timeout = d
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *ToolExecutor {
	te := &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(te)
	}
	return te
}

// RegisterTool validates def, compiles its parameter schema and adds it to the catalog.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return &DuplicateToolError{Name: def.Name}
	}

	stored := def
	stored.Parameters = append([]ToolParameter(nil), def.Parameters...)
	te.tools[def.Name] = &stored
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Resolve returns a copy of the named definition.
func (te *ToolExecutor) Resolve(name string) (ToolDefinition, error) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tool, ok := te.tools[name]
	if !ok {
		return ToolDefinition{}, &UnknownToolError{Name: name, Known: te.namesLocked()}
	}
	return *tool, nil
}

// Has reports whether name is registered.
func (te *ToolExecutor) Has(name string) bool {
	te.mu.RLock()
	defer te.mu.RUnlock()
	_, ok := te.tools[name]
	return ok
}

// ListTools returns the registered names in sorted order.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.namesLocked()
}

// Definitions returns the catalog sorted by name.
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, name := range te.namesLocked() {
		defs = append(defs, *te.tools[name])
	}
	return defs
}

// GetToolCount returns the number of registered tools.
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return len(te.tools)
}

func (te *ToolExecutor) namesLocked() []string {
	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named tool and returns its output as text.
//
// An unregistered name yields *UnknownToolError. Everything that goes wrong after
// resolution (bad parameters, handler error, panic, timeout) yields *ToolExecutionError.
func (te *ToolExecutor) Invoke(ctx context.Context, name string, params map[string]interface{}) (string, error) {
	te.mu.RLock()
	tool := te.tools[name]
	schema := te.schemas[name]
	timeout := te.timeout
	te.mu.RUnlock()

	if tool == nil {
		return "", &UnknownToolError{Name: name, Known: te.ListTools()}
	}

	if execCtx := ExecContextFromContext(ctx); execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	ctx, span := tracing.StartSpan(ctx, tracing.TracerTools, "tool.execute", attribute.String("tool.name", name))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("tool", name).Logger()
	start := time.Now()

	output, err := te.run(ctx, tool, schema, params, timeout)
	duration := time.Since(start)
	observability.RecordToolExecution(name, duration, err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Dur("duration", duration).Msg("Tool execution failed")
		return "", &ToolExecutionError{ToolName: name, Cause: err}
	}

	logger.Debug().Dur("duration", duration).Int("output_len", len(output)).Msg("Tool execution completed")
	return output, nil
}

// Execute is Invoke reported as a ToolResult.
func (te *ToolExecutor) Execute(ctx context.Context, name string, params map[string]interface{}) ToolResult {
	start := time.Now()
	output, err := te.Invoke(ctx, name, params)
	meta := map[string]interface{}{"duration": time.Since(start).Milliseconds()}
	if err != nil {
		return ToolResult{Success: false, Error: err.Error(), Metadata: meta}
	}
	return ToolResult{
		Success:   true,
		Output:    output,
		Truncated: strings.HasSuffix(output, truncationMarker),
		Metadata:  meta,
	}
}

func (te *ToolExecutor) run(ctx context.Context, tool *ToolDefinition, schema *gojsonschema.Schema, params map[string]interface{}, timeout time.Duration) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(schema, params); err != nil {
		return "", fmt.Errorf("parameter validation failed: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := tool.Handler(runCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return "", out.err
		}
		text, err := stringify(out.value)
		if err != nil {
			return "", err
		}
		return truncateOutput(text), nil
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("tool execution timeout after %v", timeout)
	}
}

func stringify(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool output: %w", err)
		}
		return string(data), nil
	}
}

const truncationMarker = "\n... [output truncated]"

func truncateOutput(text string) string {
	if len(text) <= maxOutputSize {
		return text
	}
	// Cut on a rune boundary so the engine never sees half a character.
	cut := maxOutputSize
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	log.Warn().Int("original", len(text)).Int("truncated", cut).Msg("Output truncated")
	return text[:cut] + truncationMarker
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validParamTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// SchemaFor renders the JSON schema object of a definition, as sent to reasoning engines.
func SchemaFor(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(SchemaFor(def)))
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	return nil
}
