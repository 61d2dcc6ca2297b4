package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultTimeout bounds tool executions whose descriptor leaves Timeout at
// zero. A negative descriptor timeout disables the bound entirely.
const DefaultTimeout = 30 * time.Second

type entry struct {
	tool         Tool
	desc         Descriptor
	inputSchema  *gojsonschema.Schema
	outputSchema *gojsonschema.Schema
	semaphore    chan struct{}
}

// Catalog is the central registry for tools. It compiles JSON schemas once
// at registration and owns one concurrency semaphore per tool, shared by
// every run that executes through it.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		entries: make(map[string]*entry),
	}
}

// Register adds a tool to the catalog. It fails fast on an empty name or
// description, a duplicate name, or a schema that does not compile.
func (c *Catalog) Register(t Tool) error {
	d := t.Descriptor()

	if d.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if d.Description == "" {
		return fmt.Errorf("tool description cannot be empty for %s", d.Name)
	}

	e := &entry{tool: t, desc: d}

	if d.InputSchema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.InputSchema))
		if err != nil {
			return fmt.Errorf("compile input schema for %s: %w", d.Name, err)
		}
		e.inputSchema = schema
	}
	if d.OutputSchema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.OutputSchema))
		if err != nil {
			return fmt.Errorf("compile output schema for %s: %w", d.Name, err)
		}
		e.outputSchema = schema
	}
	if d.MaxConcurrency > 0 {
		e.semaphore = make(chan struct{}, d.MaxConcurrency)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.Name)
	}
	c.entries[d.Name] = e

	log.Debug().Str("tool", d.Name).Strs("tags", d.Tags).Msg("Tool registered")

	return nil
}

// Get returns a registered tool by name.
func (c *Catalog) Get(name string) (Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.tool, nil
}

// Has reports whether a tool name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.entries[name]
	return ok
}

// Names returns all registered tool names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Descriptor returns the descriptor of a registered tool.
func (c *Catalog) Descriptor(name string) (Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.desc, nil
}

// Specs returns provider-agnostic function specs. With no arguments it
// covers the whole catalog in sorted name order; with arguments it preserves
// the given order and errors on any unknown name.
func (c *Catalog) Specs(names ...string) ([]Spec, error) {
	if len(names) == 0 {
		names = c.Names()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	specs := make([]Spec, 0, len(names))
	for _, name := range names {
		e, ok := c.entries[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		specs = append(specs, SpecOf(e.desc))
	}

	return specs, nil
}

// FilterByTags returns descriptors of tools carrying every given tag,
// sorted by name. With no tags it returns the whole catalog.
func (c *Catalog) FilterByTags(tags ...string) []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	descs := make([]Descriptor, 0, len(c.entries))
	for _, e := range c.entries {
		if hasAllTags(e.desc, tags) {
			descs = append(descs, e.desc)
		}
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })

	return descs
}

func hasAllTags(d Descriptor, tags []string) bool {
	for _, tag := range tags {
		if !d.HasTag(tag) {
			return false
		}
	}
	return true
}

// ValidateInput parses raw JSON arguments and checks them against the
// tool's input schema. Empty input is treated as an empty object. Schema
// violations come back as a ValidationError listing every issue.
func (c *Catalog) ValidateInput(name string, raw []byte) (map[string]any, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &ValidationError{Tool: name, Issues: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}

	if e.inputSchema != nil {
		result, err := e.inputSchema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			return nil, &ValidationError{Tool: name, Issues: []string{err.Error()}}
		}
		if !result.Valid() {
			issues := make([]string, 0, len(result.Errors()))
			for _, issue := range result.Errors() {
				issues = append(issues, issue.String())
			}
			return nil, &ValidationError{Tool: name, Issues: issues}
		}
	}

	return args, nil
}

// Execute runs a tool with already-validated arguments. It acquires the
// tool's concurrency semaphore (waiting honors ctx), bounds the execution
// by the descriptor timeout, and validates the output against the output
// schema when one is declared.
func (c *Catalog) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if e.semaphore != nil {
		select {
		case e.semaphore <- struct{}{}:
			defer func() { <-e.semaphore }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	timeout := e.desc.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()

	resultChan := make(chan any, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := e.tool.Execute(execCtx, args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		if err := c.validateOutput(e, result); err != nil {
			return nil, err
		}

		log.Debug().
			Str("tool", name).
			Dur("duration", time.Since(start)).
			Msg("Tool execution completed")

		return result, nil

	case err := <-errChan:
		log.Debug().
			Str("tool", name).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("Tool execution failed")

		return nil, &ExecError{Tool: name, Err: err}

	case <-execCtx.Done():
		if ctx.Err() != nil {
			// The caller's context ended, not the per-tool budget.
			return nil, ctx.Err()
		}

		log.Warn().
			Str("tool", name).
			Dur("timeout", timeout).
			Msg("Tool execution timed out")

		return nil, &TimeoutError{Tool: name, Timeout: timeout}
	}
}

func (c *Catalog) validateOutput(e *entry, output any) error {
	if e.outputSchema == nil || output == nil {
		return nil
	}

	result, err := e.outputSchema.Validate(gojsonschema.NewGoLoader(output))
	if err != nil {
		return &ExecError{Tool: e.desc.Name, Err: fmt.Errorf("invalid output: %v", err)}
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		return &ExecError{Tool: e.desc.Name, Err: fmt.Errorf("invalid output: %s", strings.Join(issues, "; "))}
	}

	return nil
}
