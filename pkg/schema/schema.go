// Package schema implements the JSON Schema contract validator (spec
// §4.4): it resolves a schema by ref through an injected loader, compiles
// and caches the result for the process lifetime, and validates the
// request body sample against it. Grounded on the teacher's
// pkg/firewall/firewall.go, which compiles santhosh-tekuri/jsonschema/v5
// schemas from inline strings.
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/contractshield/pdp/pkg/decision"
)

// Loader resolves a schema ref to its raw JSON Schema document. Hosts
// inject an implementation (filesystem, S3, GCS, ...) via PdpOptions; see
// pkg/schemaloader for reference implementations.
type Loader func(ctx context.Context, ref string) ([]byte, error)

// Cache compiles and caches *jsonschema.Schema by the exact ref string, for
// the process lifetime (spec §4.4, §5: "first writer wins"). Reads are not
// lock-free: every lookup takes the shared read lock of a sync.RWMutex, so
// concurrent readers do not block one another but do wait for a writer.
type Cache struct {
	mu         sync.RWMutex
	compiled   map[string]*jsonschema.Schema
	compileErr map[string]error
}

// NewCache creates an empty schema cache.
func NewCache() *Cache {
	return &Cache{
		compiled:   make(map[string]*jsonschema.Schema),
		compileErr: make(map[string]error),
	}
}

// Get returns the compiled schema for ref, resolving and compiling it via
// loader on first access. Concurrent first-time compilations of the same
// ref are idempotent: the cache keeps whichever writer lands first.
func (c *Cache) Get(ctx context.Context, ref string, loader Loader) (*jsonschema.Schema, error) {
	c.mu.RLock()
	if s, ok := c.compiled[ref]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	if err, ok := c.compileErr[ref]; ok {
		c.mu.RUnlock()
		return nil, err
	}
	c.mu.RUnlock()

	if loader == nil {
		return nil, fmt.Errorf("schema: no loader configured for ref %q", ref)
	}

	raw, err := loader(ctx, ref)
	if err != nil {
		c.recordErr(ref, fmt.Errorf("schema: load %q: %w", ref, err))
		return nil, c.compileErr[ref]
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(ref, strings.NewReader(string(raw))); err != nil {
		c.recordErr(ref, fmt.Errorf("schema: add resource %q: %w", ref, err))
		return nil, c.compileErr[ref]
	}
	compiled, err := compiler.Compile(ref)
	if err != nil {
		c.recordErr(ref, fmt.Errorf("schema: compile %q: %w", ref, err))
		return nil, c.compileErr[ref]
	}

	c.mu.Lock()
	if existing, ok := c.compiled[ref]; ok {
		// Another goroutine won the race; keep its result (first writer wins).
		c.mu.Unlock()
		return existing, nil
	}
	c.compiled[ref] = compiled
	c.mu.Unlock()
	return compiled, nil
}

func (c *Cache) recordErr(ref string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.compileErr[ref]; !ok {
		c.compileErr[ref] = err
	}
}

// Validate runs the contract stage (spec §4.4): resolves+compiles the
// schema ref, validates sample against it, and — when rejectUnknownFields
// is set — additionally checks that the schema enforces
// additionalProperties=false at every object level it reaches.
func Validate(ctx context.Context, cache *Cache, loader Loader, ref string, sample any, rejectUnknownFields bool) []decision.Hit {
	compiled, err := cache.Get(ctx, ref, loader)
	if err != nil {
		return []decision.Hit{{
			ID:       "contract.schema.invalid",
			Severity: decision.SeverityHigh,
			Message:  err.Error(),
		}}
	}

	var hits []decision.Hit
	if err := compiled.Validate(sample); err != nil {
		hits = append(hits, decision.Hit{
			ID:       "contract.schema.invalid",
			Severity: decision.SeverityHigh,
			Message:  aggregateValidationError(err),
		})
	}

	if rejectUnknownFields && !everyObjectLevelClosed(compiled, map[*jsonschema.Schema]bool{}) {
		hits = append(hits, decision.Hit{
			ID:       "contract.reject_unknown_fields",
			Severity: decision.SeverityMed,
			Message:  "reject_unknown_fields is set but the resolved schema does not set additionalProperties=false at every object level",
		})
	}

	return hits
}

func aggregateValidationError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var msgs []string
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if v.Message != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.InstanceLocation, v.Message))
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	if len(msgs) == 0 {
		return err.Error()
	}
	return strings.Join(msgs, "; ")
}

// mayMatchObject reports whether s's "type" keyword permits an object
// instance: no "type" restriction at all (matches everything), or "object"
// named explicitly among a multi-type list.
func mayMatchObject(s *jsonschema.Schema) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == "object" {
			return true
		}
	}
	return false
}

// everyObjectLevelClosed walks the compiled schema graph and reports
// whether every node that can match an object sets additionalProperties to
// the literal false. A node whose "type" excludes object (e.g. a leaf
// {"type":"string"} property) is never required to set it. visited guards
// against cycles ($ref loops).
func everyObjectLevelClosed(s *jsonschema.Schema, visited map[*jsonschema.Schema]bool) bool {
	if s == nil || visited[s] {
		return true
	}
	visited[s] = true

	if mayMatchObject(s) {
		closed, isBool := s.AdditionalProperties.(bool)
		if !isBool || closed {
			// Missing, true, or a permissive sub-schema: this level is open,
			// regardless of whether it declares any properties.
			return false
		}
	}

	for _, child := range s.Properties {
		if !everyObjectLevelClosed(child, visited) {
			return false
		}
	}
	if s.Items != nil {
		if sch, ok := s.Items.(*jsonschema.Schema); ok {
			if !everyObjectLevelClosed(sch, visited) {
				return false
			}
		}
	}
	// Draft 2020-12 (the draft Cache compiles with) stores "items" and
	// "prefixItems" here rather than in Items.
	if !everyObjectLevelClosed(s.Items2020, visited) {
		return false
	}
	for _, sch := range s.PrefixItems {
		if !everyObjectLevelClosed(sch, visited) {
			return false
		}
	}
	for _, sch := range s.AllOf {
		if !everyObjectLevelClosed(sch, visited) {
			return false
		}
	}
	for _, sch := range s.AnyOf {
		if !everyObjectLevelClosed(sch, visited) {
			return false
		}
	}
	for _, sch := range s.OneOf {
		if !everyObjectLevelClosed(sch, visited) {
			return false
		}
	}
	return true
}
