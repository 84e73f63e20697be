// Package capability resolves logical record fields onto whatever physical
// columns a deployment actually has. Each logical field carries an ordered
// candidate list of legacy column names; the first candidate present wins.
// Unresolved fields bind to a typed SQL NULL so the query shape is identical
// across deployments.
package capability

import (
	"fmt"

	"github.com/sells-group/analysis-engine/internal/db"
	"github.com/sells-group/analysis-engine/internal/schema"
)

// NullType is the SQL type used for the NULL placeholder of an unbound field.
type NullType string

const (
	NullText      NullType = "text"
	NullNumeric   NullType = "numeric"
	NullInteger   NullType = "bigint"
	NullTimestamp NullType = "timestamptz"
	NullBoolean   NullType = "boolean"
	NullJSON      NullType = "jsonb"
)

// Expr returns the typed NULL expression for this type.
func (t NullType) Expr() string {
	if t == "" {
		t = NullText
	}
	return fmt.Sprintf("NULL::%s", string(t))
}

// FieldSpec declares one logical field and its physical column candidates,
// highest priority first.
type FieldSpec struct {
	Alias      string   `yaml:"alias"`
	Candidates []string `yaml:"candidates"`
	Fallback   NullType `yaml:"fallback"`
}

// Binding is the resolved physical backing of one logical field.
type Binding struct {
	Alias    string
	Column   string // actual catalog spelling; empty when unbound
	Fallback NullType
}

// Bound reports whether the field resolved to a real column.
func (b Binding) Bound() bool { return b.Column != "" }

// Plan maps logical fields to physical columns for one schema-cache window.
// It is resolved once and snapshotted for the lifetime of a request; bindings
// never change mid-request even if the underlying cache refreshes.
type Plan struct {
	bindings map[string]Binding
	order    []string
}

// Resolve builds a Plan from field specs against discovered table metadata.
// With an unavailable table every field binds to its typed NULL fallback.
func Resolve(specs []FieldSpec, meta schema.TableMetadata) *Plan {
	p := &Plan{bindings: make(map[string]Binding, len(specs))}
	for _, spec := range specs {
		b := Binding{Alias: spec.Alias, Fallback: spec.Fallback}
		if meta.Available {
			for _, cand := range spec.Candidates {
				if col, ok := meta.Column(cand); ok {
					b.Column = col
					break
				}
			}
		}
		p.bindings[spec.Alias] = b
		p.order = append(p.order, spec.Alias)
	}
	return p
}

// Has reports whether the logical field is backed by a real column.
func (p *Plan) Has(alias string) bool {
	return p.bindings[alias].Bound()
}

// Column returns the physical column bound to a logical field.
func (p *Plan) Column(alias string) (string, bool) {
	b, ok := p.bindings[alias]
	if !ok || !b.Bound() {
		return "", false
	}
	return b.Column, true
}

// SelectExpr returns the select-list expression for a logical field: the
// quoted column aliased to the logical name, or a typed NULL when unbound.
func (p *Plan) SelectExpr(alias string) string {
	return p.QualifiedSelectExpr("", alias)
}

// QualifiedSelectExpr is SelectExpr with a table qualifier prepended to bound
// columns, for queries that join other tables.
func (p *Plan) QualifiedSelectExpr(qualifier, alias string) string {
	b, ok := p.bindings[alias]
	if !ok {
		return NullText.Expr() + " AS " + db.QuoteColumn(alias)
	}
	if !b.Bound() {
		return b.Fallback.Expr() + " AS " + db.QuoteColumn(alias)
	}
	col := db.QuoteColumn(b.Column)
	if qualifier != "" {
		col = qualifier + "." + col
	}
	return col + " AS " + db.QuoteColumn(alias)
}

// SelectList returns select expressions for the given aliases in order.
func (p *Plan) SelectList(aliases ...string) []string {
	exprs := make([]string, 0, len(aliases))
	for _, a := range aliases {
		exprs = append(exprs, p.SelectExpr(a))
	}
	return exprs
}

// Aliases returns all logical field names in declaration order.
func (p *Plan) Aliases() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Available returns the feature map surfaced to API callers: logical field
// name -> whether this deployment's schema backs it.
func (p *Plan) Available() map[string]bool {
	m := make(map[string]bool, len(p.bindings))
	for alias, b := range p.bindings {
		m[alias] = b.Bound()
	}
	return m
}
