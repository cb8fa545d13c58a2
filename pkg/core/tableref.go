// Package core defines the shared domain types of lea: table references,
// scripts, assertions, run configuration and the error taxonomy.
package core

import (
	"fmt"
	"strings"
)

// AuditSuffix is appended to a table name to form its audit (staging) name.
// The triple underscore is a compatibility contract: selector matching and
// checkpoint recognition depend on it verbatim.
const AuditSuffix = "___audit"

// TableRef is a fully qualified table identifier: an ordered schema chain
// plus a table name. A file scripts/core/users.sql maps to
// {Schema: [core], Name: users}; nested directories become sub-schemas,
// rendered with a double underscore (core/north/users.sql renders as
// core.north__users).
type TableRef struct {
	Schema []string
	Name   string
}

// NewRef builds a TableRef from a schema chain and a table name.
func NewRef(name string, schema ...string) TableRef {
	return TableRef{Schema: schema, Name: name}
}

// ParseRef parses a dotted reference such as "core.users" or
// "core.north__users" into a TableRef. Qualifiers beyond two dotted parts
// (catalog or project prefixes) are dropped. Sub-schemas are separated from
// the table name by double underscores; triple underscores (the audit
// suffix) are never split.
func ParseRef(s string) (TableRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TableRef{}, fmt.Errorf("empty table reference")
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	if len(parts) == 1 {
		return TableRef{Name: parts[0]}, nil
	}
	top := parts[0]
	segs := splitDunder(parts[1])
	schema := append([]string{top}, segs[:len(segs)-1]...)
	return TableRef{Schema: schema, Name: segs[len(segs)-1]}, nil
}

// splitDunder splits s on double underscores that are not part of a longer
// underscore run, so "north__users" splits but "users___audit" does not.
func splitDunder(s string) []string {
	var parts []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '_' || s[i+1] != '_' {
			continue
		}
		if i > 0 && s[i-1] == '_' {
			continue
		}
		if i+2 < len(s) && s[i+2] == '_' {
			continue
		}
		if i == start {
			continue
		}
		parts = append(parts, s[start:i])
		start = i + 2
		i++
	}
	parts = append(parts, s[start:])
	return parts
}

// String renders the dotted project form: top schema, then the remaining
// schema segments and the table name joined by double underscores.
func (r TableRef) String() string {
	if len(r.Schema) == 0 {
		return r.Name
	}
	tail := append(append([]string{}, r.Schema[1:]...), r.Name)
	return r.Schema[0] + "." + strings.Join(tail, "__")
}

// Key returns the canonical map key for the reference.
func (r TableRef) Key() string {
	return r.String()
}

// Equal reports structural equality.
func (r TableRef) Equal(o TableRef) bool {
	if r.Name != o.Name || len(r.Schema) != len(o.Schema) {
		return false
	}
	for i := range r.Schema {
		if r.Schema[i] != o.Schema[i] {
			return false
		}
	}
	return true
}

// Audit returns the audit form of the reference.
func (r TableRef) Audit() TableRef {
	if r.IsAudit() {
		return r
	}
	return TableRef{Schema: r.Schema, Name: r.Name + AuditSuffix}
}

// IsAudit reports whether the reference is in audit form.
func (r TableRef) IsAudit() bool {
	return strings.HasSuffix(r.Name, AuditSuffix)
}

// WithoutAudit strips the audit suffix if present.
func (r TableRef) WithoutAudit() TableRef {
	if !r.IsAudit() {
		return r
	}
	return TableRef{Schema: r.Schema, Name: strings.TrimSuffix(r.Name, AuditSuffix)}
}

// TopSchema returns the first schema segment, or "" for external bare names.
func (r TableRef) TopSchema() string {
	if len(r.Schema) == 0 {
		return ""
	}
	return r.Schema[0]
}

// InSchema reports whether the reference's schema chain starts with the
// given segments.
func (r TableRef) InSchema(segments ...string) bool {
	if len(segments) > len(r.Schema) {
		return false
	}
	for i, seg := range segments {
		if r.Schema[i] != seg {
			return false
		}
	}
	return true
}
