package tools

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// sourceArgKeys are argument fields that name a target data source directly.
var sourceArgKeys = []string{"source", "database", "datasource", "db"}

// queryArgKeys are free-text arguments scanned for qualified references.
var queryArgKeys = []string{"sql", "query", "statement"}

// qualifiedRefPattern finds source.table references immediately preceded by a
// clause-boundary keyword. This is a best-effort scan, not a parser: it can
// both over- and under-reject obfuscated queries, so the allow-list on the
// source argument stays the primary boundary.
var qualifiedRefPattern = regexp.MustCompile(`(?i)\b(?:from|join|into|update|table)\s+([A-Za-z_][\w$]*)\.(?:[A-Za-z_][\w$]*)`)

// schemaQualifiers are namespace tokens that qualify tables without naming a
// data source; they are exempt from the allow-list to avoid false positives.
var schemaQualifiers = map[string]bool{
	"public": true,
	"main":   true,
}

// AccessPolicy validates remote tool calls against a data-source allow-list.
// Matching is case-insensitive and supports a "source.*" prefix form in the
// list entries.
type AccessPolicy struct {
	allowed map[string]bool
}

func NewAccessPolicy(sources []string) *AccessPolicy {
	allowed := make(map[string]bool, len(sources))
	for _, s := range sources {
		allowed[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return &AccessPolicy{allowed: allowed}
}

// Allows reports whether the named source is on the allow-list, either
// verbatim or through a "source.*" entry covering it.
func (p *AccessPolicy) Allows(source string) bool {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		return false
	}
	if p.allowed[s] {
		return true
	}
	if p.allowed[s+".*"] {
		return true
	}
	// "sales.orders" is covered by an entry for "sales" or "sales.*".
	if i := strings.IndexByte(s, '.'); i > 0 {
		base := s[:i]
		if p.allowed[base] || p.allowed[base+".*"] {
			return true
		}
	}
	return false
}

// Check validates a single call. A nil return means the call may be
// dispatched; a non-nil error describes the violation and must never reach
// the remote provider.
func (p *AccessPolicy) Check(call Call) error {
	for _, key := range sourceArgKeys {
		v, ok := call.Input[key]
		if !ok {
			continue
		}
		source, ok := v.(string)
		if !ok {
			return errors.Errorf("Access denied: argument %q must be a string", key)
		}
		if !p.Allows(source) {
			log.Warn().Str("tool", call.Name).Str("source", source).Msg("tool call denied by source allow-list")
			return errors.Errorf("Access denied: data source %q is not on the allow-list", source)
		}
	}

	for _, key := range queryArgKeys {
		v, ok := call.Input[key]
		if !ok {
			continue
		}
		query, ok := v.(string)
		if !ok {
			continue
		}
		if err := p.scanQuery(call.Name, query); err != nil {
			return err
		}
	}

	return nil
}

func (p *AccessPolicy) scanQuery(tool, query string) error {
	for _, m := range qualifiedRefPattern.FindAllStringSubmatch(query, -1) {
		qualifier := strings.ToLower(m[1])
		if schemaQualifiers[qualifier] {
			continue
		}
		if !p.Allows(qualifier) {
			log.Warn().Str("tool", tool).Str("source", qualifier).Msg("query references unlisted source")
			return errors.Errorf("Access denied: query references data source %q which is not on the allow-list", qualifier)
		}
	}
	return nil
}
