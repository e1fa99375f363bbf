// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Lightweight lexical helpers for classifying a statement without a
// full parse. query.Compile does not call them; it hands the SQL to
// vitess directly.

package sqlutil

import "strings"

// FirstKeyword strips leading comments/whitespace and returns the first
// token, lower-cased, which classifies a statement (SELECT vs. anything
// else); query.Compile does not use it.
func FirstKeyword(sql string) string {
	s := strings.TrimSpace(StripLeadingComments(sql))
	if s == "" {
		return ""
	}
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' || r == ';' {
			return strings.ToLower(s[:i])
		}
	}
	return strings.ToLower(s)
}

// StripLeadingComments removes leading SQL comments (-- and /* */) and
// whitespace.
func StripLeadingComments(sql string) string {
	s := sql
	for {
		s = strings.TrimLeft(s, "\t\n\r ")
		if strings.HasPrefix(s, "--") {
			if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
				s = s[idx:]
				continue
			}
			return ""
		}
		if strings.HasPrefix(s, "/*") {
			if idx := strings.Index(s, "*/"); idx >= 0 {
				s = s[idx+2:]
				continue
			}
			return ""
		}
		return s
	}
}
