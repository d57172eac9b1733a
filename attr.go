package tableloader

import (
	"regexp"
	"strings"
)

var (
	stmtRegexp = regexp.MustCompile(`(?is)^\s*(?:(select|delete)\b.*?\bfrom|(insert)\s+into|(update))\s+"?([a-z_][a-z0-9_.]*)"?`)
)

// Statement describes one SQL statement seen by a Probe.
type Statement struct {
	// Verb is SELECT, INSERT, UPDATE or DELETE, empty for anything else.
	Verb string
	// Table is the first table the statement names.
	Table string
	Query string
	Args  int
}

func getStatement(query string, args int) Statement {
	stmt := Statement{Query: query, Args: args}
	match := stmtRegexp.FindStringSubmatch(query)
	if len(match) != 5 {
		return stmt
	}
	for _, verb := range match[1:4] {
		if verb != "" {
			stmt.Verb = strings.ToUpper(verb)
			break
		}
	}
	stmt.Table = match[4]
	return stmt
}
