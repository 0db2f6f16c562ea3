package database

import "embed"

//go:embed schemas/*.sql
var schemaFS embed.FS

// schemas maps database names to their embedded schema SQL.
// The schema files are the single source of truth for each database.
var schemas = func() map[string]string {
	files := map[string]string{
		"ledger":    "schemas/ledger_schema.sql",
		"portfolio": "schemas/portfolio_schema.sql",
		"cache":     "schemas/cache_schema.sql",
	}
	m := make(map[string]string, len(files))
	for name, path := range files {
		content, err := schemaFS.ReadFile(path)
		if err != nil {
			panic("missing embedded schema: " + path)
		}
		m[name] = string(content)
	}
	return m
}()
