// internal/adapter/storage/query_builder.go

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tides/internal/domain/docstore"
)

// buildSelect renders q as a query over the documents table. Field names are
// bound as text[] paths, never interpolated.
func buildSelect(q docstore.Query, now time.Time) (string, []interface{}, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)

	args := []interface{}{q.CollectionPath()}
	argIndex := 2

	for _, f := range q.Filters {
		value, err := normalizeValue(f.Value, now)
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		path := strings.Split(f.Field, ".")

		switch f.Op {
		case docstore.OpEqual:
			encoded, err := json.Marshal(value)
			if err != nil {
				return "", nil, fmt.Errorf("filter %s: %w", f.Field, err)
			}
			queryBuilder.WriteString(fmt.Sprintf(" AND data #> $%d::text[] = $%d::jsonb", argIndex, argIndex+1))
			args = append(args, path, string(encoded))
			argIndex += 2

		case docstore.OpLessEqual, docstore.OpGreaterEqual:
			op := string(f.Op)
			switch v := value.(type) {
			case float64:
				queryBuilder.WriteString(fmt.Sprintf(
					" AND CASE WHEN jsonb_typeof(data #> $%d::text[]) = 'number' THEN (data #>> $%d::text[])::float8 %s $%d::float8 ELSE false END",
					argIndex, argIndex, op, argIndex+1,
				))
				args = append(args, path, v)
			case string:
				queryBuilder.WriteString(fmt.Sprintf(
					" AND jsonb_typeof(data #> $%d::text[]) = 'string' AND (data #>> $%d::text[]) COLLATE \"C\" %s $%d::text",
					argIndex, argIndex, op, argIndex+1,
				))
				args = append(args, path, v)
			default:
				return "", nil, fmt.Errorf("filter %s: range operator on %T", f.Field, value)
			}
			argIndex += 2

		case docstore.OpArrayContains:
			encoded, err := json.Marshal([]interface{}{value})
			if err != nil {
				return "", nil, fmt.Errorf("filter %s: %w", f.Field, err)
			}
			queryBuilder.WriteString(fmt.Sprintf(
				" AND jsonb_typeof(data #> $%d::text[]) = 'array' AND data #> $%d::text[] @> $%d::jsonb",
				argIndex, argIndex, argIndex+1,
			))
			args = append(args, path, string(encoded))
			argIndex += 2

		default:
			return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
	}

	if q.OrderBy != "" {
		dir := "ASC"
		if q.Direction == docstore.Desc {
			dir = "DESC"
		}
		queryBuilder.WriteString(fmt.Sprintf(" AND data #> $%d::text[] IS NOT NULL", argIndex))
		queryBuilder.WriteString(fmt.Sprintf(" ORDER BY data #> $%d::text[] %s, seq ASC", argIndex, dir))
		args = append(args, strings.Split(q.OrderBy, "."))
		argIndex++
	} else {
		queryBuilder.WriteString(" ORDER BY seq ASC")
	}

	if q.Limit > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argIndex))
		args = append(args, q.Limit)
	}

	return queryBuilder.String(), args, nil
}
