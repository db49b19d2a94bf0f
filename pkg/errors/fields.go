package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: the message, the typed
// code, every link of the wrap chain and, for Postgres failures, the SQLSTATE
// and the constraint or table that tripped.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}

	var chain []string
	for link := err; link != nil; link = stdErrors.Unwrap(link) {
		chain = append(chain, fmt.Sprintf("%T: %v", link, link))
	}
	fields := map[string]any{
		"error":       err.Error(),
		"error_chain": chain,
	}
	if typed := As(err); typed != nil {
		fields["error_code"] = typed.Code()
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		addPostgres(fields, pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail)
	case stdErrors.As(err, &pqErr):
		addPostgres(fields, string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail)
	}
	return fields
}

func addPostgres(fields map[string]any, code, constraint, table, detail string) {
	fields["pg_code"] = code
	for key, value := range map[string]string{"pg_constraint": constraint, "pg_table": table, "pg_detail": detail} {
		if value != "" {
			fields[key] = value
		}
	}
}
