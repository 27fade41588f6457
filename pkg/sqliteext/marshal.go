package sqliteext

import (
	"database/sql"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// marshalParams applies spec §4.5's JS → SQL parameter rules to a slice
// of plain Go values (as produced by jsagent.Value.Export):
//
//	nil              -> SQL NULL
//	bool             -> INTEGER 0/1
//	integer-valued float64 -> INTEGER (i64)
//	other float64    -> REAL
//	string           -> TEXT
//	*big.Int         -> INTEGER if it fits i64, else TEXT of its decimal form
//	anything else    -> its string conversion
func marshalParams(params []any) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = marshalParam(p)
	}
	return out
}

func marshalParam(p any) any {
	switch v := p.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int64(v)
		}
		return v
	case string:
		return v
	case *big.Int:
		if v.IsInt64() {
			return v.Int64()
		}
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// scanRows converts the remainder of rows into JSON-like maps keyed by
// column name, per spec §4.5's row marshalling rules (BLOBs rendered as
// "[Blob: N bytes]").
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = marshalColumn(raw[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalColumn(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return fmt.Sprintf("[Blob: %d bytes]", len(x))
	case int64:
		return float64(x)
	case float64, string, bool:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}

// expandSQL substitutes "?" placeholders in sqlText with params'
// SQL-literal text, for debugging via expanded_sql. Positional only;
// named-parameter forms (:name, @name, $name) are left untouched since
// this runtime stores params positionally regardless of the SQL's own
// named-parameter syntax.
func expandSQL(sqlText string, params []any) string {
	if len(params) == 0 {
		return sqlText
	}
	var b strings.Builder
	paramIdx := 0
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		if c == '?' && paramIdx < len(params) {
			b.WriteString(literalSQL(params[paramIdx]))
			paramIdx++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func literalSQL(p any) string {
	switch v := marshalParam(p).(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", v)
	}
}
