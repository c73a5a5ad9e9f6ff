// Package query guards and runs generated statements against the APU dataset.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const errorKey = "error"

type Row map[string]any

type Kind string

const (
	KindEmpty Kind = "empty"
	KindError Kind = "error"
	KindRows  Kind = "rows"
)

// Result holds the rows of one execution in column order. A failed execution
// carries a single marker row {"error": message} and a non-nil Err.
type Result struct {
	Columns []string
	Rows    []Row
	Err     error
}

func ErrorResult(err error) Result {
	return Result{
		Columns: []string{errorKey},
		Rows:    []Row{{errorKey: err.Error()}},
		Err:     err,
	}
}

func (r Result) Kind() Kind {
	if r.Err != nil {
		return KindError
	}
	if len(r.Rows) == 0 {
		return KindEmpty
	}
	if len(r.Rows) == 1 && len(r.Rows[0]) == 1 {
		if _, ok := r.Rows[0][errorKey]; ok {
			return KindError
		}
	}
	return KindRows
}

// JSON renders rows as an array of objects with keys in column order. Values
// without a JSON form are rendered as text.
func (r Result) JSON() string {
	columns := r.Columns
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range r.Rows {
		if i > 0 {
			buf.WriteString(", ")
		}
		keys := columns
		if len(keys) == 0 {
			keys = sortedKeys(row)
		}
		buf.WriteByte('{')
		for j, key := range keys {
			if j > 0 {
				buf.WriteString(", ")
			}
			buf.Write(mustMarshalString(key))
			buf.WriteString(": ")
			buf.Write(encodeValue(row[key]))
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String()
}

type Executor interface {
	Execute(ctx context.Context, sql string) Result
}

// IsReadOnly accepts statements whose first keyword is SELECT. It is a prefix
// test only: data-modifying CTEs, chained statements and leading comments
// are not detected.
func IsReadOnly(sql string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(sql)), "select")
}

func encodeValue(value any) []byte {
	switch typed := value.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		if encoded, err := marshal(typed); err == nil {
			return encoded
		}
		return mustMarshalString(fmt.Sprint(typed))
	case []byte:
		return mustMarshalString(string(typed))
	case time.Time:
		return mustMarshalString(formatTime(typed))
	case fmt.Stringer:
		return mustMarshalString(typed.String())
	default:
		return mustMarshalString(fmt.Sprint(typed))
	}
}

func marshal(value any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func mustMarshalString(value string) []byte {
	encoded, _ := marshal(value)
	return encoded
}

func formatTime(value time.Time) string {
	if value.Hour() == 0 && value.Minute() == 0 && value.Second() == 0 && value.Nanosecond() == 0 {
		return value.Format("2006-01-02")
	}
	return value.Format("2006-01-02 15:04:05")
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for key := range row {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
