// Package casetables names and creates the per-dictionary tables that hold
// case data, and carries SQL helpers shared by the repositories using them.
package casetables

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/jackc/pgx/v5"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,40}$`)

// Tables holds the quoted table names of one dictionary.
type Tables struct {
	Cases  string
	Notes  string
	Binary string
}

// ValidName reports whether name can be used as a dictionary name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// For returns the quoted table names for dictionary name.
func For(name string) (Tables, error) {
	if !ValidName(name) {
		return Tables{}, fmt.Errorf("%w: invalid dictionary name %q", common.ErrInvalidRequest, name)
	}
	base := strings.ToLower(name)
	return Tables{
		Cases:  pgx.Identifier{base}.Sanitize(),
		Notes:  pgx.Identifier{base + "_notes"}.Sanitize(),
		Binary: pgx.Identifier{base + "_case_binary_data"}.Sanitize(),
	}, nil
}

// MustFor is For for names already validated by the caller.
func MustFor(name string) Tables {
	t, err := For(name)
	if err != nil {
		panic(err)
	}
	return t
}

// Create returns the DDL creating the tables of t.
func (t Tables) Create() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			guid uuid PRIMARY KEY,
			caseids text NOT NULL DEFAULT '',
			label text NOT NULL DEFAULT '',
			questionnaire text NOT NULL DEFAULT '',
			revision bigint NOT NULL,
			deleted boolean NOT NULL DEFAULT false,
			verified boolean NOT NULL DEFAULT false,
			partial_save_mode text,
			partial_save_field_name text,
			partial_save_level_key text,
			partial_save_record_occurrence integer,
			partial_save_item_occurrence integer,
			partial_save_subitem_occurrence integer,
			clock text NOT NULL DEFAULT '[]',
			modified_time timestamptz NOT NULL DEFAULT now(),
			created_time timestamptz NOT NULL DEFAULT now()
		)`, t.Cases),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (revision, guid)`,
			pgx.Identifier{unquote(t.Cases) + "_revision_idx"}.Sanitize(), t.Cases),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			case_guid uuid NOT NULL REFERENCES %s (guid) ON DELETE CASCADE,
			field_name text NOT NULL DEFAULT '',
			level_key text NOT NULL DEFAULT '',
			record_occurrence integer NOT NULL DEFAULT 0,
			item_occurrence integer NOT NULL DEFAULT 0,
			subitem_occurrence integer NOT NULL DEFAULT 0,
			content text NOT NULL DEFAULT '',
			operator_id text NOT NULL DEFAULT '',
			modified_time timestamptz NOT NULL DEFAULT now()
		)`, t.Notes, t.Cases),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			case_guid uuid NOT NULL REFERENCES %s (guid) ON DELETE CASCADE,
			binary_data_signature text NOT NULL
		)`, t.Binary, t.Cases),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (case_guid)`,
			pgx.Identifier{unquote(t.Binary) + "_case_idx"}.Sanitize(), t.Binary),
	}
}

// Drop returns the DDL dropping the tables of t.
func (t Tables) Drop() []string {
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.Binary),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.Notes),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.Cases),
	}
}

// Truncate returns the statement emptying the tables of t.
func (t Tables) Truncate() string {
	return fmt.Sprintf(`TRUNCATE %s, %s, %s`, t.Binary, t.Notes, t.Cases)
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

// Placeholders returns "$start, $start+1, ..." with n entries.
func Placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}

// StringArgs converts ids to query arguments.
func StringArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
