// Package wire defines the JSON shapes exchanged between devices and the
// sync server.
package wire

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/casesync/internal/vectorclock"
)

// FieldRef locates one field occurrence inside a questionnaire.
type FieldRef struct {
	Name              string `json:"name"`
	LevelKey          string `json:"levelKey"`
	RecordOccurrence  int    `json:"recordOccurrence"`
	ItemOccurrence    int    `json:"itemOccurrence"`
	SubitemOccurrence int    `json:"subitemOccurrence"`
}

// PartialSave marks a case that was saved before completion. Field is
// absent when the device did not record a position.
type PartialSave struct {
	Mode  string    `json:"mode"`
	Field *FieldRef `json:"field,omitempty"`
}

// Note is an operator comment attached to a case field.
type Note struct {
	Content      string    `json:"content"`
	ModifiedTime time.Time `json:"modifiedTime"`
	OperatorID   string    `json:"operatorId"`
	Field        FieldRef  `json:"field"`
}

// Case is one survey response record as sent over the wire.
//
// Questionnaire carries the "level-1" JSON text verbatim. Older devices send
// Data, a list of fixed-width lines, instead.
type Case struct {
	ID            string            `json:"id"`
	CaseIDs       string            `json:"caseids"`
	Label         string            `json:"label"`
	Questionnaire string            `json:"level-1,omitempty"`
	Data          []string          `json:"data,omitempty"`
	Deleted       bool              `json:"deleted"`
	Verified      bool              `json:"verified"`
	PartialSave   *PartialSave      `json:"partialSave,omitempty"`
	Clock         vectorclock.Clock `json:"clock"`
	Notes         []Note            `json:"notes"`
	LastModified  *time.Time        `json:"lastModified,omitempty"`

	// Revision is server side only.
	Revision int64 `json:"-"`
}

// Payload returns the stored questionnaire text, joining legacy lines.
func (c *Case) Payload() string {
	if c.Questionnaire == "" && len(c.Data) > 0 {
		return strings.Join(c.Data, "\n")
	}
	return c.Questionnaire
}
