package schema

import (
	"fmt"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/wire"
	"github.com/google/uuid"
)

var partialSaveModes = map[string]struct{}{"": {}, "add": {}, "modify": {}, "verify": {}}

// Validate checks the shape of an uploaded case. Content is not checked
// against value sets.
func (d *Descriptor) Validate(c *wire.Case) error {
	if _, err := uuid.Parse(c.ID); err != nil {
		return fmt.Errorf("%w: case id %q is not a UUID", common.ErrValidation, c.ID)
	}
	if n := d.IDLength(); n > 0 && len(c.CaseIDs) > n {
		return fmt.Errorf("%w: case %s: caseids longer than %d", common.ErrValidation, c.ID, n)
	}
	if c.PartialSave != nil {
		if _, ok := partialSaveModes[c.PartialSave.Mode]; !ok {
			return fmt.Errorf("%w: case %s: unknown partial save mode %q", common.ErrValidation, c.ID, c.PartialSave.Mode)
		}
	}
	for dev, n := range c.Clock {
		if dev == "" || n < 0 {
			return fmt.Errorf("%w: case %s: malformed clock", common.ErrValidation, c.ID)
		}
	}
	return nil
}
