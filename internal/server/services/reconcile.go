package services

import (
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/vectorclock"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

// Reconcile decides which incoming cases to write, comparing each against
// the persisted version of the same id. It returns the cases to write, in
// input order, and the number dropped because the server copy is newer.
//
// A true conflict keeps the incoming content under the merged clock.
// Surviving cases with an empty clock get {serverDevice: 1}. When an id
// occurs twice in incoming only its last occurrence is considered.
func Reconcile(incoming []*wire.Case, persisted map[string]models.CaseVersion, serverDevice string) ([]*wire.Case, int) {
	last := make(map[string]int, len(incoming))
	for i, c := range incoming {
		last[c.ID] = i
	}

	out := make([]*wire.Case, 0, len(incoming))
	dropped := 0
	for i, c := range incoming {
		if last[c.ID] != i {
			dropped++
			continue
		}

		if stored, ok := persisted[c.ID]; ok {
			switch vectorclock.Compare(c.Clock, stored.Clock) {
			case vectorclock.Before:
				dropped++
				continue
			case vectorclock.Concurrent:
				c.Clock = vectorclock.Merge(stored.Clock, c.Clock)
			}
		}

		if c.Clock.IsEmpty() {
			c.Clock = vectorclock.New(serverDevice, 1)
		}
		out = append(out, c)
	}
	return out, dropped
}
