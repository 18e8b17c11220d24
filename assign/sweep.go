package assign

import (
	"github.com/sirupsen/logrus"

	"github.com/jarview/jarview/store"
)

// Sweeper removes source versions no longer referenced by any class row or
// jar link, and identities left with no versions.
type Sweeper struct {
	logger *logrus.Logger
	store  *store.Store
}

func NewSweeper(logger *logrus.Logger, st *store.Store) *Sweeper {
	return &Sweeper{logger: logger, store: st}
}

// SweepResult - counts of one sweep pass
type SweepResult struct {
	Identities        int
	VersionsRemoved   int
	IdentitiesRemoved int
}

// Run reports orphans by identity; with execute it deletes them, one
// transaction per identity so a failure never leaves a half-removed identity.
func (sw *Sweeper) Run(execute bool) (SweepResult, error) {
	var res SweepResult
	orphans, err := sw.store.FindOrphans()
	if err != nil {
		return res, err
	}
	for _, oc := range orphans {
		res.Identities++
		res.VersionsRemoved += len(oc.VersionIDs)
		if oc.LastOfKind {
			res.IdentitiesRemoved++
		}
		if !execute {
			sw.logger.Infof("Would remove %d orphaned version(s) of %s", len(oc.VersionIDs), oc.ClassFullName)
			continue
		}
		if err := sw.store.DeleteOrphans(oc); err != nil {
			return res, err
		}
		sw.logger.Infof("Removed %d orphaned version(s) of %s", len(oc.VersionIDs), oc.ClassFullName)
	}
	return res, nil
}
