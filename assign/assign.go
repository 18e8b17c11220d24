package assign

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jarview/jarview/store"
)

// Assigner numbers distinct binary contents per artifact name across the
// fleet. File size is the equivalence class; first-seen mtime orders it.
type Assigner struct {
	logger *logrus.Logger
	store  *store.Store
}

func NewAssigner(logger *logrus.Logger, st *store.Store) *Assigner {
	return &Assigner{logger: logger, store: st}
}

// sizeGroup - one distinct file size of an artifact name
type sizeGroup struct {
	size         int64
	firstSeen    time.Time
	firstService string
}

// orderGroups sorts by ascending first-seen mtime, tie-break ascending size,
// then first-observed service name, making the numbering deterministic.
func orderGroups(groups map[int64]*sizeGroup) []*sizeGroup {
	ordered := make([]*sizeGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.firstSeen.Equal(b.firstSeen) {
			return a.firstSeen.Before(b.firstSeen)
		}
		if a.size != b.size {
			return a.size < b.size
		}
		return a.firstService < b.firstService
	})
	return ordered
}

// AssignJars assigns jar versions (all names when jarName is empty)
func (a *Assigner) AssignJars(jarName string) error {
	names := []string{jarName}
	if jarName == "" {
		var err error
		names, err = a.store.JarNames()
		if err != nil {
			return err
		}
	}
	serviceNames, err := a.serviceNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := a.assignOneJar(name, serviceNames); err != nil {
			return errors.Wrapf(err, "failed to assign versions for jar %s", name)
		}
	}
	return nil
}

func (a *Assigner) assignOneJar(jarName string, serviceNames map[int64]string) error {
	rows, err := a.store.JarsByName(jarName)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	groups := make(map[int64]*sizeGroup)
	for _, jf := range rows {
		svcName := serviceNames[jf.ServiceID]
		g, ok := groups[jf.FileSize]
		if !ok {
			groups[jf.FileSize] = &sizeGroup{size: jf.FileSize, firstSeen: jf.LastModified, firstService: svcName}
			continue
		}
		if jf.LastModified.Before(g.firstSeen) ||
			(jf.LastModified.Equal(g.firstSeen) && svcName < g.firstService) {
			g.firstSeen = jf.LastModified
			g.firstService = svcName
		}
	}
	versionBySize := make(map[int64]int)
	for i, g := range orderGroups(groups) {
		versionBySize[g.size] = i + 1
	}
	last := len(versionBySize)
	if err = a.store.SetJarVersions(jarName, versionBySize, last); err != nil {
		return err
	}
	a.logger.Infof("Assigned %d version(s) for jar %s", last, jarName)
	return a.labelJarSources(jarName, rows, versionBySize)
}

// labelJarSources propagates a jar's version to every source version
// reachable through its links, as "jar:{name}@{v}" tokens. A source version
// unchanged between jar versions ends up carrying several tokens.
func (a *Assigner) labelJarSources(jarName string, rows []*store.JarFile, versionBySize map[int64]int) error {
	tokens := make(map[int64]map[string]bool) // source version id -> token set
	for _, jf := range rows {
		v := versionBySize[jf.FileSize]
		svIDs, err := a.store.LinksForJarRow(jf.ID)
		if err != nil {
			return err
		}
		for _, id := range svIDs {
			if tokens[id] == nil {
				tokens[id] = make(map[string]bool)
			}
			tokens[id][fmt.Sprintf("jar:%s@%d", jarName, v)] = true
		}
	}
	prefix := "jar:" + jarName + "@"
	for svID, set := range tokens {
		if err := a.mergeLabel(svID, prefix, set); err != nil {
			return err
		}
	}
	return nil
}

// AssignClasses assigns class versions (all names when className is empty)
func (a *Assigner) AssignClasses(className string) error {
	names := []string{className}
	if className == "" {
		var err error
		names, err = a.store.ClassNames()
		if err != nil {
			return err
		}
	}
	serviceNames, err := a.serviceNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := a.assignOneClass(name, serviceNames); err != nil {
			return errors.Wrapf(err, "failed to assign versions for class %s", name)
		}
	}
	return nil
}

func (a *Assigner) assignOneClass(className string, serviceNames map[int64]string) error {
	rows, err := a.store.ClassesByName(className)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	groups := make(map[int64]*sizeGroup)
	for _, cf := range rows {
		svcName := serviceNames[cf.ServiceID]
		g, ok := groups[cf.FileSize]
		if !ok {
			groups[cf.FileSize] = &sizeGroup{size: cf.FileSize, firstSeen: cf.LastModified, firstService: svcName}
			continue
		}
		if cf.LastModified.Before(g.firstSeen) ||
			(cf.LastModified.Equal(g.firstSeen) && svcName < g.firstService) {
			g.firstSeen = cf.LastModified
			g.firstService = svcName
		}
	}
	versionBySize := make(map[int64]int)
	for i, g := range orderGroups(groups) {
		versionBySize[g.size] = i + 1
	}
	last := len(versionBySize)
	if err = a.store.SetClassVersions(className, versionBySize, last); err != nil {
		return err
	}
	a.logger.Infof("Assigned %d version(s) for class %s", last, className)

	tokens := make(map[int64]map[string]bool)
	for _, cf := range rows {
		if cf.SourceVersionID == 0 {
			continue
		}
		v := versionBySize[cf.FileSize]
		if tokens[cf.SourceVersionID] == nil {
			tokens[cf.SourceVersionID] = make(map[string]bool)
		}
		tokens[cf.SourceVersionID][fmt.Sprintf("class:%s@%d", className, v)] = true
	}
	prefix := "class:" + className + "@"
	for svID, set := range tokens {
		if err := a.mergeLabel(svID, prefix, set); err != nil {
			return err
		}
	}
	return nil
}

// mergeLabel rewrites the token set of one source version: tokens of the
// artifact being renumbered are replaced, tokens of other artifacts survive.
func (a *Assigner) mergeLabel(svID int64, prefix string, fresh map[string]bool) error {
	sv, err := a.store.SourceVersionByID(svID)
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	for _, t := range sv.VersionTokens() {
		if !strings.HasPrefix(t, prefix) {
			set[t] = true
		}
	}
	for t := range fresh {
		set[t] = true
	}
	merged := make([]string, 0, len(set))
	for t := range set {
		merged = append(merged, t)
	}
	sort.Strings(merged)
	return a.store.SetVersionLabel(svID, strings.Join(merged, ","))
}

func (a *Assigner) serviceNames() (map[int64]string, error) {
	svcs, err := a.store.ListServices()
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(svcs))
	for _, svc := range svcs {
		names[svc.ID] = svc.ServiceName
	}
	return names, nil
}
