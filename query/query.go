package query

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jarview/jarview/diffsvc"
	"github.com/jarview/jarview/store"
)

// Query is the read-only interface consumed by the HTTP layer. It never
// mutates the store (the diff cache is maintained by the diff service).
type Query struct {
	store *store.Store
	diffs *diffsvc.Service
}

func New(st *store.Store, diffs *diffsvc.Service) *Query {
	return &Query{store: st, diffs: diffs}
}

// ListServices - all registered services
func (q *Query) ListServices() ([]*store.Service, error) {
	return q.store.ListServices()
}

// GetService - one service by id
func (q *Query) GetService(id int64) (*store.Service, error) {
	return q.store.GetService(id)
}

// SearchHit - one artifact name matching a search
type SearchHit struct {
	Kind string // jar | class
	Name string
}

// Search substring-matches jar names and class full names. kinds narrows to
// a subset of {"jar", "class"}; empty means both.
func (q *Query) Search(query string, kinds []string) ([]*SearchHit, error) {
	wantJar, wantClass := len(kinds) == 0, len(kinds) == 0
	for _, k := range kinds {
		switch k {
		case diffsvc.KindJar:
			wantJar = true
		case diffsvc.KindClass:
			wantClass = true
		default:
			return nil, errors.Errorf("unknown artifact kind: %s", k)
		}
	}
	var hits []*SearchHit
	if wantJar {
		names, err := q.store.JarNames()
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if strings.Contains(n, query) {
				hits = append(hits, &SearchHit{Kind: diffsvc.KindJar, Name: n})
			}
		}
	}
	if wantClass {
		names, err := q.store.ClassNames()
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if strings.Contains(n, query) {
				hits = append(hits, &SearchHit{Kind: diffsvc.KindClass, Name: n})
			}
		}
	}
	return hits, nil
}

// VersionInfo - one assigned version of an artifact name
type VersionInfo struct {
	VersionNo  int
	FileSize   int64
	FirstSeen  time.Time
	LastSeen   time.Time
	Services   []string
	SourceHash string // sha-256 of the sorted per-file hashes
}

// Versions describes every assigned version of an artifact name
func (q *Query) Versions(kind, name string) ([]*VersionInfo, error) {
	serviceNames, err := q.serviceNames()
	if err != nil {
		return nil, err
	}
	byVersion := make(map[int]*VersionInfo)
	switch kind {
	case diffsvc.KindJar:
		rows, err := q.store.JarsByName(name)
		if err != nil {
			return nil, err
		}
		for _, jf := range rows {
			addObservation(byVersion, jf.VersionNo, jf.FileSize, jf.LastModified, serviceNames[jf.ServiceID])
		}
	case diffsvc.KindClass:
		rows, err := q.store.ClassesByName(name)
		if err != nil {
			return nil, err
		}
		for _, cf := range rows {
			addObservation(byVersion, cf.VersionNo, cf.FileSize, cf.LastModified, serviceNames[cf.ServiceID])
		}
	default:
		return nil, errors.Errorf("unknown artifact kind: %s", kind)
	}
	out := make([]*VersionInfo, 0, len(byVersion))
	for _, vi := range byVersion {
		sources, err := q.sourcesFor(kind, name, vi.VersionNo)
		if err != nil {
			return nil, err
		}
		vi.SourceHash = aggregateHash(sources)
		sort.Strings(vi.Services)
		out = append(out, vi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNo < out[j].VersionNo })
	return out, nil
}

func addObservation(byVersion map[int]*VersionInfo, version int, size int64, seen time.Time, svcName string) {
	vi, ok := byVersion[version]
	if !ok {
		vi = &VersionInfo{VersionNo: version, FileSize: size, FirstSeen: seen, LastSeen: seen}
		byVersion[version] = vi
	}
	if seen.Before(vi.FirstSeen) {
		vi.FirstSeen = seen
	}
	if seen.After(vi.LastSeen) {
		vi.LastSeen = seen
	}
	vi.Services = append(vi.Services, svcName)
}

// SourceFile - path and content of one file of one version
type SourceFile struct {
	Path    string
	Content string
}

// Sources returns file paths and contents for one version of an artifact
func (q *Query) Sources(kind, name string, version int) ([]*SourceFile, error) {
	rows, err := q.sourcesFor(kind, name, version)
	if err != nil {
		return nil, err
	}
	out := make([]*SourceFile, 0, len(rows))
	for _, r := range rows {
		out = append(out, &SourceFile{Path: r.ClassFullName, Content: r.FileContent})
	}
	return out, nil
}

// Diff - the cached or freshly computed diff of §4.7
func (q *Query) Diff(kind, name string, from, to int, filePath string) (*diffsvc.Result, error) {
	return q.diffs.Diff(diffsvc.Request{Kind: kind, Name: name, From: from, To: to, FilePath: filePath})
}

func (q *Query) sourcesFor(kind, name string, version int) ([]*store.NamedSourceVersion, error) {
	if kind == diffsvc.KindJar {
		return q.store.SourcesForJarVersion(name, version)
	}
	return q.store.SourcesForClassVersion(name, version)
}

// aggregateHash - sha-256 over the concatenation of sorted per-file hashes
func aggregateHash(rows []*store.NamedSourceVersion) string {
	hashes := make([]string, 0, len(rows))
	for _, r := range rows {
		hashes = append(hashes, r.FileHash)
	}
	sort.Strings(hashes)
	sum := sha256.Sum256([]byte(strings.Join(hashes, "")))
	return hex.EncodeToString(sum[:])
}

func (q *Query) serviceNames() (map[int64]string, error) {
	svcs, err := q.store.ListServices()
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(svcs))
	for _, svc := range svcs {
		names[svc.ID] = svc.ServiceName
	}
	return names, nil
}
