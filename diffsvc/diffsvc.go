package diffsvc

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sirupsen/logrus"

	"github.com/jarview/jarview/store"
)

// Artifact kinds accepted by Diff
const (
	KindJar   = "jar"
	KindClass = "class"
)

// Change types of one paired file
const (
	ChangeModified  = "modified"
	ChangeAdded     = "added"
	ChangeDeleted   = "deleted"
	ChangeUnchanged = "unchanged"
)

// Request - diff endpoints. FilePath optionally narrows to one file.
type Request struct {
	Kind             string
	Name             string
	From             int
	To               int
	FilePath         string
	IncludeUnchanged bool
}

// FileDiff - one paired file
type FileDiff struct {
	FilePath         string
	ChangeType       string
	Additions        int
	Deletions        int
	ChangePercentage int
	DiffText         string
}

// Summary - aggregate over the changed set
type Summary struct {
	Insertions   int
	Deletions    int
	FilesChanged int
}

// Result of one diff request
type Result struct {
	Summary Summary
	Files   []*FileDiff
}

// Service computes and memoizes per-file unified diffs between two versions
// of the same artifact.
type Service struct {
	logger *logrus.Logger
	store  *store.Store
}

func New(logger *logrus.Logger, st *store.Store) *Service {
	return &Service{logger: logger, store: st}
}

// Diff returns the cached result when both endpoints are unchanged since it
// was computed, recomputing and re-caching otherwise.
func (s *Service) Diff(req Request) (*Result, error) {
	if req.Kind != KindJar && req.Kind != KindClass {
		return nil, errors.Errorf("unknown artifact kind: %s", req.Kind)
	}
	from, err := s.resolve(req.Kind, req.Name, req.From)
	if err != nil {
		return nil, err
	}
	to, err := s.resolve(req.Kind, req.Name, req.To)
	if err != nil {
		return nil, err
	}
	cached, err := s.fromCache(req, from, to)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return s.narrow(cached, req, from, to), nil
	}
	res := computeDiff(from, to)
	if err = s.memoize(req, res); err != nil {
		return nil, err
	}
	return s.narrow(res, req, from, to), nil
}

func (s *Service) resolve(kind, name string, version int) (map[string]*store.NamedSourceVersion, error) {
	var rows []*store.NamedSourceVersion
	var err error
	if kind == KindJar {
		rows, err = s.store.SourcesForJarVersion(name, version)
	} else {
		rows, err = s.store.SourcesForClassVersion(name, version)
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]*store.NamedSourceVersion, len(rows))
	for _, r := range rows {
		out[r.ClassFullName] = r
	}
	return out, nil
}

// fromCache returns the cached result, or nil when absent or stale. Stale
// means either endpoint's source rows were updated after the cache row.
func (s *Service) fromCache(req Request, from, to map[string]*store.NamedSourceVersion) (*Result, error) {
	stamp, err := s.store.DiffComputedAt(req.Kind, req.Name, req.From, req.To)
	if err != nil {
		return nil, err
	}
	if stamp.IsZero() {
		return nil, nil
	}
	newest := time.Time{}
	for _, m := range []map[string]*store.NamedSourceVersion{from, to} {
		for _, sv := range m {
			if sv.UpdatedAt.After(newest) {
				newest = sv.UpdatedAt
			}
		}
	}
	if newest.After(stamp) {
		s.logger.Debugf("DiffCacheStale: %s %s %d..%d", req.Kind, req.Name, req.From, req.To)
		return nil, nil
	}
	entries, err := s.store.GetDiffEntries(req.Kind, req.Name, req.From, req.To)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for _, de := range entries {
		if de.FilePath == "" { // aggregate row
			res.Summary = Summary{Insertions: de.Additions, Deletions: de.Deletions, FilesChanged: de.FilesChanged}
			continue
		}
		res.Files = append(res.Files, &FileDiff{
			FilePath:         de.FilePath,
			ChangeType:       de.ChangeType,
			Additions:        de.Additions,
			Deletions:        de.Deletions,
			ChangePercentage: de.ChangePercentage,
			DiffText:         de.DiffText,
		})
	}
	return res, nil
}

func (s *Service) memoize(req Request, res *Result) error {
	entries := []*store.DiffEntry{{
		Additions:    res.Summary.Insertions,
		Deletions:    res.Summary.Deletions,
		FilesChanged: res.Summary.FilesChanged,
	}}
	for _, fd := range res.Files {
		entries = append(entries, &store.DiffEntry{
			FilePath:         fd.FilePath,
			ChangeType:       fd.ChangeType,
			Additions:        fd.Additions,
			Deletions:        fd.Deletions,
			ChangePercentage: fd.ChangePercentage,
			DiffText:         fd.DiffText,
		})
	}
	return s.store.ReplaceDiffEntries(req.Kind, req.Name, req.From, req.To, entries)
}

// narrow applies the FilePath selector and, when asked, appends unchanged
// pairs (which are never cached).
func (s *Service) narrow(res *Result, req Request, from, to map[string]*store.NamedSourceVersion) *Result {
	out := &Result{Summary: res.Summary}
	for _, fd := range res.Files {
		if req.FilePath != "" && fd.FilePath != req.FilePath {
			continue
		}
		out.Files = append(out.Files, fd)
	}
	if req.IncludeUnchanged {
		for name, f := range from {
			t, ok := to[name]
			if !ok || f.FileHash != t.FileHash {
				continue
			}
			if req.FilePath != "" && name != req.FilePath {
				continue
			}
			out.Files = append(out.Files, &FileDiff{FilePath: name, ChangeType: ChangeUnchanged})
		}
		sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].FilePath < out.Files[j].FilePath })
	}
	return out
}

// computeDiff pairs the two sides by class name and diffs each changed pair
func computeDiff(from, to map[string]*store.NamedSourceVersion) *Result {
	names := make(map[string]bool)
	for n := range from {
		names[n] = true
	}
	for n := range to {
		names[n] = true
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	res := &Result{}
	for _, name := range ordered {
		f, inFrom := from[name]
		t, inTo := to[name]
		switch {
		case inFrom && inTo:
			if f.FileHash == t.FileHash {
				continue // unchanged - omitted from the changed set
			}
			fd := diffPair(name, f.FileContent, t.FileContent, f.LineCount, t.LineCount)
			fd.ChangeType = ChangeModified
			res.Files = append(res.Files, fd)
		case inTo:
			fd := diffPair(name, "", t.FileContent, 0, t.LineCount)
			fd.ChangeType = ChangeAdded
			res.Files = append(res.Files, fd)
		default:
			fd := diffPair(name, f.FileContent, "", f.LineCount, 0)
			fd.ChangeType = ChangeDeleted
			res.Files = append(res.Files, fd)
		}
	}
	for _, fd := range res.Files {
		res.Summary.Insertions += fd.Additions
		res.Summary.Deletions += fd.Deletions
		res.Summary.FilesChanged++
	}
	return res
}

// diffPair computes the unified text and line-level counts for one file
func diffPair(name, before, after string, linesBefore, linesAfter int) *FileDiff {
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: fmt.Sprintf("a/%s", name),
		ToFile:   fmt.Sprintf("b/%s", name),
		Context:  3,
	})
	if err != nil {
		unified = ""
	}
	additions, deletions := lineCounts(before, after)
	denom := linesBefore
	if linesAfter > denom {
		denom = linesAfter
	}
	if denom < 1 {
		denom = 1
	}
	pct := int(math.Round(float64(additions+deletions) / float64(denom) * 100))
	return &FileDiff{
		FilePath:         name,
		Additions:        additions,
		Deletions:        deletions,
		ChangePercentage: pct,
		DiffText:         unified,
	}
}

// lineCounts runs a line-mode diff and totals inserted and deleted lines
func lineCounts(before, after string) (additions, deletions int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += n
		case diffmatchpatch.DiffDelete:
			deletions += n
		}
	}
	return additions, deletions
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
