package diffsvc

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/jarview/jarview/assign"
	"github.com/jarview/jarview/config"
	"github.com/jarview/jarview/ingest"
	"github.com/jarview/jarview/store"
)

func testSetup(t *testing.T, names ...string) (*store.Store, []*store.Service) {
	logger := logrus.New()
	st, err := store.Open(logger, ":memory:")
	assert.Equal(t, nil, err)
	t.Cleanup(func() { st.Close() })
	doc := &config.RegistryDoc{}
	for _, n := range names {
		doc.Services = append(doc.Services, config.ServiceDef{
			ServiceName: n, Environment: "prod", Host: "10.0.0.1", Port: 22,
			JarPath: "/lib", ClassesPath: "/classes",
			JarDecompileOutputDir: "out/j", ClassDecompileOutputDir: "out/c",
		})
	}
	_, err = st.SyncServices(doc)
	assert.Equal(t, nil, err)
	svcs, _ := st.ListServices()
	return st, svcs
}

func addJar(t *testing.T, st *store.Store, svc *store.Service, name string, size int64, mtime time.Time) *store.JarFile {
	assert.Equal(t, nil, st.UpsertJarListing(svc.ID, []*store.JarFile{
		{JarName: name, FileSize: size, LastModified: mtime}}))
	jars, _ := st.JarsForService(svc.ID)
	for _, jf := range jars {
		if jf.JarName == name {
			return jf
		}
	}
	t.Fatalf("jar not found: %s", name)
	return nil
}

func addSource(t *testing.T, st *store.Store, className, content string) *store.SourceVersion {
	ident, err := st.GetOrCreateIdentity(className)
	assert.Equal(t, nil, err)
	sv, _, err := st.GetOrCreateSourceVersion(ident.ID, content, ingest.HashContent(content), ingest.LineCount(content))
	assert.Equal(t, nil, err)
	return sv
}

// twoVersionFixture builds foo.jar v1 (svc-a, svc-b) and v2 (svc-c) with one
// changed file, plus a shared unchanged file in both versions.
func twoVersionFixture(t *testing.T) *store.Store {
	st, svcs := testSetup(t, "svc-a", "svc-b", "svc-c")
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	jfA := addJar(t, st, svcs[0], "foo.jar", 1024, t1)
	jfB := addJar(t, st, svcs[1], "foo.jar", 1024, t1)
	jfC := addJar(t, st, svcs[2], "foo.jar", 2048, t2)
	svOld := addSource(t, st, "com.x.Y", "package com.x; class Y {}")
	svNew := addSource(t, st, "com.x.Y", "class Y { int n; }")
	common := addSource(t, st, "com.x.Common", "class Common {}")
	for _, link := range []struct {
		jar *store.JarFile
		sv  *store.SourceVersion
	}{
		{jfA, svOld}, {jfB, svOld}, {jfA, common}, {jfB, common},
		{jfC, svNew}, {jfC, common},
	} {
		assert.Equal(t, nil, st.LinkJarSource(link.jar.ID, link.sv.ID))
	}
	a := assign.NewAssigner(logrus.New(), st)
	assert.Equal(t, nil, a.AssignJars(""))
	return st
}

func TestDiffTwoVersions(t *testing.T) {
	st := twoVersionFixture(t)
	s := New(logrus.New(), st)
	res, err := s.Diff(Request{Kind: KindJar, Name: "foo.jar", From: 1, To: 2})
	assert.Equal(t, nil, err)
	assert.Equal(t, Summary{Insertions: 1, Deletions: 1, FilesChanged: 1}, res.Summary)
	assert.Equal(t, 1, len(res.Files))
	fd := res.Files[0]
	assert.Equal(t, "com.x.Y", fd.FilePath)
	assert.Equal(t, ChangeModified, fd.ChangeType)
	assert.Equal(t, 1, fd.Additions)
	assert.Equal(t, 1, fd.Deletions)
	assert.Equal(t, 200, fd.ChangePercentage)
	assert.Contains(t, fd.DiffText, "--- a/com.x.Y")
	assert.Contains(t, fd.DiffText, "+++ b/com.x.Y")
	assert.Contains(t, fd.DiffText, "@@")
	assert.Contains(t, fd.DiffText, "-package com.x; class Y {}")
	assert.Contains(t, fd.DiffText, "+class Y { int n; }")
}

func TestDiffSameVersionIsEmpty(t *testing.T) {
	st := twoVersionFixture(t)
	s := New(logrus.New(), st)
	res, err := s.Diff(Request{Kind: KindJar, Name: "foo.jar", From: 1, To: 1})
	assert.Equal(t, nil, err)
	assert.Equal(t, Summary{}, res.Summary)
	assert.Equal(t, 0, len(res.Files))
}

func TestDiffIncludeUnchanged(t *testing.T) {
	st := twoVersionFixture(t)
	s := New(logrus.New(), st)
	res, err := s.Diff(Request{Kind: KindJar, Name: "foo.jar", From: 1, To: 2, IncludeUnchanged: true})
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(res.Files))
	assert.Equal(t, "com.x.Common", res.Files[0].FilePath)
	assert.Equal(t, ChangeUnchanged, res.Files[0].ChangeType)
}

func TestDiffFilePathNarrows(t *testing.T) {
	st := twoVersionFixture(t)
	s := New(logrus.New(), st)
	res, err := s.Diff(Request{Kind: KindJar, Name: "foo.jar", From: 1, To: 2, FilePath: "com.x.Nope"})
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(res.Files))
	// summary still reflects the whole changed set
	assert.Equal(t, 1, res.Summary.FilesChanged)
}

func TestDiffCachedRoundTrip(t *testing.T) {
	st := twoVersionFixture(t)
	s := New(logrus.New(), st)
	first, err := s.Diff(Request{Kind: KindJar, Name: "foo.jar", From: 1, To: 2})
	assert.Equal(t, nil, err)
	// second call is served from the cache
	second, err := s.Diff(Request{Kind: KindJar, Name: "foo.jar", From: 1, To: 2})
	assert.Equal(t, nil, err)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Files[0].DiffText, second.Files[0].DiffText)

	// recomputing on unchanged inputs yields identical bytes
	assert.Equal(t, nil, st.ReplaceDiffEntries(KindJar, "foo.jar", 1, 2, nil))
	third, err := s.Diff(Request{Kind: KindJar, Name: "foo.jar", From: 1, To: 2})
	assert.Equal(t, nil, err)
	assert.Equal(t, first.Files[0].DiffText, third.Files[0].DiffText)
}

func TestDiffAddedAndDeletedFiles(t *testing.T) {
	st, svcs := testSetup(t, "svc-a", "svc-b")
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	jfA := addJar(t, st, svcs[0], "baz.jar", 100, t1)
	jfB := addJar(t, st, svcs[1], "baz.jar", 200, t2)
	gone := addSource(t, st, "com.x.Gone", "class Gone {}\n")
	fresh := addSource(t, st, "com.x.Fresh", "class Fresh {}\nclass Helper {}\n")
	assert.Equal(t, nil, st.LinkJarSource(jfA.ID, gone.ID))
	assert.Equal(t, nil, st.LinkJarSource(jfB.ID, fresh.ID))
	a := assign.NewAssigner(logrus.New(), st)
	assert.Equal(t, nil, a.AssignJars(""))

	s := New(logrus.New(), st)
	res, err := s.Diff(Request{Kind: KindJar, Name: "baz.jar", From: 1, To: 2})
	assert.Equal(t, nil, err)
	assert.Equal(t, Summary{Insertions: 2, Deletions: 1, FilesChanged: 2}, res.Summary)
	byPath := make(map[string]*FileDiff)
	for _, fd := range res.Files {
		byPath[fd.FilePath] = fd
	}
	assert.Equal(t, ChangeAdded, byPath["com.x.Fresh"].ChangeType)
	assert.Equal(t, 2, byPath["com.x.Fresh"].Additions)
	assert.Equal(t, ChangeDeleted, byPath["com.x.Gone"].ChangeType)
	assert.Equal(t, 1, byPath["com.x.Gone"].Deletions)
}

func TestDiffClassKind(t *testing.T) {
	st, svcs := testSetup(t, "svc-a", "svc-b")
	t1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, nil, st.UpsertClassListing(svcs[0].ID, []*store.ClassFile{
		{ClassFullName: "com.x.Z", FileSize: 512, LastModified: t1}}))
	assert.Equal(t, nil, st.UpsertClassListing(svcs[1].ID, []*store.ClassFile{
		{ClassFullName: "com.x.Z", FileSize: 600, LastModified: t2}}))
	classesA, _ := st.ClassesForService(svcs[0].ID)
	classesB, _ := st.ClassesForService(svcs[1].ID)
	svA := addSource(t, st, "com.x.Z", "class Z {}\n")
	svB := addSource(t, st, "com.x.Z", "class Z {\n    int n;\n}\n")
	assert.Equal(t, nil, st.SetClassSource(classesA[0].ID, svA.ID))
	assert.Equal(t, nil, st.SetClassSource(classesB[0].ID, svB.ID))
	a := assign.NewAssigner(logrus.New(), st)
	assert.Equal(t, nil, a.AssignClasses(""))

	s := New(logrus.New(), st)
	res, err := s.Diff(Request{Kind: KindClass, Name: "com.x.Z", From: 1, To: 2})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, res.Summary.FilesChanged)
	assert.Equal(t, true, strings.Contains(res.Files[0].DiffText, "+    int n;"))
}

func TestUnknownKindRejected(t *testing.T) {
	st, _ := testSetup(t, "svc-a")
	s := New(logrus.New(), st)
	_, err := s.Diff(Request{Kind: "war", Name: "x", From: 1, To: 2})
	assert.NotEqual(t, nil, err)
}
