package query

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/jarview/jarview/assign"
	"github.com/jarview/jarview/config"
	"github.com/jarview/jarview/diffsvc"
	"github.com/jarview/jarview/ingest"
	"github.com/jarview/jarview/store"
)

func testFixture(t *testing.T) (*store.Store, *Query) {
	logger := logrus.New()
	st, err := store.Open(logger, ":memory:")
	assert.Equal(t, nil, err)
	t.Cleanup(func() { st.Close() })
	doc := &config.RegistryDoc{}
	for _, n := range []string{"svc-a", "svc-b"} {
		doc.Services = append(doc.Services, config.ServiceDef{
			ServiceName: n, Environment: "prod", Host: "10.0.0.1", Port: 22,
			JarPath: "/lib", ClassesPath: "/classes",
			JarDecompileOutputDir: "out/j", ClassDecompileOutputDir: "out/c",
		})
	}
	_, err = st.SyncServices(doc)
	assert.Equal(t, nil, err)
	svcs, _ := st.ListServices()

	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, nil, st.UpsertJarListing(svcs[0].ID, []*store.JarFile{
		{JarName: "foo.jar", FileSize: 1024, LastModified: t1}}))
	assert.Equal(t, nil, st.UpsertJarListing(svcs[1].ID, []*store.JarFile{
		{JarName: "foo.jar", FileSize: 2048, LastModified: t2}}))
	assert.Equal(t, nil, st.UpsertClassListing(svcs[0].ID, []*store.ClassFile{
		{ClassFullName: "com.x.Z", FileSize: 512, LastModified: t1}}))

	jarsA, _ := st.JarsForService(svcs[0].ID)
	jarsB, _ := st.JarsForService(svcs[1].ID)
	ident, _ := st.GetOrCreateIdentity("com.x.Y")
	content := "package com.x; class Y {}"
	sv, _, err := st.GetOrCreateSourceVersion(ident.ID, content, ingest.HashContent(content), 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, st.LinkJarSource(jarsA[0].ID, sv.ID))
	content2 := "class Y { int n; }"
	sv2, _, err := st.GetOrCreateSourceVersion(ident.ID, content2, ingest.HashContent(content2), 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, st.LinkJarSource(jarsB[0].ID, sv2.ID))

	a := assign.NewAssigner(logger, st)
	assert.Equal(t, nil, a.AssignJars(""))
	assert.Equal(t, nil, a.AssignClasses(""))

	return st, New(st, diffsvc.New(logger, st))
}

func TestSearch(t *testing.T) {
	_, q := testFixture(t)
	hits, err := q.Search("foo", nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(hits))
	assert.Equal(t, "jar", hits[0].Kind)
	assert.Equal(t, "foo.jar", hits[0].Name)

	hits, err = q.Search("x.Z", []string{"class"})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(hits))
	assert.Equal(t, "com.x.Z", hits[0].Name)

	hits, err = q.Search("nothing-matches", nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(hits))

	_, err = q.Search("x", []string{"war"})
	assert.NotEqual(t, nil, err)
}

func TestVersions(t *testing.T) {
	_, q := testFixture(t)
	vis, err := q.Versions("jar", "foo.jar")
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(vis))
	assert.Equal(t, 1, vis[0].VersionNo)
	assert.Equal(t, int64(1024), vis[0].FileSize)
	assert.Equal(t, []string{"svc-a"}, vis[0].Services)
	assert.Equal(t, 2, vis[1].VersionNo)
	assert.Equal(t, []string{"svc-b"}, vis[1].Services)
	// distinct content yields distinct aggregate hashes
	assert.NotEqual(t, vis[0].SourceHash, vis[1].SourceHash)
}

func TestSources(t *testing.T) {
	_, q := testFixture(t)
	files, err := q.Sources("jar", "foo.jar", 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(files))
	assert.Equal(t, "com.x.Y", files[0].Path)
	assert.Equal(t, "package com.x; class Y {}", files[0].Content)
}

func TestQueryDiff(t *testing.T) {
	_, q := testFixture(t)
	res, err := q.Diff("jar", "foo.jar", 1, 2, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, res.Summary.FilesChanged)
	assert.Equal(t, 1, res.Summary.Insertions)
	assert.Equal(t, 1, res.Summary.Deletions)
}

func TestListServices(t *testing.T) {
	_, q := testFixture(t)
	svcs, err := q.ListServices()
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(svcs))
	svc, err := q.GetService(svcs[0].ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, svcs[0].ServiceName, svc.ServiceName)
}
