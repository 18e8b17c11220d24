package collect

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/jarview/jarview/config"
	"github.com/jarview/jarview/store"
	"github.com/jarview/jarview/transport"
)

// fakeTransport serves canned listings per path
type fakeTransport struct {
	listings map[string][]transport.Entry
}

func (f *fakeTransport) List(path string) ([]transport.Entry, error) {
	entries, ok := f.listings[path]
	if !ok {
		return nil, errors.Errorf("no such path: %s", path)
	}
	return entries, nil
}

func (f *fakeTransport) Fetch(src, dst string) error { return nil }
func (f *fakeTransport) Close() error                { return nil }

func testSetup(t *testing.T, names ...string) (*store.Store, []*store.Service, *config.Config) {
	logger := logrus.New()
	st, err := store.Open(logger, ":memory:")
	assert.Equal(t, nil, err)
	t.Cleanup(func() { st.Close() })
	doc := &config.RegistryDoc{}
	for _, n := range names {
		doc.Services = append(doc.Services, config.ServiceDef{
			ServiceName: n, Environment: "prod", Host: "10.0.0.1", Port: 22,
			JarPath:     "/opt/{service_name}/lib",
			ClassesPath: "/opt/{service_name}/classes",
			JarDecompileOutputDir:   "out/jars/{service_name}",
			ClassDecompileOutputDir: "out/classes/{service_name}",
		})
	}
	_, err = st.SyncServices(doc)
	assert.Equal(t, nil, err)
	svcs, err := st.ListServices()
	assert.Equal(t, nil, err)
	cfg := &config.Config{InternalPrefixes: []string{"acme-"}}
	return st, svcs, cfg
}

func newTestCollector(st *store.Store, cfg *config.Config, ft *fakeTransport) *Collector {
	c := NewCollector(logrus.New(), st, cfg)
	c.dial = func(opts transport.Options) (transport.Transport, error) { return ft, nil }
	return c
}

func TestCollectJars(t *testing.T) {
	st, svcs, cfg := testSetup(t, "svc-a")
	mtime := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ft := &fakeTransport{listings: map[string][]transport.Entry{
		"/opt/svc-a/lib": {
			{Name: "acme-core.jar", Size: 1024, ModTime: mtime},
			{Name: "log4j-2.17.jar", Size: 4096, ModTime: mtime},
			{Name: "README.txt", Size: 10, ModTime: mtime},
		},
	}}
	res := newTestCollector(st, cfg, ft).CollectJars(svcs)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 2, res.Artifacts)

	jars, err := st.JarsForService(svcs[0].ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(jars))
	assert.Equal(t, "acme-core.jar", jars[0].JarName)
	assert.Equal(t, false, jars[0].IsThirdParty)
	assert.Equal(t, "log4j-2.17.jar", jars[1].JarName)
	assert.Equal(t, true, jars[1].IsThirdParty)
}

func TestCollectClasses(t *testing.T) {
	st, svcs, cfg := testSetup(t, "svc-a")
	mtime := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ft := &fakeTransport{listings: map[string][]transport.Entry{
		"/opt/svc-a/classes": {
			{Name: "com/x/Z.class", Size: 512, ModTime: mtime},
			{Name: "com/x/Z$Inner.class", Size: 300, ModTime: mtime},
			{Name: "com/x/notes.txt", Size: 5, ModTime: mtime},
		},
	}}
	res := newTestCollector(st, cfg, ft).CollectClasses(svcs)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 2, res.Artifacts)

	classes, err := st.ClassesForService(svcs[0].ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(classes))
	assert.Equal(t, "com.x.Z", classes[0].ClassFullName)
	assert.Equal(t, "com.x.Z$Inner", classes[1].ClassFullName)
}

func TestFailedServiceLeavesPriorRows(t *testing.T) {
	st, svcs, cfg := testSetup(t, "svc-a", "svc-b")
	mtime := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ft := &fakeTransport{listings: map[string][]transport.Entry{
		"/opt/svc-a/lib": {{Name: "acme-core.jar", Size: 1024, ModTime: mtime}},
		"/opt/svc-b/lib": {{Name: "acme-core.jar", Size: 1024, ModTime: mtime}},
	}}
	c := newTestCollector(st, cfg, ft)
	res := c.CollectJars(svcs)
	assert.Equal(t, 0, res.Failed)

	// svc-b's path disappears; its pass fails but prior rows survive
	delete(ft.listings, "/opt/svc-b/lib")
	res = c.CollectJars(svcs)
	assert.Equal(t, 1, res.Failed)
	jars, err := st.JarsForService(svcs[1].ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(jars))
	assert.Equal(t, "acme-core.jar", jars[0].JarName)
}

func TestClassNameFromPath(t *testing.T) {
	assert.Equal(t, "com.x.Y", ClassNameFromPath("com/x/Y.class"))
	assert.Equal(t, "com.x.Y$Inner", ClassNameFromPath("com/x/Y$Inner.class"))
	assert.Equal(t, "Top", ClassNameFromPath("Top.class"))
}
