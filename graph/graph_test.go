package graph

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/jarview/jarview/assign"
	"github.com/jarview/jarview/config"
	"github.com/jarview/jarview/store"
)

func TestWriteGraph(t *testing.T) {
	logger := logrus.New()
	st, err := store.Open(logger, ":memory:")
	assert.Equal(t, nil, err)
	defer st.Close()
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
	assert.Equal(t, nil, assign.NewAssigner(logger, st).AssignJars(""))

	buf := new(bytes.Buffer)
	assert.Equal(t, nil, Write(st, buf))
	out := buf.String()
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, "svc-a/prod")
	assert.Contains(t, out, "foo.jar@1")
	assert.Contains(t, out, "foo.jar@2")
}
