package collect

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/jarview/jarview/config"
	"github.com/jarview/jarview/store"
	"github.com/jarview/jarview/transport"
)

// Collector runs the jar and class listing stages against the fleet
type Collector struct {
	logger *logrus.Logger
	store  *store.Store
	cfg    *config.Config
	// injectable for tests; defaults to transport.New
	dial func(opts transport.Options) (transport.Transport, error)
}

func NewCollector(logger *logrus.Logger, st *store.Store, cfg *config.Config) *Collector {
	return &Collector{logger: logger, store: st, cfg: cfg, dial: transport.New}
}

// Result of a collection pass
type Result struct {
	Services  int
	Failed    int
	Artifacts int
}

// CollectJars obtains (jar_name, size, mtime) for each service and upserts
// the full listing in one transaction per service. A failed service leaves
// its prior rows untouched and the pass continues with the next one.
func (c *Collector) CollectJars(svcs []*store.Service) Result {
	res := Result{Services: len(svcs)}
	bar := startBar(len(svcs))
	for _, svc := range svcs {
		if bar != nil {
			bar.Increment()
		}
		n, err := c.collectJarsForService(svc)
		if err != nil {
			c.logger.Errorf("Collection failed: service %s/%s, phase collect-jars, cause: %v",
				svc.ServiceName, svc.Environment, err)
			res.Failed++
			continue
		}
		res.Artifacts += n
	}
	if bar != nil {
		bar.Finish()
	}
	return res
}

func (c *Collector) collectJarsForService(svc *store.Service) (int, error) {
	jarPath, err := svc.RenderPath(svc.JarPath, c.cfg.ServerBasePath)
	if err != nil {
		return 0, err
	}
	entries, err := c.listPath(svc, jarPath)
	if err != nil {
		return 0, err
	}
	var jars []*store.JarFile
	for _, e := range entries {
		if !strings.HasSuffix(e.Name, ".jar") {
			continue
		}
		name := baseName(e.Name)
		jars = append(jars, &store.JarFile{
			JarName:      name,
			FileSize:     e.Size,
			LastModified: e.ModTime,
			IsThirdParty: c.isThirdParty(name),
		})
	}
	c.logger.Infof("Service %s/%s: %d jars listed", svc.ServiceName, svc.Environment, len(jars))
	if err = c.store.UpsertJarListing(svc.ID, jars); err != nil {
		return 0, err
	}
	return len(jars), nil
}

// CollectClasses - same pass for loose .class files. The fully qualified
// class name is the path below classes_path with '/' mapped to '.' and the
// suffix stripped; inner classes keep their '$' separators.
func (c *Collector) CollectClasses(svcs []*store.Service) Result {
	res := Result{Services: len(svcs)}
	bar := startBar(len(svcs))
	for _, svc := range svcs {
		if bar != nil {
			bar.Increment()
		}
		n, err := c.collectClassesForService(svc)
		if err != nil {
			c.logger.Errorf("Collection failed: service %s/%s, phase collect-classes, cause: %v",
				svc.ServiceName, svc.Environment, err)
			res.Failed++
			continue
		}
		res.Artifacts += n
	}
	if bar != nil {
		bar.Finish()
	}
	return res
}

func (c *Collector) collectClassesForService(svc *store.Service) (int, error) {
	classesPath, err := svc.RenderPath(svc.ClassesPath, c.cfg.ServerBasePath)
	if err != nil {
		return 0, err
	}
	entries, err := c.listPath(svc, classesPath)
	if err != nil {
		return 0, err
	}
	var classes []*store.ClassFile
	for _, e := range entries {
		if !strings.HasSuffix(e.Name, ".class") {
			continue
		}
		classes = append(classes, &store.ClassFile{
			ClassFullName: ClassNameFromPath(e.Name),
			FileSize:      e.Size,
			LastModified:  e.ModTime,
		})
	}
	c.logger.Infof("Service %s/%s: %d classes listed", svc.ServiceName, svc.Environment, len(classes))
	if err = c.store.UpsertClassListing(svc.ID, classes); err != nil {
		return 0, err
	}
	return len(classes), nil
}

func (c *Collector) listPath(svc *store.Service, path string) ([]transport.Entry, error) {
	t, err := c.dial(transport.Options{
		Host:           svc.Host,
		Port:           svc.Port,
		Username:       svc.Username,
		Password:       svc.Password,
		ConnectTimeout: c.cfg.SSHConnectTimeout,
		CommandTimeout: c.cfg.SSHCommandTimeout,
	})
	if err != nil {
		return nil, err
	}
	defer t.Close()
	return t.List(path)
}

// isThirdParty - a jar is internal if its name starts with a configured prefix
func (c *Collector) isThirdParty(jarName string) bool {
	for _, p := range c.cfg.InternalPrefixes {
		if strings.HasPrefix(jarName, p) {
			return false
		}
	}
	return true
}

// ClassNameFromPath derives the fully qualified class name from a path below
// classes_path, e.g. "com/x/Y$Inner.class" -> "com.x.Y$Inner".
func ClassNameFromPath(path string) string {
	name := strings.TrimSuffix(path, ".class")
	return strings.ReplaceAll(name, "/", ".")
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func startBar(n int) *pb.ProgressBar {
	if n <= 1 {
		return nil
	}
	bar := pb.New(n)
	bar.Output = os.Stderr
	bar.ShowTimeLeft = false
	return bar.Start()
}
