package decompile

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/alitto/pond"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/jarview/jarview/config"
	"github.com/jarview/jarview/store"
	"github.com/jarview/jarview/transport"
)

// Decompiler turns one binary into a directory tree of .java files.
// The concrete tool is injected; non-zero exit surfaces as an error.
type Decompiler func(ctx context.Context, binaryPath string, outDir string) error

// CommandDecompiler renders the configured command template ({input} and
// {output} placeholders) and runs it as a subprocess.
func CommandDecompiler(cmdTemplate string) Decompiler {
	return func(ctx context.Context, binaryPath string, outDir string) error {
		rendered := strings.ReplaceAll(cmdTemplate, "{input}", binaryPath)
		rendered = strings.ReplaceAll(rendered, "{output}", outDir)
		parts := strings.Fields(rendered)
		if len(parts) == 0 {
			return errors.New("empty decompile command")
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		cmd.Stdout = nil
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return errors.Wrapf(err, "decompiler failed for %s", binaryPath)
		}
		return nil
	}
}

// Driver fetches artifacts and drives the decompiler over a bounded worker
// pool: services run in parallel, artifacts within one service serially to
// avoid SSH connection thrash.
type Driver struct {
	logger     *logrus.Logger
	store      *store.Store
	cfg        *config.Config
	decompiler Decompiler
	dial       func(opts transport.Options) (transport.Transport, error)
}

func NewDriver(logger *logrus.Logger, st *store.Store, cfg *config.Config, d Decompiler) *Driver {
	return &Driver{logger: logger, store: st, cfg: cfg, decompiler: d, dial: transport.New}
}

// Options for one decompile pass
type Options struct {
	Force             bool
	IncludeThirdParty bool
}

// Result of one decompile pass
type Result struct {
	Decompiled int
	Skipped    int
	Failed     int
}

func (r *Result) add(o Result) {
	r.Decompiled += o.Decompiled
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// DecompileJars fetches and decompiles jars for the selected services
func (d *Driver) DecompileJars(svcs []*store.Service, opts Options) Result {
	return d.run(svcs, func(svc *store.Service, t transport.Transport, bar *pb.ProgressBar) Result {
		return d.jarsForService(svc, t, opts, bar)
	}, func(svc *store.Service) (int, error) {
		jars, err := d.store.JarsForService(svc.ID)
		return len(jars), err
	})
}

// DecompileClasses fetches and decompiles loose classes for the selected services
func (d *Driver) DecompileClasses(svcs []*store.Service, opts Options) Result {
	return d.run(svcs, func(svc *store.Service, t transport.Transport, bar *pb.ProgressBar) Result {
		return d.classesForService(svc, t, opts, bar)
	}, func(svc *store.Service) (int, error) {
		classes, err := d.store.ClassesForService(svc.ID)
		return len(classes), err
	})
}

func (d *Driver) run(svcs []*store.Service,
	work func(*store.Service, transport.Transport, *pb.ProgressBar) Result,
	count func(*store.Service) (int, error)) Result {

	total := 0
	for _, svc := range svcs {
		if n, err := count(svc); err == nil {
			total += n
		}
	}
	var bar *pb.ProgressBar
	if total > 1 {
		bar = pb.New(total)
		bar.Output = os.Stderr
		bar.ShowTimeLeft = false
		bar.Start()
	}

	pool := pond.New(d.cfg.DecompileWorkers, 0, pond.MinWorkers(1))
	results := make(chan Result, len(svcs))
	for _, svc := range svcs {
		svc := svc
		pool.Submit(func() {
			t, err := d.dial(transport.Options{
				Host:           svc.Host,
				Port:           svc.Port,
				Username:       svc.Username,
				Password:       svc.Password,
				ConnectTimeout: d.cfg.SSHConnectTimeout,
				CommandTimeout: d.cfg.SSHCommandTimeout,
			})
			if err != nil {
				d.logger.Errorf("Decompile failed: service %s/%s, phase connect, cause: %v",
					svc.ServiceName, svc.Environment, err)
				results <- Result{Failed: 1}
				return
			}
			defer t.Close()
			results <- work(svc, t, bar)
		})
	}
	pool.StopAndWait()
	close(results)
	var res Result
	for r := range results {
		res.add(r)
	}
	if bar != nil {
		bar.Finish()
	}
	return res
}

func (d *Driver) jarsForService(svc *store.Service, t transport.Transport, opts Options, bar *pb.ProgressBar) Result {
	var res Result
	jars, err := d.store.JarsForService(svc.ID)
	if err != nil {
		d.logger.Errorf("Decompile failed: service %s/%s, phase list, cause: %v",
			svc.ServiceName, svc.Environment, err)
		return Result{Failed: 1}
	}
	outRoot, err := svc.RenderPath(svc.JarDecompileOutputDir, d.cfg.ServerBasePath)
	if err != nil {
		d.logger.Errorf("Decompile failed: service %s/%s, phase render, cause: %v",
			svc.ServiceName, svc.Environment, err)
		return Result{Failed: 1}
	}
	remoteRoot, err := svc.RenderPath(svc.JarPath, d.cfg.ServerBasePath)
	if err != nil {
		d.logger.Errorf("Decompile failed: service %s/%s, phase render, cause: %v",
			svc.ServiceName, svc.Environment, err)
		return Result{Failed: 1}
	}
	for _, jf := range jars {
		if bar != nil {
			bar.Increment()
		}
		if jf.IsThirdParty && !opts.IncludeThirdParty {
			res.Skipped++
			continue
		}
		outDir := OutputDir(outRoot, jarStem(jf.JarName), svc, jf.LastModified)
		if !opts.Force && alreadyDecompiled(jf.DecompilePath, outDir) {
			d.logger.Debugf("AlreadyDecompiled: %s %s", svc.ServiceName, jf.JarName)
			res.Skipped++
			continue
		}
		binPath := filepath.Join(outRoot, "_jar", serviceTag(svc), jf.JarName)
		if err := t.Fetch(remoteRoot+"/"+jf.JarName, binPath); err != nil {
			d.logger.Errorf("Decompile failed: service %s/%s, artifact %s, phase fetch, cause: %v",
				svc.ServiceName, svc.Environment, jf.JarName, err)
			res.Failed++
			continue
		}
		if err := checkArchive(binPath); err != nil {
			d.logger.Errorf("Decompile failed: service %s/%s, artifact %s, phase verify, cause: %v",
				svc.ServiceName, svc.Environment, jf.JarName, err)
			res.Failed++
			continue
		}
		if err := d.store.UpdateJarFetch(jf.ID, binPath); err != nil {
			d.logger.Errorf("Decompile failed: service %s/%s, artifact %s, phase record, cause: %v",
				svc.ServiceName, svc.Environment, jf.JarName, err)
			res.Failed++
			continue
		}
		if err := d.invoke(binPath, outDir); err != nil {
			d.logger.Errorf("Decompile failed: service %s/%s, artifact %s, phase decompile, cause: %v",
				svc.ServiceName, svc.Environment, jf.JarName, err)
			d.store.UpdateJarDecompile(jf.ID, "")
			res.Failed++
			continue
		}
		if err := d.store.UpdateJarDecompile(jf.ID, outDir); err != nil {
			res.Failed++
			continue
		}
		d.logger.Debugf("Decompiled: %s %s -> %s", svc.ServiceName, jf.JarName, outDir)
		res.Decompiled++
	}
	return res
}

func (d *Driver) classesForService(svc *store.Service, t transport.Transport, opts Options, bar *pb.ProgressBar) Result {
	var res Result
	classes, err := d.store.ClassesForService(svc.ID)
	if err != nil {
		d.logger.Errorf("Decompile failed: service %s/%s, phase list, cause: %v",
			svc.ServiceName, svc.Environment, err)
		return Result{Failed: 1}
	}
	outRoot, err := svc.RenderPath(svc.ClassDecompileOutputDir, d.cfg.ServerBasePath)
	if err != nil {
		d.logger.Errorf("Decompile failed: service %s/%s, phase render, cause: %v",
			svc.ServiceName, svc.Environment, err)
		return Result{Failed: 1}
	}
	remoteRoot, err := svc.RenderPath(svc.ClassesPath, d.cfg.ServerBasePath)
	if err != nil {
		d.logger.Errorf("Decompile failed: service %s/%s, phase render, cause: %v",
			svc.ServiceName, svc.Environment, err)
		return Result{Failed: 1}
	}
	for _, cf := range classes {
		if bar != nil {
			bar.Increment()
		}
		relPath := classRelPath(cf.ClassFullName)
		outDir := OutputDir(outRoot, cf.ClassFullName, svc, cf.LastModified)
		if !opts.Force && alreadyDecompiled(cf.DecompilePath, outDir) {
			d.logger.Debugf("AlreadyDecompiled: %s %s", svc.ServiceName, cf.ClassFullName)
			res.Skipped++
			continue
		}
		binPath := filepath.Join(outRoot, "_class", serviceTag(svc), filepath.FromSlash(relPath))
		if err := t.Fetch(remoteRoot+"/"+relPath, binPath); err != nil {
			d.logger.Errorf("Decompile failed: service %s/%s, artifact %s, phase fetch, cause: %v",
				svc.ServiceName, svc.Environment, cf.ClassFullName, err)
			res.Failed++
			continue
		}
		if err := d.store.UpdateClassFetch(cf.ID, binPath); err != nil {
			res.Failed++
			continue
		}
		if err := d.invoke(binPath, outDir); err != nil {
			d.logger.Errorf("Decompile failed: service %s/%s, artifact %s, phase decompile, cause: %v",
				svc.ServiceName, svc.Environment, cf.ClassFullName, err)
			d.store.UpdateClassDecompile(cf.ID, "")
			res.Failed++
			continue
		}
		if err := d.store.UpdateClassDecompile(cf.ID, outDir); err != nil {
			res.Failed++
			continue
		}
		d.logger.Debugf("Decompiled: %s %s -> %s", svc.ServiceName, cf.ClassFullName, outDir)
		res.Decompiled++
	}
	return res
}

func (d *Driver) invoke(binPath string, outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", outDir)
	}
	timeout := d.cfg.DecompileTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.decompiler(ctx, binPath, outDir)
}

// OutputDir - {root}/{artifact_stem}/{YYYYMMDD}-{service}@{host}/
func OutputDir(root string, stem string, svc *store.Service, lastModified time.Time) string {
	return filepath.Join(root, stem,
		fmt.Sprintf("%s-%s", lastModified.UTC().Format("20060102"), serviceTag(svc)))
}

func serviceTag(svc *store.Service) string {
	return fmt.Sprintf("%s@%s", svc.ServiceName, svc.Host)
}

func jarStem(jarName string) string {
	return strings.TrimSuffix(jarName, ".jar")
}

func classRelPath(classFullName string) string {
	return strings.ReplaceAll(classFullName, ".", "/") + ".class"
}

// alreadyDecompiled - skip when the recorded dir is this pass's expected dir
// and holds at least one file
func alreadyDecompiled(recorded string, expected string) bool {
	if recorded == "" || recorded != expected {
		return false
	}
	entries, err := os.ReadDir(recorded)
	return err == nil && len(entries) > 0
}

// checkArchive rejects fetched jars which are not actually zip archives
// (truncated fetches, error pages, placeholder files).
func checkArchive(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, 261)
	n, _ := f.Read(head)
	if !filetype.Is(head[:n], "zip") {
		return errors.Errorf("not a java archive: %s", path)
	}
	return nil
}
