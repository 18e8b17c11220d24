package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jarview/jarview/store"
)

// Ingestor walks decompile output trees and materializes the content
// addressed source store: identities, versions and jar links.
type Ingestor struct {
	logger *logrus.Logger
	store  *store.Store
}

func NewIngestor(logger *logrus.Logger, st *store.Store) *Ingestor {
	return &Ingestor{logger: logger, store: st}
}

// Options - composable selectors for one ingestion pass
type Options struct {
	JarName   string
	ClassName string
	DryRun    bool
}

// Result of one ingestion pass
type Result struct {
	FilesSeen     int
	NewVersions   int
	Reused        int
	LinksCreated  int
	ClassesLinked int
	SkippedFiles  int
}

// Run ingests every decompiled artifact of the selected services
func (ig *Ingestor) Run(svcs []*store.Service, opts Options) (Result, error) {
	var res Result
	for _, svc := range svcs {
		if err := ig.ingestJars(svc, opts, &res); err != nil {
			return res, err
		}
		if err := ig.ingestClasses(svc, opts, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (ig *Ingestor) ingestJars(svc *store.Service, opts Options, res *Result) error {
	// narrowing to a class name excludes jars
	if opts.ClassName != "" {
		return nil
	}
	jars, err := ig.store.JarsForService(svc.ID)
	if err != nil {
		return err
	}
	for _, jf := range jars {
		if opts.JarName != "" && jf.JarName != opts.JarName {
			continue
		}
		if jf.DecompilePath == "" {
			continue
		}
		files, err := ig.walkSources(jf.DecompilePath)
		if err != nil {
			ig.logger.Warnf("Ingest failed: service %s, artifact %s, phase walk, cause: %v",
				svc.ServiceName, jf.JarName, err)
			continue
		}
		for _, sf := range files {
			res.FilesSeen++
			if opts.DryRun {
				ig.logger.Infof("Would ingest %s from %s (%s)", sf.classFullName, jf.JarName, svc.ServiceName)
				continue
			}
			sv, created, err := ig.storeSource(sf)
			if err != nil {
				ig.logger.Warnf("Ingest failed: service %s, artifact %s, file %s, cause: %v",
					svc.ServiceName, jf.JarName, sf.classFullName, err)
				res.SkippedFiles++
				continue
			}
			if created {
				res.NewVersions++
			} else {
				res.Reused++
			}
			if err = ig.store.LinkJarSource(jf.ID, sv.ID); err != nil {
				return err
			}
			res.LinksCreated++
		}
	}
	return nil
}

func (ig *Ingestor) ingestClasses(svc *store.Service, opts Options, res *Result) error {
	classes, err := ig.store.ClassesForService(svc.ID)
	if err != nil {
		return err
	}
	for _, cf := range classes {
		if opts.ClassName != "" && cf.ClassFullName != opts.ClassName {
			continue
		}
		// narrowing to a jar name excludes loose classes
		if opts.JarName != "" {
			continue
		}
		if cf.DecompilePath == "" {
			continue
		}
		files, err := ig.walkSources(cf.DecompilePath)
		if err != nil {
			ig.logger.Warnf("Ingest failed: service %s, artifact %s, phase walk, cause: %v",
				svc.ServiceName, cf.ClassFullName, err)
			continue
		}
		for _, sf := range files {
			res.FilesSeen++
			// A class file has exactly one source; only the matching output counts
			if sf.classFullName != cf.ClassFullName && !strings.HasSuffix(cf.ClassFullName, "."+sf.classFullName) {
				ig.logger.Debugf("IgnoredOutput: %s under %s", sf.classFullName, cf.ClassFullName)
				res.SkippedFiles++
				continue
			}
			if opts.DryRun {
				ig.logger.Infof("Would ingest %s (%s)", cf.ClassFullName, svc.ServiceName)
				continue
			}
			sf.classFullName = cf.ClassFullName
			sv, created, err := ig.storeSource(sf)
			if err != nil {
				ig.logger.Warnf("Ingest failed: service %s, artifact %s, cause: %v",
					svc.ServiceName, cf.ClassFullName, err)
				res.SkippedFiles++
				continue
			}
			if created {
				res.NewVersions++
			} else {
				res.Reused++
			}
			if err = ig.store.SetClassSource(cf.ID, sv.ID); err != nil {
				return err
			}
			res.ClassesLinked++
		}
	}
	return nil
}

type sourceFile struct {
	classFullName string
	content       string
	hash          string
	lineCount     int
}

func (ig *Ingestor) storeSource(sf *sourceFile) (*store.SourceVersion, bool, error) {
	ident, err := ig.store.GetOrCreateIdentity(sf.classFullName)
	if err != nil {
		return nil, false, err
	}
	return ig.store.GetOrCreateSourceVersion(ident.ID, sf.content, sf.hash, sf.lineCount)
}

// walkSources collects every .java file below a decompile output dir.
// Directories named _jar and _class hold retained originals and are skipped.
func (ig *Ingestor) walkSources(root string) ([]*sourceFile, error) {
	var files []*sourceFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "_jar" || d.Name() == "_class" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".java") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			ig.logger.Warnf("Unreadable source file %s: %v", p, err)
			return nil
		}
		content := Normalize(raw)
		files = append(files, &sourceFile{
			classFullName: IdentityFromPath(filepath.ToSlash(rel)),
			content:       content,
			hash:          HashContent(content),
			lineCount:     LineCount(content),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to walk %s", root)
	}
	return files, nil
}

// IdentityFromPath maps a path below the timestamp root to a fully qualified
// class name: drop the extension, '/' to '.'.
func IdentityFromPath(rel string) string {
	name := strings.TrimSuffix(rel, ".java")
	return strings.ReplaceAll(name, "/", ".")
}

// Normalize maps CRLF line endings to LF
func Normalize(raw []byte) string {
	return strings.ReplaceAll(string(raw), "\r\n", "\n")
}

// HashContent - sha-256 over the normalized content
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// LineCount counts newlines, plus one if the content is non-empty and does
// not end in one. An empty file has zero lines.
func LineCount(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
