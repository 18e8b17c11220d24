package store

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Service - one deployed process instance on a host
type Service struct {
	ID                      int64
	ServiceName             string
	Environment             string
	Host                    string
	Port                    int
	Username                string
	Password                string
	JarPath                 string
	ClassesPath             string
	JarDecompileOutputDir   string
	ClassDecompileOutputDir string
}

// IsLocal - empty credentials mean the paths are on the local filesystem, not SSH
func (s *Service) IsLocal() bool {
	return s.Username == "" && s.Password == ""
}

var placeholderRe = regexp.MustCompile(`\{[^{}]*\}`)

// RenderPath substitutes {service_name} and {server_base_path} in a path
// template. Any other {...} placeholder is a hard error.
func (s *Service) RenderPath(template string, serverBasePath string) (string, error) {
	p := strings.ReplaceAll(template, "{service_name}", s.ServiceName)
	p = strings.ReplaceAll(p, "{server_base_path}", serverBasePath)
	if m := placeholderRe.FindString(p); m != "" {
		return "", fmt.Errorf("unknown placeholder %s in path template %s", m, template)
	}
	return p, nil
}

// JarFile - one observed jar per (service, jar_name)
type JarFile struct {
	ID            int64
	ServiceID     int64
	JarName       string
	FileSize      int64
	LastModified  time.Time
	IsThirdParty  bool
	FilePath      string // local cache of the fetched binary
	DecompilePath string
	VersionNo     int
	LastVersionNo int
}

// ClassFile - one observed loose class per (service, class_full_name)
type ClassFile struct {
	ID              int64
	ServiceID       int64
	ClassFullName   string
	FileSize        int64
	LastModified    time.Time
	FilePath        string
	DecompilePath   string
	VersionNo       int
	LastVersionNo   int
	SourceVersionID int64 // 0 when not yet ingested
}

// SourceIdentity - the fully-qualified class name, independent of version
type SourceIdentity struct {
	ID            int64
	ClassFullName string
}

// SourceVersion - one concrete content blob of a SourceIdentity
type SourceVersion struct {
	ID               int64
	SourceIdentityID int64
	FileContent      string
	FileSize         int64
	FileHash         string
	LineCount        int
	Version          string // comma-joined sorted set of version tokens
	UpdatedAt        time.Time
}

// VersionTokens - the version label split back into its set form
func (sv *SourceVersion) VersionTokens() []string {
	if sv.Version == "" {
		return nil
	}
	return strings.Split(sv.Version, ",")
}

// JarSourceLink - "this concrete jar row contains this concrete source version"
type JarSourceLink struct {
	ID              int64
	JarFileID       int64
	SourceVersionID int64
}

// DiffEntry - one cached diff row. FilePath is empty for the aggregate row.
type DiffEntry struct {
	ID               int64
	ArtifactKind     string
	ArtifactName     string
	FromVersion      int
	ToVersion        int
	FilePath         string
	ChangeType       string
	Additions        int
	Deletions        int
	ChangePercentage int
	FilesChanged     int
	DiffText         string
	ComputedAt       time.Time
}
