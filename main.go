package main

// jarview inventories, versions and diffs the Java artifacts deployed across
// a fleet of services. Each stage of the pipeline is a sub-command sharing a
// sqlite store:
//   register-services     sync the service registry document
//   collect-jars/classes  list artifacts per service
//   decompile-jars/classes fetch binaries and run the decompiler
//   ingest-sources        dedup decompiled .java files by content hash
//   assign-versions       number distinct binaries per artifact name
//   sweep-orphans         drop unreferenced source versions
//   diff                  unified diffs between two versions
//   graph                 graphviz dot of the fleet structure

import (
	"fmt"
	"os"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jarview/jarview/assign"
	"github.com/jarview/jarview/collect"
	"github.com/jarview/jarview/config"
	"github.com/jarview/jarview/decompile"
	"github.com/jarview/jarview/diffsvc"
	"github.com/jarview/jarview/graph"
	"github.com/jarview/jarview/ingest"
	"github.com/jarview/jarview/query"
	"github.com/jarview/jarview/store"
	"github.com/jarview/jarview/version"
)

// Exit codes shared by all commands
const (
	exitOK         = 0
	exitIO         = 1
	exitConfig     = 2
	exitTransport  = 3
	exitDecompiler = 4
)

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for jarview.",
		).Default("jarview.yaml").Short('c').String()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
		memProfile = kingpin.Flag(
			"profile.mem",
			"Write a memory profile on exit.",
		).Bool()

		register       = kingpin.Command("register-services", "Sync the service registry document into the store.")
		registerDoc    = register.Flag("services", "Service registry document (JSON).").String()
		registerSample = register.Flag("create-sample", "Write a sample registry document and exit.").String()

		collectJars    = kingpin.Command("collect-jars", "List jar files for the selected services.")
		collectClasses = kingpin.Command("collect-classes", "List loose class files for the selected services.")

		decompileJars    = kingpin.Command("decompile-jars", "Fetch and decompile jars for the selected services.")
		decompileClasses = kingpin.Command("decompile-classes", "Fetch and decompile loose classes for the selected services.")

		ingestSources = kingpin.Command("ingest-sources", "Walk decompile output and dedup sources by content hash.")
		ingestJarName = ingestSources.Flag("jar-name", "Narrow to one jar name.").String()
		ingestClass   = ingestSources.Flag("class-name", "Narrow to one class full name.").String()
		ingestDryRun  = ingestSources.Flag("dry-run", "Report planned writes without executing them.").Bool()

		assignVersions = kingpin.Command("assign-versions", "Assign version numbers per artifact name across the fleet.")
		assignJars     = assignVersions.Flag("jars", "Assign jar versions only.").Bool()
		assignClasses  = assignVersions.Flag("classes", "Assign class versions only.").Bool()
		assignJarName  = assignVersions.Flag("jar-name", "Narrow to one jar name.").String()
		assignClass    = assignVersions.Flag("class-name", "Narrow to one class full name.").String()

		sweepOrphans = kingpin.Command("sweep-orphans", "Remove unreferenced source versions (dry run by default).")
		sweepExecute = sweepOrphans.Flag("execute", "Actually delete; default is a dry run.").Bool()

		diffCmd  = kingpin.Command("diff", "Unified diff between two versions of an artifact.")
		diffKind = diffCmd.Flag("kind", "Artifact kind: jar or class.").Default("jar").Enum("jar", "class")
		diffName = diffCmd.Flag("name", "Artifact name.").Required().String()
		diffFrom = diffCmd.Flag("from", "From version.").Required().Int()
		diffTo   = diffCmd.Flag("to", "To version.").Required().Int()
		diffFile = diffCmd.Flag("file", "Narrow to one file path.").String()

		graphCmd = kingpin.Command("graph", "Write a graphviz dot file of services and jar versions.")
		graphOut = graphCmd.Flag("out", "Output file (default stdout).").String()
	)

	// Shared selectors registered on every fleet-facing command
	type selector struct {
		service     *string
		environment *string
		all         *bool
		force       *bool
		thirdParty  *bool
	}
	selectors := make(map[string]*selector)
	for _, cmd := range []*kingpin.CmdClause{collectJars, collectClasses, decompileJars, decompileClasses, ingestSources} {
		sel := &selector{
			service:     cmd.Flag("service", "Service name to process.").String(),
			environment: cmd.Flag("environment", "Narrow to one environment.").String(),
			all:         cmd.Flag("all-services", "Process every registered service.").Bool(),
		}
		selectors[cmd.FullCommand()] = sel
	}
	for _, cmd := range []*kingpin.CmdClause{decompileJars, decompileClasses} {
		sel := selectors[cmd.FullCommand()]
		sel.force = cmd.Flag("force", "Re-run decompilation unconditionally.").Bool()
		sel.thirdParty = cmd.Flag("third-party", "Include third-party jars.").Bool()
	}

	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("jarview"))
	kingpin.CommandLine.Help = "Inventories, versions and diffs Java artifacts deployed across a fleet of services\n"
	kingpin.HelpFlag.Short('h')
	command := kingpin.Parse()

	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	if *memProfile {
		defer profile.Start(profile.MemProfile).Stop()
	}

	if command == "register-services" && *registerSample != "" {
		if err := os.WriteFile(*registerSample, []byte(config.SampleRegistry), 0644); err != nil {
			logger.Errorf("Failed to write sample: %v", err)
			os.Exit(exitIO)
		}
		logger.Infof("Wrote sample registry document: %s", *registerSample)
		return
	}

	cfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		logger.Errorf("error loading config file: %v", err)
		os.Exit(exitConfig)
	}

	st, err := store.Open(logger, cfg.StorePath)
	if err != nil {
		logger.Errorf("error opening store: %v", err)
		os.Exit(exitIO)
	}
	defer st.Close()

	selectServices := func() []*store.Service {
		sel := selectors[command]
		svcs, err := st.SelectServices(*sel.service, *sel.environment, *sel.all)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(exitConfig)
		}
		return svcs
	}

	switch command {
	case "register-services":
		if *registerDoc == "" {
			logger.Errorf("register-services needs --services or --create-sample")
			os.Exit(exitConfig)
		}
		doc, err := config.LoadRegistryFile(*registerDoc)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(exitConfig)
		}
		res, err := st.SyncServices(doc)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(exitIO)
		}
		logger.Infof("Services synced: %d inserted, %d updated, %d skipped", res.Inserted, res.Updated, res.Skipped)

	case "collect-jars", "collect-classes":
		svcs := selectServices()
		c := collect.NewCollector(logger, st, cfg)
		var res collect.Result
		if command == "collect-jars" {
			res = c.CollectJars(svcs)
		} else {
			res = c.CollectClasses(svcs)
		}
		logger.Infof("Collected %d artifact(s) from %d service(s), %d failed", res.Artifacts, res.Services, res.Failed)
		if res.Failed == res.Services && res.Services > 0 {
			os.Exit(exitTransport)
		}
		if res.Failed > 0 {
			os.Exit(exitIO)
		}

	case "decompile-jars", "decompile-classes":
		if cfg.DecompileCmd == "" {
			logger.Errorf("decompile_cmd is not configured")
			os.Exit(exitConfig)
		}
		svcs := selectServices()
		sel := selectors[command]
		d := decompile.NewDriver(logger, st, cfg, decompile.CommandDecompiler(cfg.DecompileCmd))
		opts := decompile.Options{Force: *sel.force, IncludeThirdParty: *sel.thirdParty}
		var res decompile.Result
		if command == "decompile-jars" {
			res = d.DecompileJars(svcs, opts)
		} else {
			res = d.DecompileClasses(svcs, opts)
		}
		logger.Infof("Decompiled %d, skipped %d, failed %d", res.Decompiled, res.Skipped, res.Failed)
		if res.Failed > 0 {
			os.Exit(exitDecompiler)
		}

	case "ingest-sources":
		svcs := selectServices()
		ig := ingest.NewIngestor(logger, st)
		res, err := ig.Run(svcs, ingest.Options{
			JarName:   *ingestJarName,
			ClassName: *ingestClass,
			DryRun:    *ingestDryRun,
		})
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(exitIO)
		}
		logger.Infof("Sources: %d seen, %d new, %d reused, %d jar links, %d classes linked, %d skipped",
			res.FilesSeen, res.NewVersions, res.Reused, res.LinksCreated, res.ClassesLinked, res.SkippedFiles)

	case "assign-versions":
		a := assign.NewAssigner(logger, st)
		doJars := *assignJars || !*assignClasses
		doClasses := *assignClasses || !*assignJars
		if doJars {
			if err := a.AssignJars(*assignJarName); err != nil {
				logger.Errorf("%v", err)
				os.Exit(exitIO)
			}
		}
		if doClasses {
			if err := a.AssignClasses(*assignClass); err != nil {
				logger.Errorf("%v", err)
				os.Exit(exitIO)
			}
		}

	case "sweep-orphans":
		sw := assign.NewSweeper(logger, st)
		res, err := sw.Run(*sweepExecute)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(exitIO)
		}
		mode := "would remove"
		if *sweepExecute {
			mode = "removed"
		}
		logger.Infof("Orphans: %s %d version(s) across %d identit(ies), %d identit(ies) gone",
			mode, res.VersionsRemoved, res.Identities, res.IdentitiesRemoved)

	case "diff":
		q := query.New(st, diffsvc.New(logger, st))
		res, err := q.Diff(*diffKind, *diffName, *diffFrom, *diffTo, *diffFile)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(exitIO)
		}
		fmt.Printf("insertions: %d, deletions: %d, files changed: %d\n",
			res.Summary.Insertions, res.Summary.Deletions, res.Summary.FilesChanged)
		for _, fd := range res.Files {
			fmt.Printf("\n%s (%s, +%d -%d, %d%%)\n%s",
				fd.FilePath, fd.ChangeType, fd.Additions, fd.Deletions, fd.ChangePercentage, fd.DiffText)
		}

	case "graph":
		out := os.Stdout
		if *graphOut != "" {
			f, err := os.Create(*graphOut)
			if err != nil {
				logger.Errorf("Failed to create %s: %v", *graphOut, err)
				os.Exit(exitIO)
			}
			defer f.Close()
			out = f
		}
		if err := graph.Write(st, out); err != nil {
			logger.Errorf("%v", err)
			os.Exit(exitIO)
		}
	}
}
