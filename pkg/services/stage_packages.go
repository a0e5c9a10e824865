package services

import (
	"context"
	"encoding/json"
	"path"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/models"
)

// legacyPackages are dependencies with well-known unmaintained or
// superseded status, flagged without a registry lookup.
var legacyPackages = map[string]string{
	"request":    "unmaintained since 2020, use fetch or axios",
	"moment":     "in maintenance mode, project recommends alternatives",
	"left-pad":   "trivial dependency, inline the logic",
	"nose":       "unmaintained, use pytest",
	"gulp":       "largely superseded by bundler-native pipelines",
	"bower":      "deprecated package manager",
	"node-sass":  "deprecated, use dart-sass",
	"tslint":     "deprecated, use eslint",
	"urllib2":    "python 2 era",
	"simplejson": "stdlib json suffices on modern python",
}

var requirementLine = regexp.MustCompile(`^([A-Za-z0-9_.-]+)\s*([><=~!]=?\s*[\w.*]+.*)?$`)
var goModRequire = regexp.MustCompile(`^\s*([\w./-]+)\s+v([\w.+-]+)`)
var pomArtifact = regexp.MustCompile(`<artifactId>([^<]+)</artifactId>`)

// PackageIntelligence parses the dependency manifests captured in the
// ingest sample and emits package signals. It is deliberately offline:
// heuristics over declared versions, no registry round trips, so the pass
// stays cheap and deterministic.
type PackageIntelligence struct {
	logger *zap.Logger
}

// NewPackageIntelligence creates the package analysis pass.
func NewPackageIntelligence(logger *zap.Logger) *PackageIntelligence {
	return &PackageIntelligence{logger: logger.Named("package-intelligence")}
}

var _ PackageAnalyzer = (*PackageIntelligence)(nil)

// Analyze implements PackageAnalyzer.
func (p *PackageIntelligence) Analyze(ctx context.Context, analysis *models.Analysis) (*models.PackageReport, error) {
	ingested, ok := analysis.StageResults[string(models.StageIngesting)]
	if !ok || ingested.Ingest == nil {
		// No sample at all is an ingest defect; an empty report keeps
		// the pass non-critical.
		return &models.PackageReport{}, nil
	}

	report := &models.PackageReport{}
	for _, f := range ingested.Ingest.Files {
		base := strings.ToLower(path.Base(f.Path))
		var signals []models.PackageSignal
		switch base {
		case "package.json":
			signals = analyzeNPM(f.Content)
		case "requirements.txt":
			signals = analyzeRequirements(f.Content)
		case "go.mod":
			signals = analyzeGoMod(f.Content)
		case "cargo.toml":
			signals = analyzeCargo(f.Content)
		case "pom.xml":
			signals = analyzePom(f.Content)
		default:
			continue
		}
		report.Manifests = append(report.Manifests, f.Path)
		report.Packages = append(report.Packages, signals...)
	}

	sort.Slice(report.Packages, func(i, j int) bool {
		return report.Packages[i].Name < report.Packages[j].Name
	})

	p.logger.Info("package manifests analyzed",
		zap.String("analysis_id", analysis.ID.String()),
		zap.Strings("manifests", report.Manifests),
		zap.Int("signals", len(report.Packages)))
	return report, nil
}

func analyzeNPM(content string) []models.PackageSignal {
	var manifest struct {
		Dependencies     map[string]string `json:"dependencies"`
		DevDependencies  map[string]string `json:"devDependencies"`
		PeerDependencies map[string]string `json:"peerDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &manifest); err != nil {
		return nil
	}

	all := make(map[string]string)
	for _, deps := range []map[string]string{manifest.Dependencies, manifest.DevDependencies, manifest.PeerDependencies} {
		for name, version := range deps {
			all[name] = version
		}
	}

	var signals []models.PackageSignal
	for name, version := range all {
		signals = appendSignal(signals, "npm", name, version)
	}
	return signals
}

func analyzeRequirements(content string) []models.PackageSignal {
	var signals []models.PackageSignal
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		m := requirementLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		signals = appendSignal(signals, "pypi", m[1], strings.TrimSpace(m[2]))
	}
	return signals
}

func analyzeGoMod(content string) []models.PackageSignal {
	var signals []models.PackageSignal
	inRequire := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "require ("):
			inRequire = true
			continue
		case inRequire && trimmed == ")":
			inRequire = false
			continue
		case strings.HasPrefix(trimmed, "require "):
			trimmed = strings.TrimPrefix(trimmed, "require ")
		case !inRequire:
			continue
		}
		if strings.Contains(trimmed, "// indirect") {
			continue
		}
		m := goModRequire.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		signals = appendSignal(signals, "go", m[1], "v"+m[2])
	}
	return signals
}

func analyzeCargo(content string) []models.PackageSignal {
	var signals []models.PackageSignal
	inDeps := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "[dependencies]" || line == "[dev-dependencies]":
			inDeps = true
			continue
		case strings.HasPrefix(line, "["):
			inDeps = false
			continue
		}
		if !inDeps || line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		name := strings.Trim(strings.TrimSpace(parts[0]), `"`)
		version := strings.Trim(strings.TrimSpace(parts[1]), `"`)
		if strings.HasPrefix(version, "{") {
			version = ""
		}
		signals = appendSignal(signals, "cargo", name, version)
	}
	return signals
}

func analyzePom(content string) []models.PackageSignal {
	var signals []models.PackageSignal
	seen := make(map[string]bool)
	for _, m := range pomArtifact.FindAllStringSubmatch(content, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		signals = appendSignal(signals, "maven", name, "")
	}
	return signals
}

// appendSignal records a package only when a heuristic fires. Clean
// dependencies produce no signal.
func appendSignal(signals []models.PackageSignal, ecosystem, name, version string) []models.PackageSignal {
	signal := models.PackageSignal{
		Name:      name,
		Version:   version,
		Ecosystem: ecosystem,
	}

	if note, legacy := legacyPackages[strings.ToLower(name)]; legacy {
		signal.Legacy = true
		signal.Note = note
	}

	cleaned := strings.TrimLeft(version, "^~><= v")
	switch {
	case version == "" || version == "*" || version == "latest":
		signal.Unpinned = true
	case strings.HasPrefix(cleaned, "0."):
		signal.PreStable = true
	}

	if !signal.Unpinned && !signal.PreStable && !signal.Legacy {
		return signals
	}
	return append(signals, signal)
}
