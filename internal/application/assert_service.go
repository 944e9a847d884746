package application

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openkraft/categoryassert/internal/domain"
	"github.com/openkraft/categoryassert/internal/domain/scan"
	"github.com/openkraft/categoryassert/internal/domain/validation"
)

// LocatorFactory builds the locator for an include pattern.
type LocatorFactory func(include string) domain.BinaryLocator

// LoaderFactory builds a loader whose dependencies resolve from dir.
type LoaderFactory func(dir string) (domain.BinaryLoader, error)

// DirectoryNotFoundError reports a missing assemblies directory.
type DirectoryNotFoundError struct {
	Path string
}

func (e *DirectoryNotFoundError) Error() string {
	return fmt.Sprintf("The directory \"%s\" was not found.", e.Path)
}

// Summary describes a completed run.
type Summary struct {
	Directory  string
	Candidates int
	Excluded   int
	Skipped    int
	Scanned    int
	Violations int
}

// AssertService checks every test binary of a directory against the
// category policy.
type AssertService struct {
	locators LocatorFactory
	loaders  LoaderFactory
	log      *slog.Logger
}

// NewAssertService creates an AssertService. A nil logger discards output.
func NewAssertService(locators LocatorFactory, loaders LoaderFactory, log *slog.Logger) *AssertService {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &AssertService{locators: locators, loaders: loaders, log: log}
}

// Run scans dir with cfg and hands every validated result to reporter.
// Binaries that fail to load are logged and skipped. A framework version
// mismatch aborts before anything is reported, and a type that cannot be
// materialized aborts the run where it is found.
func (s *AssertService) Run(dir string, cfg domain.Config, reporter domain.Reporter) (*Summary, error) {
	cfg = cfg.WithDefaults()
	expected, err := cfg.FrameworkVersion()
	if err != nil {
		return nil, fmt.Errorf("framework version: %w", err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return nil, &DirectoryNotFoundError{Path: absDir}
	}
	summary := &Summary{Directory: absDir}

	start := time.Now()
	candidates, err := s.locators(cfg.Include).Locate(absDir)
	if err != nil {
		return nil, fmt.Errorf("locating binaries: %w", err)
	}
	summary.Candidates = len(candidates)
	exclusions := NewExclusions(cfg.ExcludedAssemblies)
	var paths []string
	for _, p := range candidates {
		if exclusions.Match(absDir, p) {
			s.log.Debug("excluded", "path", p)
			summary.Excluded++
			continue
		}
		paths = append(paths, p)
	}
	s.log.Debug("located binaries", "candidates", summary.Candidates, "excluded", summary.Excluded, "elapsed", time.Since(start))

	loader, err := s.loaders(absDir)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", absDir, err)
	}

	start = time.Now()
	check := scan.FrameworkCheck{Name: cfg.Framework.Name, Version: expected}
	binaries, skipped, err := s.preflight(loader, check, paths)
	defer closeAll(binaries)
	if err != nil {
		return nil, err
	}
	summary.Skipped = skipped
	s.log.Debug("framework check finished", "test_binaries", len(binaries), "skipped", skipped, "elapsed", time.Since(start))

	scanner := scan.NewScanner(cfg.Vocabulary)
	pipeline := validation.NewPipeline(
		domain.NewCategorySet(cfg.RequiredCategories...),
		domain.NewCategorySet(cfg.ProhibitedAssemblyCategories...),
	)
	s.log.Debug("validators", "names", pipeline.Names())

	for _, bin := range binaries {
		start = time.Now()
		result, err := scanner.Scan(bin)
		if err != nil {
			return nil, err
		}
		scanned := time.Since(start)

		start = time.Now()
		pipeline.Validate(result)
		s.log.Debug("checked binary",
			"name", result.Name,
			"fixtures", len(result.Fixtures),
			"tests", result.TestCount(),
			"violations", result.ViolationCount(),
			"scan", scanned,
			"validate", time.Since(start),
		)

		if err := reporter.Report(result); err != nil {
			return nil, fmt.Errorf("reporting %s: %w", result.Name, err)
		}
		summary.Scanned++
		summary.Violations += result.ViolationCount()
	}

	if err := reporter.Finish(summary.Violations); err != nil {
		return nil, fmt.Errorf("reporting: %w", err)
	}
	return summary, nil
}

// preflight loads every path and keeps the test binaries. The returned
// binaries are open even when err is non-nil.
func (s *AssertService) preflight(loader domain.BinaryLoader, check scan.FrameworkCheck, paths []string) ([]domain.Binary, int, error) {
	var binaries []domain.Binary
	skipped := 0
	for _, p := range paths {
		bin, err := loader.Load(p)
		if err != nil {
			var le *domain.LoadError
			if !errors.As(err, &le) {
				return binaries, skipped, err
			}
			s.log.Warn("Failed to load", "path", p, "error", le.Err)
			skipped++
			continue
		}
		ok, err := check.ReferencesFramework(bin)
		if err != nil {
			_ = bin.Close()
			return binaries, skipped, err
		}
		if !ok {
			s.log.Debug("not a test binary", "name", bin.Name())
			_ = bin.Close()
			continue
		}
		binaries = append(binaries, bin)
	}
	return binaries, skipped, nil
}

func closeAll(binaries []domain.Binary) {
	for _, b := range binaries {
		_ = b.Close()
	}
}
