package e2e_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkraft/categoryassert/internal/adapters/outbound/clrmeta/clrmetatest"
)

var binaryPath string

func TestMain(m *testing.M) {
	// Build binary before running tests
	dir, err := os.MkdirTemp("", "categoryassert-e2e")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	binaryPath = filepath.Join(dir, "categoryassert")
	cmd := exec.Command("go", "build", "-o", binaryPath, "../../cmd/categoryassert")
	if out, err := cmd.CombinedOutput(); err != nil {
		panic("build failed: " + string(out))
	}

	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	out, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}
	return string(out), exitCode
}

// status is the byte a POSIX parent observes for an exit code.
func status(code int) int { return code & 0xff }

func sampleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	a := clrmetatest.New("Sample.Tests")
	nu := a.NUnit(3, 13, 3, 0)
	a.Attribute(nu.Category, "Assembly")

	fx := a.Type("Sample.Tests", "CalculatorTests")
	fx.Attribute(nu.TestFixture)
	fx.Method("Adds").Attribute(nu.Test)
	sub := fx.Method("Subtracts")
	sub.Attribute(nu.Test)
	sub.Attribute(nu.Category, "Unit")

	other := a.Type("Sample.Tests", "ParserTests")
	other.Attribute(nu.TestFixture)
	other.Method("Parses", clrmetatest.Static()).Attribute(nu.Test)
	a.Write(t, dir, "Sample.Tests.dll")
	return dir
}

// --- Verdicts ---

func TestE2E_CategorizedBinaryPasses(t *testing.T) {
	out, code := run(t, "--assembliesPath", sampleDir(t), "--category", "Assembly")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Loading assemblies from")
}

func TestE2E_ExitStatusIsViolationCount(t *testing.T) {
	out, code := run(t, "--assembliesPath", sampleDir(t), "--category", "Crazy,Unit")
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "Test: Adds")
	assert.Contains(t, out, "Test: Parses")
}

func TestE2E_ProhibitedAssemblyCategory(t *testing.T) {
	dir := sampleDir(t)
	_, code := run(t, "--assembliesPath", dir, "--category", "Assembly", "--prohibitedAssemblyCategories", "Assembly")
	assert.Equal(t, 1, code)

	_, code = run(t, "--assembliesPath", dir, "--category", "Assembly", "--prohibitedAssemblyCategories", "OtherCategory")
	assert.Equal(t, 0, code)
}

func TestE2E_ExcludedAssembly(t *testing.T) {
	_, code := run(t, "--assembliesPath", sampleDir(t), "--category", "Crazy", "--excludedAssembly", "Sample.Tests.dll")
	assert.Equal(t, 0, code)
}

func TestE2E_JSON(t *testing.T) {
	out, code := run(t, "--assembliesPath", sampleDir(t), "--category", "Crazy", "--format", "json")
	assert.Equal(t, 3, code)

	var report struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Total)
}

// --- Failures ---

func TestE2E_FrameworkVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	a := clrmetatest.New("Legacy.Tests")
	nu := a.NUnit(2, 6, 4, 14350)
	a.Type("Legacy.Tests", "Tests").Attribute(nu.TestFixture)
	a.Write(t, dir, "Legacy.Tests.dll")

	out, code := run(t, "--assembliesPath", dir, "--category", "Unit")
	assert.Equal(t, status(-102), code)
	assert.Contains(t, out, "Expected nunit.framework version 3.13.3.0")
}

func TestE2E_MissingDirectory(t *testing.T) {
	out, code := run(t, "--assembliesPath", filepath.Join(t.TempDir(), "nowhere"), "--category", "Unit")
	assert.Equal(t, status(-100), code)
	assert.Contains(t, out, "was not found.")
}

func TestE2E_Arguments(t *testing.T) {
	_, code := run(t)
	assert.Equal(t, status(-1), code)

	_, code = run(t, "/?")
	assert.Equal(t, 0, code)

	_, code = run(t, "--bogus")
	assert.Equal(t, status(-2), code)

	_, code = run(t, "--category", "Unit", "extra")
	assert.Equal(t, status(-3), code)
}

func TestE2E_Version(t *testing.T) {
	out, code := run(t, "--version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "categoryassert")
}
