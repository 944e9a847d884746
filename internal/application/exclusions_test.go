package application_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openkraft/categoryassert/internal/application"
)

func TestExclusions_Match(t *testing.T) {
	dir := filepath.FromSlash("/work/bin")
	path := func(rel string) string { return filepath.Join(dir, filepath.FromSlash(rel)) }

	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"file name", []string{"Legacy.Tests.dll"}, path("Legacy.Tests.dll"), true},
		{"case insensitive", []string{"legacy.tests.DLL"}, path("Legacy.Tests.dll"), true},
		{"stem", []string{"Legacy.Tests"}, path("Legacy.Tests.dll"), true},
		{"glob", []string{"Legacy.*"}, path("Legacy.Api.Tests.dll"), true},
		{"relative path", []string{"old/**"}, path("old/deep/Any.dll"), true},
		{"literal brackets", []string{"Odd[1].Tests.dll"}, path("Odd[1].Tests.dll"), true},
		{"literal braces", []string{"Odd{x}.Tests"}, path("Odd{x}.Tests.dll"), true},
		{"invalid glob still literal", []string{"Odd[.Tests.dll"}, path("Odd[.Tests.dll"), true},
		{"no match", []string{"Legacy.Tests.dll"}, path("Modern.Tests.dll"), false},
		{"blank ignored", []string{"  "}, path("Modern.Tests.dll"), false},
		{"empty list", nil, path("Modern.Tests.dll"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, application.NewExclusions(tt.patterns).Match(dir, tt.path))
		})
	}
}
