package core

import (
	"errors"
	"strings"
	"testing"
)

func testRegistry() *LanguageRegistry {
	return NewLanguageRegistry(Load())
}

func TestLanguageLookup(t *testing.T) {
	r := testRegistry()

	for _, tag := range []string{"python", "c", "c++", "PYTHON", " c++ "} {
		if _, err := r.Lookup(tag); err != nil {
			t.Fatalf("Lookup(%q) unexpected error: %v", tag, err)
		}
	}

	if _, err := r.Lookup("cobol"); !errors.Is(err, ErrUnknownLanguage) {
		t.Fatalf("Lookup(cobol) = %v, want ErrUnknownLanguage", err)
	}
}

func TestLanguageTemplatesUseSandboxPaths(t *testing.T) {
	r := testRegistry()

	py, _ := r.Lookup("python")
	if py.Compile != nil {
		t.Fatalf("python should not have a compile template")
	}
	if py.Run[len(py.Run)-1] != SandboxSourceStem+".py" {
		t.Fatalf("python run template = %v", py.Run)
	}

	for _, tag := range []string{"c", "c++"} {
		l, _ := r.Lookup(tag)
		if l.Compile == nil {
			t.Fatalf("%s must have a compile template", tag)
		}
		joined := strings.Join(l.Compile, " ")
		if !strings.Contains(joined, SandboxSourceStem+l.Ext) || !strings.Contains(joined, SandboxProgPath) {
			t.Fatalf("%s compile template missing sandbox paths: %v", tag, l.Compile)
		}
		if l.Run[0] != SandboxProgPath {
			t.Fatalf("%s run template should execute %s: %v", tag, SandboxProgPath, l.Run)
		}
	}
}
