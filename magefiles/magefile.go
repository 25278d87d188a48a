//go:build mage

// Package main contains Mage build targets for codekb developer tooling.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir  = "bin"
	binName = "codekb"
	cmdPkg  = "./cmd/codekb"
)

// Default target when mage is run without arguments.
var Default = Build

func ldflags() string {
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("-X main.version=%s -X main.buildTime=%s", version, time.Now().UTC().Format(time.RFC3339))
}

func build(out string, env map[string]string, tags string) error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	args := []string{"build", "-ldflags", ldflags(), "-o", out}
	if tags != "" {
		args = append(args, "-tags", tags)
	}
	args = append(args, cmdPkg)
	if err := sh.RunWithV(env, "go", args...); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Build compiles the pure Go binary (modernc.org/sqlite, no cgo) into bin/.
func Build() error {
	return build(filepath.Join(binDir, binName), map[string]string{"CGO_ENABLED": "0"}, "purego")
}

// BuildCGO compiles the cgo binary (mattn/go-sqlite3) into bin/.
func BuildCGO() error {
	return build(filepath.Join(binDir, binName+"-cgo"), map[string]string{"CGO_ENABLED": "1"}, "sqlite_vec")
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Vet runs go vet over every package.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Check runs vet and the tests.
func Check() {
	mg.SerialDeps(Vet, Test)
}

// Clean removes build output.
func Clean() error {
	return sh.Rm(binDir)
}
