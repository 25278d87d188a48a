package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codekb/pkg/types"
)

func findFunction(t *testing.T, pf *types.ParsedFile, qualified string) types.ParsedFunction {
	t.Helper()
	for _, fn := range pf.Functions {
		if fn.QualifiedName() == qualified {
			return fn
		}
	}
	t.Fatalf("function %s not found", qualified)
	return types.ParsedFunction{}
}

func findClass(t *testing.T, pf *types.ParsedFile, name string) types.ParsedClass {
	t.Helper()
	for _, c := range pf.Classes {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("class %s not found", name)
	return types.ParsedClass{}
}

func importNames(pf *types.ParsedFile) []string {
	names := make([]string, 0, len(pf.Imports))
	for _, imp := range pf.Imports {
		names = append(names, imp.ImportedName)
	}
	return names
}

func hasCall(pf *types.ParsedFile, caller, callee string) bool {
	for _, c := range pf.Calls {
		if c.CallerFunction == caller && c.CalleeName == callee {
			return true
		}
	}
	return false
}

func TestGoParser_ValidFile(t *testing.T) {
	content := `package testpkg

import (
	"fmt"
	str "strings"
)

// MaxUsers caps the registry
const MaxUsers = 10

var registry map[string]*User

// User represents a user in the system
type User struct {
	Base
	ID   int
	Name string
}

// GetName returns the user's name
func (u *User) GetName() string {
	return str.TrimSpace(u.Name)
}

// NewUser creates a new user
func NewUser(id int, name string) (*User, error) {
	fmt.Println(name)
	u := &User{ID: id, Name: name}
	u.GetName()
	return u, nil
}
`
	pf, err := NewGoParser().Parse(context.Background(), "pkg/user.go", []byte(content))
	require.NoError(t, err)
	assert.False(t, pf.HasParseError())
	assert.NoError(t, pf.Validate())

	assert.ElementsMatch(t, []string{"fmt", "strings"}, importNames(pf))
	for _, imp := range pf.Imports {
		if imp.ImportedName == "strings" {
			assert.Equal(t, "str", imp.Alias)
		}
	}

	user := findClass(t, pf, "User")
	assert.Equal(t, []string{"Base"}, user.Bases)
	assert.Equal(t, "User represents a user in the system", user.Docstring)
	assert.Equal(t, 13, user.LineStart)

	getName := findFunction(t, pf, "User.GetName")
	assert.Equal(t, "User", getName.ParentClass)
	assert.Equal(t, "string", getName.ReturnType)
	assert.Equal(t, 20, getName.LineStart)
	assert.Equal(t, 22, getName.LineEnd)

	newUser := findFunction(t, pf, "NewUser")
	assert.Empty(t, newUser.ParentClass)
	assert.Equal(t, []string{"id", "name"}, newUser.Params)
	assert.Equal(t, "(*User, error)", newUser.ReturnType)

	assert.True(t, hasCall(pf, "NewUser", "Println"))
	assert.True(t, hasCall(pf, "NewUser", "GetName"))
	assert.True(t, hasCall(pf, "User.GetName", "TrimSpace"))

	vars := map[string]string{}
	for _, v := range pf.Variables {
		vars[v.Name] = v.Scope
	}
	assert.Equal(t, map[string]string{"MaxUsers": "module", "registry": "module"}, vars)
}

func TestGoParser_InterfaceEmbedding(t *testing.T) {
	content := `package io

// ReadCloser groups Read and Close
type ReadCloser interface {
	Reader
	Close() error
}
`
	pf, err := NewGoParser().Parse(context.Background(), "io.go", []byte(content))
	require.NoError(t, err)

	rc := findClass(t, pf, "ReadCloser")
	assert.Equal(t, []string{"Reader"}, rc.Bases)
}

func TestGoParser_SyntaxError(t *testing.T) {
	content := `package main

func ok() {}

func incomplete( {
}
`
	pf, err := NewGoParser().Parse(context.Background(), "bad.go", []byte(content))

	// Parser should not return error, but result should carry the syntax error
	require.NoError(t, err)
	assert.True(t, pf.HasParseError())
	assert.Contains(t, pf.ParseError, "syntax error")
}

func TestGoParser_EmptyFile(t *testing.T) {
	pf, err := NewGoParser().Parse(context.Background(), "empty.go", nil)
	require.NoError(t, err)
	assert.True(t, pf.HasParseError())
	assert.True(t, pf.Unusable())
}

func TestGoParser_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGoParser().Parse(ctx, "a.go", []byte("package a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPythonParser_ClassesAndMethods(t *testing.T) {
	content := `"""Module docs."""
import os
import numpy as np
from pkg.util import helper, other as o

LIMIT: int = 5


class Base:
    pass


class Service(Base, object):
    """Handles requests."""

    retries = 3

    def __init__(self, name, *args, timeout=5, **kwargs):
        self.name = name

    def run(self, payload: dict) -> bool:
        """Run the service."""
        data = helper(payload)
        self.validate(data)
        return os.path.exists(data)

    @staticmethod
    def validate(data):
        return bool(data)


def main():
    svc = Service("x")
    svc.run({})
`
	pf, err := NewPythonParser().Parse(context.Background(), "pkg/service.py", []byte(content))
	require.NoError(t, err)
	assert.False(t, pf.HasParseError())
	assert.NoError(t, pf.Validate())

	svc := findClass(t, pf, "Service")
	assert.Equal(t, []string{"Base"}, svc.Bases)
	assert.Equal(t, "Handles requests.", svc.Docstring)
	assert.Equal(t, 14, svc.LineStart)

	initFn := findFunction(t, pf, "Service.__init__")
	assert.Equal(t, []string{"name", "*args", "timeout", "**kwargs"}, initFn.Params)

	run := findFunction(t, pf, "Service.run")
	assert.Equal(t, "Service", run.ParentClass)
	assert.Equal(t, []string{"payload"}, run.Params)
	assert.Equal(t, "bool", run.ReturnType)
	assert.Equal(t, "Run the service.", run.Docstring)

	validate := findFunction(t, pf, "Service.validate")
	assert.Equal(t, 30, validate.LineStart)

	mainFn := findFunction(t, pf, "main")
	assert.Empty(t, mainFn.ParentClass)

	assert.True(t, hasCall(pf, "Service.run", "helper"))
	assert.True(t, hasCall(pf, "Service.run", "validate"))
	assert.True(t, hasCall(pf, "Service.run", "exists"))
	assert.True(t, hasCall(pf, "main", "Service"))
	assert.True(t, hasCall(pf, "main", "run"))

	assert.ElementsMatch(t,
		[]string{"os", "numpy", "pkg.util", "pkg.util.helper", "pkg.util.other"},
		importNames(pf))

	scopes := map[string]string{}
	for _, v := range pf.Variables {
		scopes[v.Name] = v.Scope
	}
	assert.Equal(t, "module", scopes["LIMIT"])
	assert.Equal(t, "class:Service", scopes["retries"])
}

func TestPythonParser_RelativeImports(t *testing.T) {
	content := `from . import sibling
from .models import User
from ..core import engine
`
	pf, err := NewPythonParser().Parse(context.Background(), "app/api/views.py", []byte(content))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"app.api", "app.api.sibling",
		"app.api.models", "app.api.models.User",
		"app.core", "app.core.engine",
	}, importNames(pf))
}

func TestPythonParser_SyntaxError(t *testing.T) {
	content := `def ok():
    return 1

def broken(:
`
	pf, err := NewPythonParser().Parse(context.Background(), "bad.py", []byte(content))
	require.NoError(t, err)
	assert.True(t, pf.HasParseError())
	findFunction(t, pf, "ok")
	assert.False(t, pf.Unusable())
}

func TestPythonParser_InvalidUTF8(t *testing.T) {
	pf, err := NewPythonParser().Parse(context.Background(), "bin.py", []byte{0xff, 0xfe, 0x00})
	require.NoError(t, err)
	assert.True(t, pf.Unusable())
}

func TestRegistry_ParseFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.py"), []byte("def foo():\n    pass\n"), 0o644))

	reg := DefaultRegistry()
	assert.True(t, reg.Supports("x/y.go"))
	assert.True(t, reg.Supports("x/y.PY"))
	assert.False(t, reg.Supports("README.md"))
	assert.Equal(t, []string{"go", "python"}, reg.Languages())
	assert.Equal(t, "python", reg.LanguageFor("a.py"))

	pf, err := reg.ParseFile(context.Background(), root, "pkg/a.py")
	require.NoError(t, err)
	assert.Equal(t, "pkg/a.py", pf.Path)
	assert.Equal(t, "python", pf.Language)
	assert.Equal(t, HashContent([]byte("def foo():\n    pass\n")), pf.Hash)
	assert.Len(t, pf.Hash, 64)
	require.Len(t, pf.Functions, 1)
	assert.Equal(t, "pkg/a.py", pf.Functions[0].FilePath)
}

func TestRegistry_Errors(t *testing.T) {
	root := t.TempDir()
	reg := DefaultRegistry()

	_, err := reg.ParseFile(context.Background(), root, "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, err = reg.ParseFile(context.Background(), root, "missing.go")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat file")
}
