// Package exdep checks for external programs.
package exdep

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrToolNotFound is wrapped by errors about missing programs.
var ErrToolNotFound = errors.New("external tool not found")

// Dep represents an external tool dependency.
type Dep struct {
	Name  string
	Links []string
	Docs  string
}

// DCDump is the DataCite dump tool.
var DCDump = Dep{
	Name:  "dcdump",
	Links: []string{"https://github.com/miku/dcdump"},
	Docs:  "dcdump harvests the DataCite API into newline delimited JSON",
}

// Check returns an error for each missing dependency.
func Check(deps ...Dep) []error {
	var errs []error
	for _, dep := range deps {
		if err := dep.Check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Check looks up a single tool. Names with a path separator are checked as
// given.
func (dep Dep) Check() error {
	if _, err := exec.LookPath(dep.Name); err != nil {
		return fmt.Errorf("%s: %w: %v [%s, %s]",
			dep.Name, ErrToolNotFound, err, dep.Docs, strings.Join(dep.Links, ", "))
	}
	return nil
}
