package harvest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dataesr/bso3-harvest-datacite-sub000/dateutil"
	"github.com/dataesr/bso3-harvest-datacite-sub000/exdep"
	log "github.com/sirupsen/logrus"
)

// DefaultPrefix of dump file names.
const DefaultPrefix = "dcdump-"

// Runner runs an external program and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ToolError is returned for a non-zero exit; the message is the standard
// output of the tool.
type ToolError struct {
	Stdout string
	Err    error
}

func (e *ToolError) Error() string {
	if s := strings.TrimSpace(e.Stdout); s != "" {
		return s
	}
	return e.Err.Error()
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExecRunner runs programs with os/exec, standard error is passed through.
type ExecRunner struct{}

// Run executes a program.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	log.Debug(cmd)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ToolError{Stdout: stdout.String(), Err: err}
		}
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

// Tool wraps the dump tool command line.
type Tool struct {
	Name        string
	Runner      Runner
	MaxRequests int
	Workers     int
	Sleep       time.Duration
	Prefix      string
}

func (t *Tool) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

func (t *Tool) name() string {
	if t.Name == "" {
		return exdep.DCDump.Name
	}
	return t.Name
}

func (t *Tool) runner() Runner {
	if t.Runner == nil {
		return ExecRunner{}
	}
	return t.Runner
}

// Args returns the command line arguments for a request.
func (t *Tool) Args(req Request, debug bool) []string {
	args := []string{
		"-d", req.Directory,
		"-s", req.Start.Format(dateutil.ToolLayout),
		"-e", req.End.Format(dateutil.ToolLayout),
		"-i", SelectInterval(req.Interval),
		"-p", t.prefix(),
	}
	if t.MaxRequests > 0 {
		args = append(args, "-l", strconv.Itoa(t.MaxRequests))
	}
	if t.Workers > 0 {
		args = append(args, "-w", strconv.Itoa(t.Workers))
	}
	if t.Sleep > 0 {
		args = append(args, "-sleep", t.Sleep.String())
	}
	if debug {
		args = append(args, "-debug")
	}
	return args
}

var debugCount = regexp.MustCompile(`="(\d+)\s`)

// ParseDebugCount finds the number of slices in the debug output of the
// tool, looking at the last line which carries a count.
func ParseDebugCount(output string) (int, bool) {
	var (
		n     int
		found bool
	)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := debugCount.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		n, found = v, true
	}
	return n, found
}

// Slices runs the tool in debug mode and returns the number of slices it
// would download. If the tool reports no count, the count is computed.
func (t *Tool) Slices(ctx context.Context, req Request) (int, error) {
	out, err := t.runner().Run(ctx, t.name(), t.Args(req, true)...)
	if err != nil {
		return 0, err
	}
	if n, ok := ParseDebugCount(string(out)); ok {
		return n, nil
	}
	n := dateutil.Count(SelectInterval(req.Interval), req.Start, req.End)
	log.WithField("slices", n).Debug("no count in debug output, using computed slices")
	return n, nil
}

// Download runs the actual harvest.
func (t *Tool) Download(ctx context.Context, req Request) error {
	if err := os.MkdirAll(req.Directory, 0755); err != nil {
		return err
	}
	if _, err := t.runner().Run(ctx, t.name(), t.Args(req, false)...); err != nil {
		return fmt.Errorf("%s: %w", t.name(), err)
	}
	return nil
}

// CountDownloaded counts the files in dir whose names are strictly between
// prefix+start and prefix+end, timestamps formatted like 20060102150405.
func CountDownloaded(dir, prefix string, start, end time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var (
		lower = prefix + start.Format(dateutil.FileLayout)
		upper = prefix + end.Format(dateutil.FileLayout)
		n     int
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if lower < name && name < upper {
			n++
		}
	}
	return n, nil
}
