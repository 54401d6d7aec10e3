// Package waifu drives the external waifu2x-style upscaler executable.
package waifu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// ErrToolNotFound means the upscaler binary cannot be located. A run cannot
// make progress without it.
var ErrToolNotFound = errors.New("upscaler executable not found")

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// Fixed flags shared by every invocation.
const (
	gpuDevice    = "0"
	outputFormat = "png"
)

type Options struct {
	Tool     string
	ModelDir string
	Backend  string
	Depth    int
	Denoise  int
	Mode     string
	// LogWriter receives every output line of the child.
	LogWriter io.Writer
	Lines     func(stream OutputStream, line string)
}

// Request is one upscale attempt.
type Request struct {
	Input         string
	Output        string
	Magnification int
	BatchSize     int
	SplitSize     int
}

// Invoker runs one upscale attempt and reports the signed exit status of
// the tool. A negative status is a failed attempt; the error return is
// reserved for problems launching the tool at all.
type Invoker interface {
	Invoke(req Request) (int, error)
}

type Client struct {
	opts Options
	path string
}

type DependencyReport struct {
	ToolFound     bool   `json:"tool_found"`
	ToolPath      string `json:"tool_path,omitempty"`
	ModelDirFound bool   `json:"model_dir_found"`
	ModelDir      string `json:"model_dir"`
}

func NewClient(opts Options) (*Client, error) {
	path, err := lookupTool(opts.Tool)
	if err != nil {
		return nil, err
	}
	return &Client{opts: opts, path: path}, nil
}

func (c *Client) Path() string {
	return c.path
}

func DependencyStatus(tool, modelDir string) DependencyReport {
	report := DependencyReport{ModelDir: modelDir}
	if path, err := lookupTool(tool); err == nil {
		report.ToolFound = true
		report.ToolPath = path
	}
	if fi, err := os.Stat(modelDir); err == nil && fi.IsDir() {
		report.ModelDirFound = true
	}
	return report
}

func CheckDependencies(tool, modelDir string) error {
	report := DependencyStatus(tool, modelDir)
	if !report.ToolFound {
		return fmt.Errorf("%w: %s is not installed or not on PATH", ErrToolNotFound, tool)
	}
	if !report.ModelDirFound {
		return fmt.Errorf("missing dependency: model directory %s not found", modelDir)
	}
	return nil
}

func (c *Client) Args(req Request) []string {
	return []string{
		"--gpu", gpuDevice,
		"-b", strconv.Itoa(req.BatchSize),
		"-c", strconv.Itoa(req.SplitSize),
		"-d", strconv.Itoa(c.opts.Depth),
		"-p", c.opts.Backend,
		"--model_dir", c.opts.ModelDir,
		"-s", strconv.Itoa(req.Magnification),
		"-n", strconv.Itoa(c.opts.Denoise),
		"-m", c.opts.Mode,
		"-e", outputFormat,
		"-o", req.Output,
		"-i", req.Input,
	}
}

// Invoke waits for the child to exit. It deliberately has no context: an
// in-flight conversion is never killed.
func (c *Client) Invoke(req Request) (int, error) {
	if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.Output) == "" {
		return 0, fmt.Errorf("input and output paths are required")
	}
	return runCommand(c.path, c.Args(req), c.opts)
}

func lookupTool(tool string) (string, error) {
	name := strings.TrimSpace(tool)
	if name == "" {
		return "", fmt.Errorf("%w: no tool configured", ErrToolNotFound)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return path, nil
}

func runCommand(path string, args []string, opts Options) (int, error) {
	cmd := exec.Command(path, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrToolNotFound, path)
		}
		return 0, fmt.Errorf("start upscaler: %w", err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream OutputStream, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			if opts.LogWriter != nil {
				mu.Lock()
				_, _ = io.WriteString(opts.LogWriter, line+"\n")
				mu.Unlock()
			}
			if opts.Lines != nil {
				opts.Lines(stream, line)
			}
		}
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("wait for upscaler: %w", err)
		}
	}
	return exitStatus(cmd.ProcessState), nil
}

// exitStatus maps the platform exit code onto the tool's signed status. The
// tool reports failure as -1, which Unix truncates to 255 and Windows reports
// as 0xFFFFFFFF.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return signedStatus(state.ExitCode(), runtime.GOOS)
}

func signedStatus(code int, goos string) int {
	if code < 0 {
		// killed by a signal
		return code
	}
	if goos == "windows" {
		return int(int32(uint32(code)))
	}
	return int(int8(uint8(code)))
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
