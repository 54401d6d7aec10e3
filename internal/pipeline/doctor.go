package pipeline

import (
	"fmt"
	"os"
	"strings"

	"upscale-batch/internal/runstore"
	"upscale-batch/internal/waifu"
)

type DoctorOptions struct {
	Tool      string
	ModelDir  string
	SourceDir string
	WorkDir   string
	StateDir  string
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Doctor runs the preflight checks for a pipeline run. It never fails
// itself; failed checks are reported in the result.
func Doctor(opts DoctorOptions) DoctorResult {
	checks := make([]DoctorCheck, 0, 5)
	dep := waifu.DependencyStatus(opts.Tool, opts.ModelDir)
	checks = append(checks, DoctorCheck{
		Name:    "dependency:upscaler",
		OK:      dep.ToolFound,
		Message: dependencyMessage(dep.ToolFound, dep.ToolPath, opts.Tool),
	})
	modelMsg := "found at " + opts.ModelDir
	if !dep.ModelDirFound {
		modelMsg = "not found: " + opts.ModelDir
	}
	checks = append(checks, DoctorCheck{
		Name:    "dependency:model-dir",
		OK:      dep.ModelDirFound,
		Message: modelMsg,
	})

	srcOK, srcMessage := checkSourceDir(opts.SourceDir)
	checks = append(checks, DoctorCheck{Name: "directory:source", OK: srcOK, Message: srcMessage})

	workOK, workMessage := ensureWritableDir(opts.WorkDir)
	checks = append(checks, DoctorCheck{Name: "directory:work", OK: workOK, Message: workMessage})

	stateOK, stateMessage := ensureWritableDir(opts.StateDir)
	checks = append(checks, DoctorCheck{Name: "directory:state", OK: stateOK, Message: stateMessage})

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func checkSourceDir(path string) (bool, string) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err.Error()
	}
	if !fi.IsDir() {
		return false, fmt.Sprintf("%s is not a directory", path)
	}
	return true, "exists"
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "upscale-batch-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
