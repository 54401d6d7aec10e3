package waifu

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func writeFakeTool(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "waifu2x-caffe-cui")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSignedStatus(t *testing.T) {
	cases := []struct {
		code int
		goos string
		want int
	}{
		{0, "linux", 0},
		{1, "linux", 1},
		{255, "linux", -1},
		{254, "darwin", -2},
		{-1, "linux", -1},
		{0, "windows", 0},
		{0xFFFFFFFF, "windows", -1},
		{3, "windows", 3},
	}
	for _, tc := range cases {
		if got := signedStatus(tc.code, tc.goos); got != tc.want {
			t.Fatalf("signedStatus(%d, %s): got %d want %d", tc.code, tc.goos, got, tc.want)
		}
	}
}

func TestArgsCarryFixedAndVariableFlags(t *testing.T) {
	c := &Client{opts: Options{ModelDir: "models/x", Backend: "cudnn", Depth: 8, Denoise: 1, Mode: "noise_scale"}}
	got := strings.Join(c.Args(Request{Input: "in.png", Output: "out.png", Magnification: 2, BatchSize: 6, SplitSize: 128}), " ")
	want := "--gpu 0 -b 6 -c 128 -d 8 -p cudnn --model_dir models/x -s 2 -n 1 -m noise_scale -e png -o out.png -i in.png"
	if got != want {
		t.Fatalf("unexpected args:\n got %s\nwant %s", got, want)
	}
}

func TestInvokeReturnsSignedExitStatus(t *testing.T) {
	tool := writeFakeTool(t, `#!/usr/bin/env bash
echo "converting"
echo "cuDNN out of memory" >&2
exit 255
`)
	var mu sync.Mutex
	var lines []string
	var raw bytes.Buffer
	client, err := NewClient(Options{
		Tool:      tool,
		LogWriter: &raw,
		Lines: func(stream OutputStream, line string) {
			mu.Lock()
			lines = append(lines, string(stream)+":"+line)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	status, err := client.Invoke(Request{Input: "a.png", Output: "b.png", Magnification: 2, BatchSize: 1, SplitSize: 64})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if status != -1 {
		t.Fatalf("expected status -1, got %d", status)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "stdout:converting") || !strings.Contains(joined, "stderr:cuDNN out of memory") {
		t.Fatalf("missing captured lines: %q", joined)
	}
	if !strings.Contains(raw.String(), "converting\n") || !strings.Contains(raw.String(), "cuDNN out of memory\n") {
		t.Fatalf("raw log missing output: %q", raw.String())
	}
}

func TestInvokeWritesOutput(t *testing.T) {
	tool := writeFakeTool(t, `#!/usr/bin/env bash
set -euo pipefail
out=""
in=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    -i) in="$2"; shift 2 ;;
    *) shift ;;
  esac
done
cp "$in" "$out"
`)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.png")
	if err := os.WriteFile(in, []byte("pixels"), 0o644); err != nil {
		t.Fatal(err)
	}

	client, err := NewClient(Options{Tool: tool})
	if err != nil {
		t.Fatal(err)
	}
	status, err := client.Invoke(Request{Input: in, Output: out, Magnification: 1, BatchSize: 4, SplitSize: 256})
	if err != nil || status != 0 {
		t.Fatalf("invoke: status=%d err=%v", status, err)
	}
	if data, err := os.ReadFile(out); err != nil || string(data) != "pixels" {
		t.Fatalf("output not written: %q %v", data, err)
	}
}

func TestMissingToolIsFatal(t *testing.T) {
	_, err := NewClient(Options{Tool: filepath.Join(t.TempDir(), "nope")})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if err := CheckDependencies("definitely-not-a-real-upscaler", t.TempDir()); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound from CheckDependencies, got %v", err)
	}
}

func TestDependencyStatus(t *testing.T) {
	tool := writeFakeTool(t, "#!/usr/bin/env bash\nexit 0\n")
	models := t.TempDir()

	report := DependencyStatus(tool, models)
	if !report.ToolFound || report.ToolPath != tool || !report.ModelDirFound {
		t.Fatalf("unexpected report %+v", report)
	}
	if err := CheckDependencies(tool, filepath.Join(models, "missing")); err == nil {
		t.Fatalf("expected missing model dir error")
	}
}
