package extract

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Runner 执行外部命令并返回标准输出。
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError 外部命令执行失败，Stderr 保留错误输出用于诊断。
type CommandError struct {
	Name   string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner 使用 os/exec 执行命令。
type ExecRunner struct{}

// Run 实现 Runner。
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{Name: filepath.Base(name), Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// workDir 一次提取任务使用的临时目录。
type workDir struct {
	path string
}

func newWorkDir(base, prefix string) (*workDir, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir base: %w", err)
	}
	dir, err := os.MkdirTemp(base, prefix)
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &workDir{path: dir}, nil
}

// join 只取 name 的最后一段，文件不会落到目录之外。
func (w *workDir) join(name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		base = "input"
	}
	return filepath.Join(w.path, base)
}

func (w *workDir) write(name string, data []byte) (string, error) {
	p := w.join(name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

// find 按扩展名查找文件，结果排序。
func (w *workDir) find(exts ...string) ([]string, error) {
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		want[strings.ToLower(e)] = true
	}
	var files []string
	err := filepath.WalkDir(w.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && want[strings.ToLower(filepath.Ext(p))] {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func (w *workDir) remove() {
	_ = os.RemoveAll(w.path)
}
