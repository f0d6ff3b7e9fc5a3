package extract

import (
	"bytes"
	"context"
	stderrors "errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/llm/openai"
)

// fakeRunner 按命令名分派到处理函数，并记录调用参数。
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	handlers map[string]func(args []string) ([]byte, error)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{handlers: make(map[string]func([]string) ([]byte, error))}
}

func (f *fakeRunner) on(name string, fn func(args []string) ([]byte, error)) *fakeRunner {
	f.handlers[name] = fn
	return f
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	fn, ok := f.handlers[name]
	if !ok {
		return nil, &CommandError{Name: name, Err: stderrors.New("executable file not found")}
	}
	return fn(args)
}

func (f *fakeRunner) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c[0] == name {
			n++
		}
	}
	return n
}

type fakeTranscriber struct {
	result *openai.Transcription
	err    error
	files  []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, filename string, audio io.Reader) (*openai.Transcription, error) {
	f.files = append(f.files, filename)
	if _, err := io.Copy(io.Discard, audio); err != nil {
		return nil, err
	}
	return f.result, f.err
}

// writeOutput 把 data 写到 ffmpeg 参数列表的最后一个路径。
func writeOutput(data string) func([]string) ([]byte, error) {
	return func(args []string) ([]byte, error) {
		return nil, os.WriteFile(args[len(args)-1], []byte(data), 0o600)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestMediaExtractor_ImageOCR(t *testing.T) {
	runner := newFakeRunner().on("tesseract", func(args []string) ([]byte, error) {
		assert.Equal(t, []string{"stdout", "-l", "eng"}, args[1:])
		assert.FileExists(t, args[0])
		return []byte("  RETURNS ACCEPTED\n"), nil
	})
	m := NewMediaExtractor(MediaConfig{}, runner, nil)

	res, err := m.extractImage(context.Background(), &Input{Filename: "uploads/../sign.png", Data: pngBytes(t, 40, 20)})
	require.NoError(t, err)
	assert.Equal(t, "Image: sign.png\nSize: 40x20 pixels\nFormat: PNG\n\nExtracted Text:\nRETURNS ACCEPTED", res.Text)
	assert.Equal(t, 40, res.Metadata["width"])
}

func TestMediaExtractor_ImageOCRFailureKeepsName(t *testing.T) {
	m := NewMediaExtractor(MediaConfig{}, newFakeRunner(), nil)
	res, err := m.extractImage(context.Background(), &Input{Filename: "scan.jpg", Data: []byte("not an image")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Text, "Image file: scan.jpg (OCR extraction failed:"))
}

func TestMediaExtractor_Audio(t *testing.T) {
	tr := &fakeTranscriber{result: &openai.Transcription{Text: " hello there ", Language: "english", Duration: 12.34}}
	m := NewMediaExtractor(MediaConfig{}, newFakeRunner(), tr)

	res, err := m.extractAudio(context.Background(), &Input{Filename: "call.mp3", Data: []byte("ID3")})
	require.NoError(t, err)
	assert.Equal(t, "Audio File: call.mp3\nDuration: 12.3 seconds\nLanguage: english\n\nTranscript:\nhello there", res.Text)
	assert.Equal(t, []string{"call.mp3"}, tr.files)
}

func TestMediaExtractor_AudioWithoutTranscriber(t *testing.T) {
	m := NewMediaExtractor(MediaConfig{}, newFakeRunner(), nil)
	_, err := m.extractAudio(context.Background(), &Input{Filename: "call.mp3"})
	assert.ErrorIs(t, err, errors.ErrKBProviderUnavailable)
}

func TestMediaExtractor_Video(t *testing.T) {
	runner := newFakeRunner().on("ffmpeg", writeOutput("aac"))
	tr := &fakeTranscriber{result: &openai.Transcription{Text: "welcome to the demo"}}
	m := NewMediaExtractor(MediaConfig{}, runner, tr)

	res, err := m.extractVideo(context.Background(), &Input{Filename: "demo.mp4", Data: []byte("mp4")})
	require.NoError(t, err)
	assert.Equal(t, "Video File: demo.mp4\nDuration: Unknown seconds\nLanguage: Unknown\n\nTranscript:\nwelcome to the demo", res.Text)
	assert.Equal(t, true, res.Metadata["has_audio"])
	assert.Equal(t, []string{"demo.m4a"}, tr.files)
}

func TestMediaExtractor_VideoWithoutAudioTrack(t *testing.T) {
	runner := newFakeRunner().on("ffmpeg", func([]string) ([]byte, error) {
		return nil, &CommandError{Name: "ffmpeg", Stderr: "Stream map '0:a:0' matches no streams.", Err: stderrors.New("exit status 1")}
	})
	tr := &fakeTranscriber{}
	m := NewMediaExtractor(MediaConfig{}, runner, tr)

	res, err := m.extractVideo(context.Background(), &Input{Filename: "silent.mov", Data: []byte("mov")})
	require.NoError(t, err)
	assert.Equal(t, "Video file: silent.mov (No audio track found)", res.Text)
	assert.Empty(t, tr.files)
}

func TestMediaExtractor_RegisterRoutesKinds(t *testing.T) {
	runner := newFakeRunner().on("tesseract", func([]string) ([]byte, error) { return []byte("x"), nil })
	r := NewDocumentRegistry()
	NewMediaExtractor(MediaConfig{}, runner, nil).Register(r)

	res, err := r.Extract(context.Background(), KindImage, &Input{Filename: "a.png", Data: pngBytes(t, 1, 1)})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Extracted Text:\nx")
	assert.Equal(t, 1, runner.called("tesseract"))
}

func TestWorkDir_JoinStaysInside(t *testing.T) {
	dir, err := newWorkDir(t.TempDir(), "kb-test-")
	require.NoError(t, err)
	defer dir.remove()

	p, err := dir.write("../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, dir.path, filepath.Dir(p))

	files, err := dir.find("")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
