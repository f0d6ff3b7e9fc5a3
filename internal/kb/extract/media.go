package extract

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/llm/openai"
)

// MediaConfig 外部工具路径与临时目录。
type MediaConfig struct {
	TesseractPath string `json:"tesseract" mapstructure:"tesseract"`
	FFmpegPath    string `json:"ffmpeg" mapstructure:"ffmpeg"`
	YTDLPPath     string `json:"yt-dlp" mapstructure:"yt-dlp"`
	OCRLanguage   string `json:"ocr-language" mapstructure:"ocr-language"`
	WorkDir       string `json:"work-dir" mapstructure:"work-dir"`
}

// DefaultMediaConfig 返回默认配置，工具从 PATH 中查找。
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		TesseractPath: "tesseract",
		FFmpegPath:    "ffmpeg",
		YTDLPPath:     "yt-dlp",
		OCRLanguage:   "eng",
	}
}

// Transcriber 语音转写后端。
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (*openai.Transcription, error)
}

// MediaExtractor 图片 OCR、音频转写与视频音轨转写。
type MediaExtractor struct {
	cfg         MediaConfig
	runner      Runner
	transcriber Transcriber
}

// NewMediaExtractor 创建媒体提取器。transcriber 为 nil 时音视频提取会失败。
func NewMediaExtractor(cfg MediaConfig, runner Runner, transcriber Transcriber) *MediaExtractor {
	def := DefaultMediaConfig()
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = def.TesseractPath
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.YTDLPPath == "" {
		cfg.YTDLPPath = def.YTDLPPath
	}
	if cfg.OCRLanguage == "" {
		cfg.OCRLanguage = def.OCRLanguage
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &MediaExtractor{cfg: cfg, runner: runner, transcriber: transcriber}
}

// Register 将图片、音频、视频提取器注册到 r。
func (m *MediaExtractor) Register(r *Registry) {
	r.Register(KindImage, ExtractorFunc(m.extractImage))
	r.Register(KindAudio, ExtractorFunc(m.extractAudio))
	r.Register(KindVideo, ExtractorFunc(m.extractVideo))
}

func displayName(in *Input, fallback string) string {
	if in.Filename != "" {
		return filepath.Base(in.Filename)
	}
	return fallback
}

// extractImage OCR 失败时仍返回文件名等基本信息。
func (m *MediaExtractor) extractImage(ctx context.Context, in *Input) (*Result, error) {
	name := displayName(in, "image")
	res := &Result{}
	res.setMeta("media_type", "image")

	var header strings.Builder
	header.WriteString("Image: " + name + "\n")
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(in.Data)); err == nil {
		fmt.Fprintf(&header, "Size: %dx%d pixels\n", cfg.Width, cfg.Height)
		header.WriteString("Format: " + strings.ToUpper(format) + "\n")
		res.setMeta("width", cfg.Width)
		res.setMeta("height", cfg.Height)
		res.setMeta("format", format)
	}

	text, err := m.ocr(ctx, name, in.Data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warnw("ocr failed", "file", name, "error", err.Error())
		res.Text = fmt.Sprintf("Image file: %s (OCR extraction failed: %v)", name, err)
		return res, nil
	}

	if strings.TrimSpace(text) != "" {
		res.Text = header.String() + "\nExtracted Text:\n" + text
	} else {
		res.Text = header.String() + "\n(No text detected in image)"
	}
	return res, nil
}

func (m *MediaExtractor) ocr(ctx context.Context, name string, data []byte) (string, error) {
	dir, err := newWorkDir(m.cfg.WorkDir, "kb-ocr-")
	if err != nil {
		return "", err
	}
	defer dir.remove()

	src, err := dir.write(name, data)
	if err != nil {
		return "", err
	}
	out, err := m.runner.Run(ctx, m.cfg.TesseractPath, src, "stdout", "-l", m.cfg.OCRLanguage)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (m *MediaExtractor) transcribe(ctx context.Context, name string, audio io.Reader) (*openai.Transcription, error) {
	if m.transcriber == nil {
		return nil, errors.ErrKBProviderUnavailable.WithMessage("speech-to-text is not configured")
	}
	return m.transcriber.Transcribe(ctx, name, audio)
}

// audioText 组装 Audio File/Duration/Language 头部与转写正文。
func audioText(label, name string, t *openai.Transcription) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", label, name)
	if t.Duration > 0 {
		b.WriteString("Duration: " + strconv.FormatFloat(t.Duration, 'f', 1, 64) + " seconds\n")
	} else {
		b.WriteString("Duration: Unknown seconds\n")
	}
	lang := t.Language
	if lang == "" {
		lang = "Unknown"
	}
	b.WriteString("Language: " + lang + "\n")
	if text := strings.TrimSpace(t.Text); text != "" {
		b.WriteString("\nTranscript:\n" + text)
	} else {
		b.WriteString("\n(No speech detected in audio)")
	}
	return b.String()
}

func (m *MediaExtractor) extractAudio(ctx context.Context, in *Input) (*Result, error) {
	name := displayName(in, "audio")
	t, err := m.transcribe(ctx, name, bytes.NewReader(in.Data))
	if err != nil {
		return nil, err
	}
	res := &Result{Text: audioText("Audio File", name, t)}
	res.setMeta("media_type", "audio")
	res.setMeta("duration", t.Duration)
	res.setMeta("language", t.Language)
	return res, nil
}

func (m *MediaExtractor) extractVideo(ctx context.Context, in *Input) (*Result, error) {
	name := displayName(in, "video")
	dir, err := newWorkDir(m.cfg.WorkDir, "kb-video-")
	if err != nil {
		return nil, err
	}
	defer dir.remove()

	src, err := dir.write(name, in.Data)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	res.setMeta("media_type", "video")

	t, hasAudio, err := m.transcribeVideo(ctx, dir, src, name)
	if err != nil {
		return nil, err
	}
	if !hasAudio {
		res.Text = fmt.Sprintf("Video file: %s (No audio track found)", name)
		res.setMeta("has_audio", false)
		return res, nil
	}
	res.Text = audioText("Video File", name, t)
	res.setMeta("has_audio", true)
	res.setMeta("duration", t.Duration)
	res.setMeta("language", t.Language)
	return res, nil
}

// transcribeVideo 用 ffmpeg 抽取第一条音轨后转写。视频没有音轨时 hasAudio 为 false。
func (m *MediaExtractor) transcribeVideo(ctx context.Context, dir *workDir, videoPath, name string) (*openai.Transcription, bool, error) {
	audioPath := dir.join("kb-extracted-audio.m4a")
	_, err := m.runner.Run(ctx, m.cfg.FFmpegPath,
		"-y", "-i", videoPath, "-map", "0:a:0", "-vn", "-ac", "1", "-c:a", "aac", "-b:a", "64k", audioPath)
	if err != nil {
		if noAudioTrack(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("extract audio track: %w", err)
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, false, fmt.Errorf("open extracted audio: %w", err)
	}
	defer f.Close()

	base := strings.TrimSuffix(name, filepath.Ext(name)) + ".m4a"
	t, err := m.transcribe(ctx, base, f)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func noAudioTrack(err error) bool {
	var ce *CommandError
	if !stderrors.As(err, &ce) {
		return false
	}
	return strings.Contains(ce.Stderr, "matches no streams") ||
		strings.Contains(ce.Stderr, "does not contain any stream")
}
