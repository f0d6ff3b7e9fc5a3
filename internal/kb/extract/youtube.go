package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/objstore"
	"github.com/kart-io/sentinel-kb/pkg/utils/json"
)

// maxDescriptionRunes 没有字幕和转写时，描述作为正文的最大长度。
const maxDescriptionRunes = 2000

// videoInfo yt-dlp --dump-json 输出中用到的字段。
type videoInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Duration    float64  `json:"duration"`
	Uploader    string   `json:"uploader"`
	ChannelID   string   `json:"channel_id"`
	ViewCount   int64    `json:"view_count"`
	LikeCount   int64    `json:"like_count"`
	UploadDate  string   `json:"upload_date"`
	Thumbnail   string   `json:"thumbnail"`
	WebpageURL  string   `json:"webpage_url"`
	Categories  []string `json:"categories"`
	Tags        []string `json:"tags"`
}

// YouTubeExtractor 下载视频，优先使用字幕，其次音频转写，最后使用视频描述。
// 下载的视频总是上传到对象存储。
type YouTubeExtractor struct {
	cfg    MediaConfig
	runner Runner
	media  *MediaExtractor
	bucket objstore.Bucket
	keys   *objstore.KeyGenerator
}

// NewYouTubeExtractor 创建 YouTube 提取器，media 提供转写能力。
func NewYouTubeExtractor(media *MediaExtractor, bucket objstore.Bucket, keys *objstore.KeyGenerator) *YouTubeExtractor {
	return &YouTubeExtractor{
		cfg:    media.cfg,
		runner: media.runner,
		media:  media,
		bucket: bucket,
		keys:   keys,
	}
}

// Extract 实现 Extractor。只处理 in.URLs 中的第一个地址。
func (y *YouTubeExtractor) Extract(ctx context.Context, in *Input) (*Result, error) {
	if len(in.URLs) == 0 {
		return nil, errors.ErrKBInvalidURL.WithMessage("youtube url is required")
	}
	target := in.URLs[0]
	if _, err := parseHTTPURL(target); err != nil {
		return nil, errors.ErrKBInvalidURL.WithCause(err)
	}

	dir, err := newWorkDir(y.cfg.WorkDir, "kb-youtube-")
	if err != nil {
		return nil, err
	}
	defer dir.remove()

	out, err := y.runner.Run(ctx, y.cfg.YTDLPPath,
		"-f", "best[ext=mp4]/best",
		"-o", dir.join("video.%(ext)s"),
		"--no-playlist",
		"--write-subs", "--write-auto-subs",
		"--sub-langs", "en.*",
		"--sub-format", "vtt/srt/best",
		"--dump-json", "--no-simulate",
		target)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", target, err)
	}
	info, err := parseVideoInfo(out)
	if err != nil {
		return nil, err
	}

	res := &Result{Title: info.Title, SourcesAttempted: 1}
	res.Metadata = info.metadata()

	videos, err := dir.find(".mp4", ".webm", ".mkv", ".mov")
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, fmt.Errorf("download %s: no video file produced", target)
	}
	videoPath := videos[0]

	key, err := y.upload(ctx, in, videoPath)
	if err != nil {
		return nil, err
	}
	res.setMeta("object_key", key)

	transcript, source := y.transcript(ctx, dir, videoPath, info)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.setMeta("transcript_source", source)
	res.Text = info.document(transcript)
	return res, nil
}

// transcript 依次尝试字幕、音频转写、描述，返回正文及其来源。
func (y *YouTubeExtractor) transcript(ctx context.Context, dir *workDir, videoPath string, info *videoInfo) (string, string) {
	if subs, err := dir.find(".vtt", ".srt"); err == nil && len(subs) > 0 {
		if raw, err := os.ReadFile(subs[0]); err == nil {
			if text := CleanSubtitles(string(raw)); text != "" {
				return text, "subtitles"
			}
		}
	}

	t, hasAudio, err := y.media.transcribeVideo(ctx, dir, videoPath, filepath.Base(videoPath))
	switch {
	case err != nil:
		logger.Warnw("youtube transcription failed", "video", info.ID, "error", err.Error())
	case hasAudio && strings.TrimSpace(t.Text) != "":
		return strings.TrimSpace(t.Text), "transcription"
	}

	if desc := strings.TrimSpace(info.Description); desc != "" {
		runes := []rune(desc)
		if len(runes) > maxDescriptionRunes {
			desc = string(runes[:maxDescriptionRunes]) + "..."
		}
		return desc, "description"
	}
	return "", "none"
}

func (y *YouTubeExtractor) upload(ctx context.Context, in *Input, videoPath string) (string, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("open downloaded video: %w", err)
	}
	defer f.Close()

	key := y.keys.GenerateKey(string(model.ContentTypeYouTube), in.TenantID, filepath.Base(videoPath), in.ItemID)
	contentType := "video/mp4"
	if ext := strings.ToLower(filepath.Ext(videoPath)); ext != ".mp4" {
		contentType = "video/" + strings.TrimPrefix(ext, ".")
	}
	if _, err := y.bucket.Put(ctx, key, f, objstore.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"item_id": in.ItemID, "source": "youtube"},
	}); err != nil {
		return "", errors.ErrKBStorage.WithCause(err).WithMessage("upload downloaded video failed")
	}
	return key, nil
}

// parseVideoInfo 取输出中最后一个 JSON 对象行。
func parseVideoInfo(out []byte) (*videoInfo, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var info videoInfo
		if err := json.Unmarshal(line, &info); err != nil {
			return nil, fmt.Errorf("parse video info: %w", err)
		}
		return &info, nil
	}
	return nil, fmt.Errorf("parse video info: no json in yt-dlp output")
}

func (v *videoInfo) metadata() map[string]any {
	return map[string]any{
		"video_id":    v.ID,
		"title":       v.Title,
		"duration":    v.Duration,
		"uploader":    v.Uploader,
		"channel_id":  v.ChannelID,
		"view_count":  v.ViewCount,
		"like_count":  v.LikeCount,
		"upload_date": v.UploadDate,
		"thumbnail":   v.Thumbnail,
		"url":         v.WebpageURL,
		"categories":  v.Categories,
		"tags":        v.Tags,
	}
}

func (v *videoInfo) document(transcript string) string {
	var b strings.Builder
	b.WriteString("YouTube Video: " + v.Title + "\n")
	b.WriteString("Channel: " + v.Uploader + "\n")
	b.WriteString("URL: " + v.WebpageURL + "\n")
	b.WriteString("Duration: " + strconv.FormatInt(int64(v.Duration), 10) + " seconds\n")
	b.WriteString("Views: " + strconv.FormatInt(v.ViewCount, 10) + "\n")
	b.WriteString("Upload Date: " + v.UploadDate + "\n")
	if desc := strings.TrimSpace(v.Description); desc != "" {
		b.WriteString("\nDescription:\n" + desc + "\n")
	}
	if transcript != "" {
		b.WriteString("\nTranscript:\n" + transcript)
	} else {
		b.WriteString("\n(No transcript available)")
	}
	return b.String()
}

var subtitleTag = regexp.MustCompile(`<[^>]*>`)

// CleanSubtitles 去掉 VTT/SRT 的头部、序号行、时间轴行和内联标签，并合并连续重复行。
func CleanSubtitles(raw string) string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "-->") || isDigits(line) {
			continue
		}
		if line == "WEBVTT" || strings.HasPrefix(line, "Kind:") || strings.HasPrefix(line, "Language:") {
			continue
		}
		line = strings.TrimSpace(subtitleTag.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		if n := len(lines); n > 0 && lines[n-1] == line {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
