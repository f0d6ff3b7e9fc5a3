package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/pkg/llm/openai"
	"github.com/kart-io/sentinel-kb/pkg/objstore"
)

const videoJSON = `{"id":"abc123","title":"Returns explained","description":"How refunds work.","duration":95.6,` +
	`"uploader":"Support Team","channel_id":"UC1","view_count":1200,"like_count":40,"upload_date":"20240102",` +
	`"webpage_url":"https://www.youtube.com/watch?v=abc123","tags":["returns"]}`

const sampleVTT = `WEBVTT
Kind: captions
Language: en

1
00:00:00.000 --> 00:00:02.000
<c>Refunds</c> take 30 days.

2
00:00:02.000 --> 00:00:04.000
<c>Refunds</c> take 30 days.
Keep the receipt.
`

// ytdlp 模拟下载：写出视频文件，可选写出字幕。
func ytdlp(withSubs bool) func([]string) ([]byte, error) {
	return func(args []string) ([]byte, error) {
		var dir string
		for i, a := range args {
			if a == "-o" {
				dir = filepath.Dir(args[i+1])
			}
		}
		if err := os.WriteFile(filepath.Join(dir, "video.mp4"), []byte("video-bytes"), 0o600); err != nil {
			return nil, err
		}
		if withSubs {
			if err := os.WriteFile(filepath.Join(dir, "video.en.vtt"), []byte(sampleVTT), 0o600); err != nil {
				return nil, err
			}
		}
		return []byte("[info] downloading\n" + videoJSON + "\n"), nil
	}
}

func newYouTube(runner Runner, tr Transcriber) (*YouTubeExtractor, *objstore.Memory) {
	bucket := objstore.NewMemory()
	media := NewMediaExtractor(MediaConfig{}, runner, tr)
	return NewYouTubeExtractor(media, bucket, objstore.NewKeyGenerator("knowledge-base")), bucket
}

func TestYouTube_PrefersSubtitles(t *testing.T) {
	runner := newFakeRunner().on("yt-dlp", ytdlp(true))
	tr := &fakeTranscriber{result: &openai.Transcription{Text: "should not be used"}}
	y, bucket := newYouTube(runner, tr)

	res, err := y.Extract(context.Background(), &Input{
		ItemID:   "item-1",
		TenantID: "tenant-1",
		URLs:     []string{"https://www.youtube.com/watch?v=abc123"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Returns explained", res.Title)
	assert.Equal(t, "subtitles", res.Metadata["transcript_source"])
	assert.True(t, strings.HasPrefix(res.Text, "YouTube Video: Returns explained\nChannel: Support Team\n"))
	assert.Contains(t, res.Text, "Duration: 95 seconds\nViews: 1200\nUpload Date: 20240102\n")
	assert.True(t, strings.HasSuffix(res.Text, "Transcript:\nRefunds take 30 days. Keep the receipt."))
	assert.Empty(t, tr.files)
	assert.Zero(t, runner.called("ffmpeg"))

	key, ok := res.Metadata["object_key"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(key, "knowledge-base/youtube/tenant-1/"))
	assert.True(t, strings.HasSuffix(key, "/item-1.mp4"))
	data, info, err := objstore.ReadAll(context.Background(), bucket, key)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))
	assert.Equal(t, "video/mp4", info.ContentType)
}

func TestYouTube_FallsBackToTranscription(t *testing.T) {
	runner := newFakeRunner().
		on("yt-dlp", ytdlp(false)).
		on("ffmpeg", writeOutput("aac"))
	tr := &fakeTranscriber{result: &openai.Transcription{Text: "spoken words"}}
	y, _ := newYouTube(runner, tr)

	res, err := y.Extract(context.Background(), &Input{ItemID: "i", URLs: []string{"https://youtu.be/abc123"}})
	require.NoError(t, err)
	assert.Equal(t, "transcription", res.Metadata["transcript_source"])
	assert.True(t, strings.HasSuffix(res.Text, "Transcript:\nspoken words"))
}

func TestYouTube_FallsBackToDescription(t *testing.T) {
	runner := newFakeRunner().on("yt-dlp", ytdlp(false))
	y, _ := newYouTube(runner, nil)

	res, err := y.Extract(context.Background(), &Input{ItemID: "i", URLs: []string{"https://youtu.be/abc123"}})
	require.NoError(t, err)
	assert.Equal(t, "description", res.Metadata["transcript_source"])
	assert.True(t, strings.HasSuffix(res.Text, "Transcript:\nHow refunds work."))
}

func TestYouTube_DownloadFailure(t *testing.T) {
	y, _ := newYouTube(newFakeRunner(), nil)
	_, err := y.Extract(context.Background(), &Input{URLs: []string{"https://youtu.be/x"}})
	require.Error(t, err)
}

func TestCleanSubtitles(t *testing.T) {
	srt := "1\r\n00:00:01,000 --> 00:00:02,000\r\n<i>Hello</i>\r\n\r\n2\r\n00:00:02,000 --> 00:00:03,000\r\nworld\r\n"
	assert.Equal(t, "Hello world", CleanSubtitles(srt))
	assert.Equal(t, "Refunds take 30 days. Keep the receipt.", CleanSubtitles(sampleVTT))
	assert.Empty(t, CleanSubtitles("WEBVTT\n\n"))
}
