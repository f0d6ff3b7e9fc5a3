package extract

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/errors"
)

func TestRegistry_LookupFallsBack(t *testing.T) {
	r := NewRegistry(KindText)
	text := ExtractorFunc(func(context.Context, *Input) (*Result, error) {
		return &Result{Text: "text"}, nil
	})
	r.Register(KindText, text)

	res, err := r.Extract(context.Background(), KindPPTX, &Input{})
	require.NoError(t, err)
	assert.Equal(t, "text", res.Text)
}

func TestRegistry_NoExtractor(t *testing.T) {
	r := NewRegistry(KindText)
	_, err := r.Extract(context.Background(), KindPDF, &Input{})
	assert.ErrorIs(t, err, errors.ErrKBUnsupportedContent)
}

func TestRegistry_WrapsPlainErrors(t *testing.T) {
	cause := stderrors.New("broken archive")
	r := NewRegistry(KindText)
	r.Register(KindDOCX, ExtractorFunc(func(context.Context, *Input) (*Result, error) {
		return nil, cause
	}))
	r.Register(KindWebsite, ExtractorFunc(func(context.Context, *Input) (*Result, error) {
		return nil, errors.ErrKBAllSourcesFailed.WithMessage("all failed")
	}))

	_, err := r.Extract(context.Background(), KindDOCX, &Input{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrKBExtractionFailed)
	assert.ErrorIs(t, err, cause)

	_, err = r.Extract(context.Background(), KindWebsite, &Input{})
	assert.ErrorIs(t, err, errors.ErrKBAllSourcesFailed)
}

func TestRegistry_ContextErrorPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRegistry(KindText)
	r.Register(KindText, ExtractorFunc(func(ctx context.Context, _ *Input) (*Result, error) {
		return nil, ctx.Err()
	}))
	_, err := r.Extract(ctx, KindText, &Input{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve(t *testing.T) {
	pdfHeader := []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")

	tests := []struct {
		name        string
		contentType model.ContentType
		in          Input
		want        Kind
	}{
		{"website", model.ContentTypeWebsite, Input{MIMEType: "application/pdf"}, KindWebsite},
		{"youtube", model.ContentTypeYouTube, Input{}, KindYouTube},
		{"image mime wins over document type", model.ContentTypeDocument, Input{MIMEType: "image/png", Filename: "scan.pdf"}, KindImage},
		{"audio by extension", model.ContentTypeDocument, Input{MIMEType: "application/octet-stream", Filename: "call.MP3"}, KindAudio},
		{"video mime with params", model.ContentTypeMedia, Input{MIMEType: "video/mp4; codecs=avc1"}, KindVideo},
		{"declared docx", model.ContentTypeDocument, Input{MIMEType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, KindDOCX},
		{"csv by extension", model.ContentTypeDocument, Input{MIMEType: "application/octet-stream", Filename: "prices.csv"}, KindCSV},
		{"markdown", model.ContentTypeDocument, Input{Filename: "README.md"}, KindMarkdown},
		{"sniffed pdf", model.ContentTypeDocument, Input{Data: pdfHeader}, KindPDF},
		{"unknown falls back to text", model.ContentTypeDocument, Input{Filename: "notes.log", Data: []byte("plain words")}, KindText},
		{"media without hints", model.ContentTypeMedia, Input{}, KindVideo},
		{"long markdown extension", model.ContentTypeDocument, Input{Filename: "guide.markdown"}, KindMarkdown},
		{"wma audio", model.ContentTypeDocument, Input{MIMEType: "application/octet-stream", Filename: "voicemail.WMA"}, KindAudio},
		{"legacy word by extension", model.ContentTypeDocument, Input{Filename: "contract.doc"}, KindLegacyOffice},
		{"legacy excel by mime", model.ContentTypeDocument, Input{MIMEType: "application/vnd.ms-excel"}, KindLegacyOffice},
		{"legacy powerpoint", model.ContentTypeDocument, Input{Filename: "deck.ppt"}, KindLegacyOffice},
		{"csv declared as excel", model.ContentTypeDocument, Input{MIMEType: "application/vnd.ms-excel", Filename: "prices.csv"}, KindCSV},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			assert.Equal(t, tt.want, Resolve(tt.contentType, &in))
		})
	}
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectMIME(nil, "report.pdf"))
	assert.Equal(t, "text/plain", DetectMIME([]byte("hello world"), "noext"))
}
