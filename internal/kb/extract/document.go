package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kart-io/sentinel-kb/pkg/errors"
)

// 解压单个 OOXML 部件的上限，防止压缩炸弹。
const maxPartSize = 64 << 20

// extractPDF 逐页提取文本，页之间以换行连接。无法解析的页面被跳过。
func extractPDF(_ context.Context, in *Input) (*Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(in.Data), int64(len(in.Data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	pages := r.NumPage()
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	res := &Result{Text: strings.Join(parts, "\n")}
	res.setMeta("format", "pdf")
	res.setMeta("page_count", pages)
	return res, nil
}

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open ooxml archive: %w", err)
	}
	return zr, nil
}

func readPart(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxPartSize {
		return nil, fmt.Errorf("part %s too large: %d bytes", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxPartSize))
}

func findPart(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ooxmlText 收集 textLocal 元素的字符数据，每个 paraLocal 元素结束时换行。
// 表格单元格内的段落同样会被收集。
func ooxmlText(data []byte, paraLocal, textLocal string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		b      strings.Builder
		line   strings.Builder
		inText bool
	)
	flush := func() {
		if s := strings.TrimSpace(line.String()); s != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(s)
		}
		line.Reset()
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case textLocal:
				inText = true
			case "tab":
				line.WriteByte('\t')
			case "br":
				line.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textLocal:
				inText = false
			case paraLocal:
				flush()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	flush()
	return b.String(), nil
}

type coreProps struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
}

func readCoreProps(zr *zip.Reader, res *Result) {
	f := findPart(zr, "docProps/core.xml")
	if f == nil {
		return
	}
	data, err := readPart(f)
	if err != nil {
		return
	}
	var props coreProps
	if xml.Unmarshal(data, &props) != nil {
		return
	}
	res.Title = strings.TrimSpace(props.Title)
	if props.Creator != "" {
		res.setMeta("author", strings.TrimSpace(props.Creator))
	}
}

func extractDOCX(_ context.Context, in *Input) (*Result, error) {
	zr, err := openZip(in.Data)
	if err != nil {
		return nil, err
	}
	f := findPart(zr, "word/document.xml")
	if f == nil {
		return nil, errors.ErrKBUnsupportedContent.WithMessage("docx archive has no word/document.xml")
	}
	data, err := readPart(f)
	if err != nil {
		return nil, err
	}
	text, err := ooxmlText(data, "p", "t")
	if err != nil {
		return nil, err
	}

	res := &Result{Text: text}
	readCoreProps(zr, res)
	res.setMeta("format", "docx")
	return res, nil
}

// slideNumber 从 ppt/slides/slide12.xml 中取出 12。
func slideNumber(name string) (int, bool) {
	base := path.Base(name)
	if !strings.HasPrefix(base, "slide") || !strings.HasSuffix(base, ".xml") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "slide"), ".xml"))
	return n, err == nil
}

func extractPPTX(_ context.Context, in *Input) (*Result, error) {
	zr, err := openZip(in.Data)
	if err != nil {
		return nil, err
	}

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if path.Dir(f.Name) != "ppt/slides" {
			continue
		}
		if n, ok := slideNumber(f.Name); ok {
			slides = append(slides, slide{n: n, f: f})
		}
	}
	if len(slides) == 0 {
		return nil, errors.ErrKBUnsupportedContent.WithMessage("pptx archive has no slides")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	parts := make([]string, 0, len(slides)*2)
	for _, s := range slides {
		data, err := readPart(s.f)
		if err != nil {
			return nil, err
		}
		text, err := ooxmlText(data, "p", "t")
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.n, err)
		}
		parts = append(parts, fmt.Sprintf("Slide %d:", s.n))
		if text != "" {
			parts = append(parts, text)
		}
	}

	res := &Result{Text: strings.Join(parts, "\n")}
	readCoreProps(zr, res)
	res.setMeta("format", "pptx")
	res.setMeta("slide_count", len(slides))
	return res, nil
}

// extractXLSX 每个工作表以 "Sheet: 名称" 开头，单元格以 " | " 连接，空行跳过。
func extractXLSX(_ context.Context, in *Input) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(in.Data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	var lines []string
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		lines = append(lines, "Sheet: "+sheet)
		for _, row := range rows {
			line := strings.Join(row, " | ")
			if strings.TrimSpace(strings.ReplaceAll(line, "|", "")) != "" {
				lines = append(lines, line)
			}
		}
	}

	res := &Result{Text: strings.Join(lines, "\n")}
	res.setMeta("format", "xlsx")
	res.setMeta("sheet_count", len(sheets))
	return res, nil
}

func extractCSV(_ context.Context, in *Input) (*Result, error) {
	text, enc := decodeText(in.Data, in.MIMEType)
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var lines []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		lines = append(lines, strings.Join(record, " | "))
	}

	res := &Result{Text: strings.Join(lines, "\n")}
	res.setMeta("format", "csv")
	res.setMeta("encoding", enc)
	return res, nil
}

// rejectLegacyOffice 二进制 Office 格式没有可用的解析器，提示转换为 OOXML。
func rejectLegacyOffice(_ context.Context, in *Input) (*Result, error) {
	name := in.Filename
	if name == "" {
		name = in.MIMEType
	}
	return nil, errors.ErrKBUnsupportedContent.WithMessagef(
		"legacy binary Office format is not supported (%s), convert it to .docx, .xlsx or .pptx", name)
}
