// Package document turns the exam PDFs into plain text.
package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"exam-grader/api/internal/util"
)

var (
	ErrNotFound   = errors.New("file not found")
	ErrUnreadable = errors.New("file is not a readable PDF")
	ErrEmpty      = errors.New("no text could be extracted")
)

type Kind string

const (
	QuestionPaper Kind = "question_paper"
	AnswerSheet   Kind = "answer_sheet"
	Textbook      Kind = "textbook"
)

func (k Kind) Label() string {
	switch k {
	case QuestionPaper:
		return "Question Paper"
	case AnswerSheet:
		return "Answer Sheet"
	case Textbook:
		return "Textbook/Notes"
	default:
		return string(k)
	}
}

// Error reports which input failed and where it was expected.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind.Label(), e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Source struct {
	Kind Kind
	Path string
}

// Sources resolves the three exam inputs relative to dir.
func Sources(dir, questionPaper, answerSheet, textbook string) []Source {
	join := func(name string) string {
		if filepath.IsAbs(name) || dir == "" {
			return filepath.Clean(name)
		}
		return filepath.Clean(filepath.Join(dir, name))
	}
	return []Source{
		{Kind: QuestionPaper, Path: join(questionPaper)},
		{Kind: AnswerSheet, Path: join(answerSheet)},
		{Kind: Textbook, Path: join(textbook)},
	}
}

type Document struct {
	Kind  Kind   `json:"type"`
	Path  string `json:"path"`
	Text  string `json:"-"`
	Pages int    `json:"pages"`
}

func (d Document) CharCount() int { return len(d.Text) }

type Bundle struct {
	QuestionPaper Document
	AnswerSheet   Document
	Textbook      Document
}

func (b Bundle) Documents() []Document {
	return []Document{b.QuestionPaper, b.AnswerSheet, b.Textbook}
}

// Hash is a stable digest of the extracted texts, used as a cache key.
func (b Bundle) Hash() string {
	h := sha256.New()
	for _, d := range b.Documents() {
		_, _ = io.WriteString(h, string(d.Kind))
		_, _ = h.Write([]byte{0})
		_, _ = io.WriteString(h, d.Text)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Check verifies that every source exists and is a regular file. It fails
// on the first missing input.
func Check(sources []Source) error {
	for _, src := range sources {
		info, err := os.Stat(src.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &Error{Kind: src.Kind, Path: src.Path, Err: ErrNotFound}
			}
			return &Error{Kind: src.Kind, Path: src.Path, Err: err}
		}
		if info.IsDir() {
			return &Error{Kind: src.Kind, Path: src.Path, Err: fmt.Errorf("%w: is a directory", ErrUnreadable)}
		}
	}
	return nil
}

// LoadBundle loads the question paper, answer sheet and textbook in order.
func LoadBundle(ctx context.Context, sources []Source) (Bundle, error) {
	var b Bundle
	for _, src := range sources {
		doc, err := Load(ctx, src)
		if err != nil {
			return Bundle{}, err
		}
		switch src.Kind {
		case QuestionPaper:
			b.QuestionPaper = doc
		case AnswerSheet:
			b.AnswerSheet = doc
		case Textbook:
			b.Textbook = doc
		default:
			return Bundle{}, fmt.Errorf("unknown document kind %q", src.Kind)
		}
	}
	return b, nil
}

// Load extracts the text of a PDF with a "--- Page N ---" marker before
// every page.
func Load(ctx context.Context, src Source) (doc Document, err error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	wrap := func(e error) error { return &Error{Kind: src.Kind, Path: src.Path, Err: e} }

	f, err := os.Open(src.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, wrap(ErrNotFound)
		}
		return Document{}, wrap(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Document{}, wrap(err)
	}
	head := make([]byte, 8)
	n, _ := f.ReadAt(head, 0)
	if !util.IsPDF(head[:n]) {
		return Document{}, wrap(fmt.Errorf("%w: detected %s", ErrUnreadable, util.SniffMime(head[:n])))
	}

	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			doc, err = Document{}, wrap(fmt.Errorf("%w: %v", ErrUnreadable, r))
		}
	}()

	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return Document{}, wrap(fmt.Errorf("%w: %v", ErrUnreadable, err))
	}

	var sb strings.Builder
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return Document{}, wrap(fmt.Errorf("%w: page %d: %v", ErrUnreadable, i, err))
		}
		fmt.Fprintf(&sb, "\n--- Page %d ---\n%s\n", i, text)
	}

	text := sb.String()
	if strings.TrimSpace(stripMarkers(text)) == "" {
		return Document{}, wrap(ErrEmpty)
	}
	return Document{Kind: src.Kind, Path: src.Path, Text: text, Pages: pages}, nil
}

func stripMarkers(text string) string {
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "--- Page ") && strings.HasSuffix(line, " ---") {
			continue
		}
		sb.WriteString(line)
	}
	return sb.String()
}
