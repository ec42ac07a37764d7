// Package loader reads files referenced by a tagging batch and turns them into
// text or image content.
package loader

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/plugin/textextract"
)

// Kind is the content category of a loaded source.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Content is a loaded source. Text is set for KindText, Data and MIME for KindImage.
type Content struct {
	Ref  string
	Name string
	Kind Kind
	Text string
	Data []byte
	MIME string
}

// Loader resolves a reference into content.
type Loader interface {
	Load(ctx context.Context, ref string) (*Content, error)
}

// Extractor pulls text out of binary documents.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (*textextract.Result, error)
}

var textExtensions = map[string]bool{
	".txt": true, ".text": true, ".log": true, ".csv": true, ".tsv": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".xml": true,
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".rs": true, ".rb": true, ".sh": true, ".sql": true,
}

var markdownExtensions = map[string]bool{".md": true, ".markdown": true, ".mdx": true}

var htmlExtensions = map[string]bool{".html": true, ".htm": true, ".xhtml": true}

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// excludedDirs are path components a reference may never pass through.
var excludedDirs = []string{".git"}

// FileLoader loads files below a workspace root.
type FileLoader struct {
	root      string
	maxSize   int64
	extractor Extractor
}

var _ Loader = (*FileLoader)(nil)

// Option configures a FileLoader.
type Option func(*FileLoader)

// WithRoot confines references to the given directory. The default is the working directory.
func WithRoot(root string) Option {
	return func(l *FileLoader) { l.root = root }
}

// WithMaxSize rejects files larger than n bytes. Zero disables the check.
func WithMaxSize(n int64) Option {
	return func(l *FileLoader) { l.maxSize = n }
}

// WithExtractor enables PDF and Office documents.
func WithExtractor(e Extractor) Option {
	return func(l *FileLoader) { l.extractor = e }
}

// NewFileLoader creates a file loader.
func NewFileLoader(opts ...Option) (*FileLoader, error) {
	l := &FileLoader{}
	for _, opt := range opts {
		opt(l)
	}
	if l.root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, terrors.NewConfigurationError("cannot determine workspace root")
		}
		l.root = wd
	}
	root, err := filepath.Abs(l.root)
	if err != nil {
		return nil, terrors.NewConfigurationError("invalid workspace root: " + l.root)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	l.root = root
	return l, nil
}

// NewFileLoaderFromProfile wires the loader to the profile's workspace and extraction settings.
func NewFileLoaderFromProfile(p *profile.Profile) (*FileLoader, error) {
	opts := []Option{WithRoot(p.WorkspaceRoot), WithMaxSize(p.MaxFileSize)}
	if p.TextExtractEnabled {
		opts = append(opts, WithExtractor(textextract.NewClient(textextract.ConfigFromProfile(p))))
	}
	return NewFileLoader(opts...)
}

// Load implements Loader. Every failure is a load error.
func (l *FileLoader) Load(ctx context.Context, ref string) (*Content, error) {
	content, err := l.load(ctx, ref)
	if err != nil {
		return nil, terrors.NewLoadError(ref, err)
	}
	return content, nil
}

func (l *FileLoader) load(ctx context.Context, ref string) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.Errorf("%s is a directory", ref)
	}
	if l.maxSize > 0 && info.Size() > l.maxSize {
		return nil, errors.Errorf("file size %d exceeds limit %d", info.Size(), l.maxSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content := &Content{Ref: ref, Name: filepath.Base(path)}
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case markdownExtensions[ext]:
		text, err := MarkdownToText(data)
		if err != nil {
			return nil, err
		}
		content.Kind, content.Text = KindText, text
	case htmlExtensions[ext]:
		content.Kind, content.Text = KindText, HTMLToText(string(data))
	case textExtensions[ext]:
		content.Kind, content.Text = KindText, string(data)
	case imageTypes[ext] != "":
		content.Kind, content.Data, content.MIME = KindImage, data, imageTypes[ext]
	default:
		return l.sniff(ctx, content, data)
	}
	return content, nil
}

func (l *FileLoader) sniff(ctx context.Context, content *Content, data []byte) (*Content, error) {
	contentType := textextract.DetectContentType(content.Name, data)
	switch {
	case strings.HasPrefix(contentType, "image/"):
		content.Kind, content.Data, content.MIME = KindImage, data, contentType
	case textextract.IsSupported(contentType):
		if l.extractor == nil {
			return nil, errors.Errorf("text extraction disabled for %s", contentType)
		}
		result, err := l.extractor.ExtractText(ctx, data, contentType)
		if err != nil {
			return nil, errors.Wrap(err, "extract text")
		}
		content.Kind, content.Text = KindText, result.Text
	case strings.HasPrefix(contentType, "text/html"):
		content.Kind, content.Text = KindText, HTMLToText(string(data))
	case strings.HasPrefix(contentType, "text/") && utf8.Valid(data):
		content.Kind, content.Text = KindText, string(data)
	default:
		return nil, errors.Errorf("unsupported content type %s", contentType)
	}
	return content, nil
}

// Root returns the workspace root.
func (l *FileLoader) Root() string {
	return l.root
}

// resolve maps ref to an absolute path inside the root.
func (l *FileLoader) resolve(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", errors.New("empty reference")
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.root, path)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	// The lexical path may name .git even when a symlink hides it.
	if rel, err := filepath.Rel(l.root, path); err == nil && excluded(rel) {
		return "", errors.Errorf("%s is in an excluded directory", ref)
	}

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("%s is outside the workspace", ref)
	}
	if excluded(rel) {
		return "", errors.Errorf("%s is in an excluded directory", ref)
	}
	return path, nil
}

func excluded(rel string) bool {
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if slices.Contains(excludedDirs, part) {
			return true
		}
	}
	return false
}
