package rendering

import (
	"bytes"
	"embed"
	"encoding/base64"
	"strings"
	"text/template"

	"github.com/jonathan/design2code/internal/types"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Paths of generated files that other components refer to.
const (
	PagePath  = "app/page.tsx"
	ImageName = "figma-node.png"
	ImagePath = "public/" + ImageName
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// projectFiles lists the rendered text files in output order.
var projectFiles = []struct {
	Path     string
	Template string
}{
	{"README.md", "README.md.tmpl"},
	{"package.json", "package.json.tmpl"},
	{"next.config.mjs", "next.config.mjs.tmpl"},
	{"app/layout.tsx", "layout.tsx.tmpl"},
	{PagePath, "page.tsx.tmpl"},
	{"app/globals.css", "globals.css.tmpl"},
}

// ProjectData is the input to the project templates
type ProjectData struct {
	Title     string
	SourceURL string
	FileKey   string
	NodeID    string
	Pipeline  string
	Note      string
	// ImagePNGBase64 is the node render; empty when no image is available.
	ImagePNGBase64 string
}

// HasImage reports whether the project ships the node render.
func (d ProjectData) HasImage() bool {
	return d.ImagePNGBase64 != ""
}

// ImageName is the public file name of the node render.
func (d ProjectData) ImageName() string {
	return ImageName
}

// RenderProject renders the Next.js project skeleton for a design node.
// The node render, when present, is added as a binary file.
func RenderProject(data ProjectData) ([]types.GeneratedFile, error) {
	if data.HasImage() {
		if err := checkImage(data.ImagePNGBase64); err != nil {
			return nil, err
		}
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	files := make([]types.GeneratedFile, 0, len(projectFiles)+1)
	for _, f := range projectFiles {
		var out strings.Builder
		if err := tmpl.ExecuteTemplate(&out, f.Template, data); err != nil {
			return nil, &TemplateError{
				Name:    f.Template,
				Message: "failed to execute template",
				Cause:   err,
			}
		}
		files = append(files, types.GeneratedFile{
			Path:    f.Path,
			Kind:    types.FileKindText,
			Content: out.String(),
		})
	}

	if data.HasImage() {
		files = append(files, types.GeneratedFile{
			Path:    ImagePath,
			Kind:    types.FileKindBinary,
			Content: data.ImagePNGBase64,
		})
	}
	return files, nil
}

// checkImage rejects a node render that is not base64 encoded PNG data.
func checkImage(encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return &RenderError{Message: "node image is not valid base64", Cause: err}
	}
	if !bytes.HasPrefix(raw, pngSignature) {
		return &RenderError{Message: "node image is not a PNG"}
	}
	return nil
}

// parseTemplates parses the embedded templates. JSX uses "{{", so the
// templates use "[[" "]]" delimiters.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("project").
		Delims("[[", "]]").
		Funcs(template.FuncMap{
			"jsx": EscapeJSX,
			"md":  EscapeMarkdown,
		}).
		ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, &TemplateError{
			Name:    "templates/*.tmpl",
			Message: "failed to parse templates",
			Cause:   err,
		}
	}
	return tmpl, nil
}
