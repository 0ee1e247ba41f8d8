package announce

import (
	"strings"
	"text/template"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
)

const byLine = "{{with .Author}}by {{.}}\n{{end}}"

var templates = map[domain.SourceTag]*template.Template{
	domain.SourceFree: template.Must(template.New("free").Parse("New free Audible book: {{.Title}}\n" + byLine + "{{.Link}}")),
	domain.SourcePlus: template.Must(template.New("plus").Parse("New on Audible Plus: {{.Title}}\n" + byLine + "{{.Link}}")),
}

var defaultTemplate = template.Must(template.New("default").Parse("New audiobook listing: {{.Title}}\n" + byLine + "{{.Link}}"))

type messageView struct {
	Title  string
	Author string
	Link   string
}

// Render builds the announcement text for a listing using the template for
// its source tag, falling back to the default one.
func Render(l domain.Listing) (string, error) {
	tmpl, ok := templates[l.Source]
	if !ok {
		tmpl = defaultTemplate
	}

	var b strings.Builder
	err := tmpl.Execute(&b, messageView{
		Title:  l.Title,
		Author: strings.TrimSpace(l.Author),
		Link:   domain.CanonicalURL(l.CanonicalURL),
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
