package projection

import (
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templateFS embed.FS

var fragmentTemplates = template.Must(template.New("_root").Funcs(template.FuncMap{
	"percent": func(p int) template.CSS {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		return template.CSS(fmt.Sprintf("%d%%", p))
	},
}).ParseFS(templateFS, "templates/*.html"))

// fragmentData adapts a snapshot for templates, which cannot index maps by typed keys.
type fragmentData struct {
	snap Snapshot
}

func (d fragmentData) Version() uint64 { return d.snap.Version }

func (d fragmentData) View(region string) View { return d.snap.View(Region(region)) }

// RenderMiniCart writes the mini-cart HTML fragment for snap. Lines are rendered
// from the cart.lines region only, so the output never duplicates items.
func RenderMiniCart(w io.Writer, snap Snapshot) error {
	return fragmentTemplates.ExecuteTemplate(w, "minicart", fragmentData{snap: snap})
}
