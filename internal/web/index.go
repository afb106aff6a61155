package web

import (
	"html/template"
	"log/slog"
	"net/http"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>FishCam</title>
<style>
body { font-family: sans-serif; background: #101418; color: #e8e8e8; margin: 2em; }
h1 { font-weight: normal; }
.cam { margin-bottom: 2em; }
.cam img { max-width: 100%; border: 1px solid #333; }
a { color: #7ab8ff; }
</style>
</head>
<body>
<h1>FishCam</h1>
{{range .}}
<div class="cam">
<h2>{{.Name}}</h2>
<img src="{{.Path}}" alt="{{.Name}}">
<p><a href="{{.Path}}">direct stream</a></p>
</div>
{{end}}
<p><a href="/status">status</a></p>
</body>
</html>
`))

// handleIndex serves the landing page on / and /index.html and the 404
// for every other unregistered path. Camera endpoints are registered
// explicitly, so anything else falling through here is unknown.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.cameras); err != nil {
		slog.Warn("web: index render failed", "error", err)
	}
}
