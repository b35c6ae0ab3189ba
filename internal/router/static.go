package router

import (
	"net/http"
	"path"

	"github.com/y-yagi/nodachi/internal/route"
)

// serveStatic serves r from the directory rc.To with rc's prefix removed.
// It declines (returns false) for anything but GET/HEAD or when the file is
// missing, so later routes get a chance.
func serveStatic(w http.ResponseWriter, r *http.Request, rc *route.RouteConfig) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}

	dir := http.Dir(rc.To)
	f, err := dir.Open(path.Clean("/" + rc.LocalTarget(r.URL.Path)))
	if err != nil {
		return false
	}
	f.Close()

	http.StripPrefix(rc.Prefix(), http.FileServer(dir)).ServeHTTP(w, r)
	return true
}
