package router

import (
	"net"
	"net/http"
	"strings"
)

func (router *Router) redirectSecure(w http.ResponseWriter, r *http.Request) {
	to := SecureURL(r, router.conf.SecurePort)
	router.logger.WithField("location", to).Debug("redirecting to secure listener")
	http.Redirect(w, r, to, http.StatusFound)
}

// SecureURL is the https equivalent of r on the secure listener's port. The
// port is omitted when it is the default 443.
func SecureURL(r *http.Request, securePort string) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}

	switch {
	case securePort != "" && securePort != "443":
		host = net.JoinHostPort(host, securePort)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}

	return "https://" + host + r.URL.RequestURI()
}
