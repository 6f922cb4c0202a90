package dashboard

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// newDevProxy forwards requests to the remote backend at base, keeping the
// request path.
func newDevProxy(base string, logger *zap.Logger) (http.Handler, error) {
	target, err := url.Parse(base)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, errors.Errorf("invalid api base url %q", base)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("dev proxy request failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeJSON(w, logger, http.StatusBadGateway, apiError{Error: "upstream unavailable"})
		},
	}, nil
}
