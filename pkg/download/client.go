package download

import (
	"net"
	"net/http"
	"time"

	"github.com/neverbiasu/civitai-dl/pkg/logging"
)

// Requester issues a single HTTP request. Implementations may pace or retry
// before the request leaves the process; the engine owns retry-with-resume
// on top of whatever the Requester does.
type Requester interface {
	Do(req *http.Request) (*http.Response, error)
}

// newStreamClient builds the default transfer client. There is deliberately
// no whole-request timeout: large artifact bodies stream for minutes. The
// timeout bounds dialing, TLS and response headers only.
func newStreamClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport:     transport,
		CheckRedirect: checkRedirectFunc,
	}
}

// checkRedirectFunc traces redirects; artifact endpoints typically bounce
// through a signed CDN URL.
func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	logger := logging.GetLogger()
	logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String()).
		Msg("Redirect")
	return nil
}
