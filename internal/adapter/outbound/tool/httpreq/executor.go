// Package httpreq implements the http.request tool: an outbound HTTP
// client hardened against SSRF via per-hop host validation and manual
// redirect handling. Every address the hop's host resolves to is checked
// before the request is sent; the transport resolves the host again when it
// dials, so the connection is not pinned to the checked addresses.
package httpreq

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/runestone-labs/gatekeeper/internal/domain/canon"
	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
	"github.com/runestone-labs/gatekeeper/internal/domain/tool"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultBodyCap      = 1 << 20 // 1 MiB
	defaultMaxRedirects = 3
)

// defaultDenyCIDRs mirrors the policy default when a tool policy doesn't
// override deny_ip_ranges.
var defaultDenyCIDRs = []string{
	"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12",
	"192.168.0.0/16", "169.254.0.0/16", "0.0.0.0/8",
}

// responseHeaderAllowlist is the set of response headers surfaced to the
// caller; everything else is dropped so upstream servers can't smuggle
// arbitrary headers back through the gateway.
var responseHeaderAllowlist = []string{
	"Content-Type", "Content-Length", "Cache-Control", "Etag",
	"Last-Modified", "Date", "X-Request-Id",
}

// resolveFunc looks up the A/AAAA records for host. Overridable in tests.
type resolveFunc func(ctx context.Context, host string) ([]net.IP, error)

// Executor runs http.request calls.
type Executor struct {
	PolicyFor func() *policy.ToolPolicy

	// Resolve defaults to net.DefaultResolver.LookupIPAddr when nil.
	Resolve resolveFunc

	// Transport is shared across all calls through this Executor rather
	// than built fresh per request, so connections to a repeatedly-used
	// host get pooled like any other long-lived process-wide HTTP
	// client. Defaults to http.DefaultTransport when nil.
	Transport http.RoundTripper
}

func (e *Executor) transport() http.RoundTripper {
	if e.Transport != nil {
		return e.Transport
	}
	return http.DefaultTransport
}

// Name implements tool.Executor.
func (e *Executor) Name() string { return "http.request" }

// Execute performs the request described by args, validating every hop's
// host before connecting and streaming the body under the configured cap.
func (e *Executor) Execute(ctx context.Context, args map[string]interface{}) tool.Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return tool.Result{Success: false, Error: "url is required"}
	}
	method, _ := args["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	var body io.Reader
	if b, ok := args["body"].(string); ok && b != "" {
		body = strings.NewReader(b)
	}

	tp := e.policyOrNil()
	timeout := defaultTimeout
	if tp != nil && tp.TimeoutMs > 0 {
		timeout = time.Duration(tp.TimeoutMs) * time.Millisecond
	}
	bodyCap := defaultBodyCap
	if tp != nil && tp.MaxBodyBytes > 0 {
		bodyCap = tp.MaxBodyBytes
	}
	maxRedirects := defaultMaxRedirects
	if tp != nil && tp.MaxRedirects > 0 {
		maxRedirects = tp.MaxRedirects
	}
	denyCIDRs := defaultDenyCIDRs
	if tp != nil && len(tp.DenyIPRanges) > 0 {
		denyCIDRs = tp.DenyIPRanges
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	currentURL := rawURL
	currentMethod := method
	var currentBody io.Reader = body

	for hop := 0; ; hop++ {
		u, err := url.Parse(currentURL)
		if err != nil || u.Hostname() == "" {
			return tool.Result{Success: false, Error: "url could not be parsed"}
		}

		// validating
		if err := e.validateHost(runCtx, u.Hostname(), tp, denyCIDRs); err != nil {
			return tool.Result{Success: false, Error: err.Error()}
		}

		// connecting
		req, err := http.NewRequestWithContext(runCtx, currentMethod, currentURL, currentBody)
		if err != nil {
			return tool.Result{Success: false, Error: fmt.Sprintf("build request: %v", err)}
		}
		applyHeaders(req, args["headers"])

		client := &http.Client{
			Timeout:       timeout,
			Transport:     e.transport(),
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
		resp, err := client.Do(req)
		if err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return tool.Result{Success: false, Error: fmt.Sprintf("Request timeout (%dms exceeded)", timeout.Milliseconds())}
			}
			return tool.Result{Success: false, Error: fmt.Sprintf("request failed: %v", err)}
		}

		if isRedirect(resp.StatusCode) {
			resp.Body.Close()
			if currentMethod != http.MethodGet {
				return tool.Result{Success: false, Error: "redirect response for a non-GET request is not permitted"}
			}
			location := resp.Header.Get("Location")
			if location == "" {
				return tool.Result{Success: false, Error: "redirect response missing Location header"}
			}
			next, err := u.Parse(location)
			if err != nil {
				return tool.Result{Success: false, Error: fmt.Sprintf("invalid redirect location: %v", err)}
			}
			if hop+1 > maxRedirects {
				return tool.Result{Success: false, Error: fmt.Sprintf("exceeded max redirects (%d)", maxRedirects)}
			}
			currentURL = next.String()
			currentBody = nil
			continue
		}

		// reading
		defer resp.Body.Close()
		limited := io.LimitReader(resp.Body, int64(bodyCap)+1)
		data, err := io.ReadAll(limited)
		if err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return tool.Result{Success: false, Error: fmt.Sprintf("Request timeout (%dms exceeded)", timeout.Milliseconds())}
			}
			return tool.Result{Success: false, Error: fmt.Sprintf("read response body: %v", err)}
		}
		truncated := false
		if len(data) > bodyCap {
			data = data[:bodyCap]
			truncated = true
		}

		return tool.Result{Success: true, Output: map[string]interface{}{
			"status":    resp.StatusCode,
			"headers":   filterHeaders(resp.Header),
			"body":      string(data),
			"truncated": truncated,
		}}
	}
}

func (e *Executor) policyOrNil() *policy.ToolPolicy {
	if e.PolicyFor == nil {
		return nil
	}
	return e.PolicyFor()
}

// validateHost implements the per-hop SSRF check: domain allow/deny rules,
// then DNS resolution with fail-closed private/deny-range checks.
func (e *Executor) validateHost(ctx context.Context, host string, tp *policy.ToolPolicy, denyCIDRs []string) error {
	lowerHost := strings.ToLower(host)

	if tp != nil {
		for _, d := range tp.DenyDomains {
			if strings.EqualFold(lowerHost, d) {
				return fmt.Errorf("domain %q is denied", host)
			}
		}
		if len(tp.AllowedDomains) > 0 && !domainMatchesAny(lowerHost, tp.AllowedDomains) {
			return fmt.Errorf("domain %q is not in the allowed list", host)
		}
	}

	addrs, err := e.resolve(ctx, lowerHost)
	if err != nil || len(addrs) == 0 {
		if ip, ok := canon.ParseIP(lowerHost); ok {
			addrs = []net.IP{ip}
		} else {
			return fmt.Errorf("dns resolution failed for %q", host)
		}
	}

	for _, ip := range addrs {
		if canon.IsPrivateIP(ip.String()) {
			return fmt.Errorf("resolved address %s for %q is in a private range", ip, host)
		}
		for _, cidr := range denyCIDRs {
			if canon.IPInCIDR(ip.String(), cidr) {
				return fmt.Errorf("resolved address %s for %q is in a denied range %s", ip, host, cidr)
			}
		}
	}
	return nil
}

func (e *Executor) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if e.Resolve != nil {
		return e.Resolve(ctx, host)
	}
	ipAddrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(ipAddrs))
	for _, a := range ipAddrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func applyHeaders(req *http.Request, raw interface{}) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return
	}
	for k, v := range m {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}
}

func filterHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(responseHeaderAllowlist))
	for _, name := range responseHeaderAllowlist {
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

// domainMatchesAny mirrors the evaluator's suffix-matching rule so the
// executor's defense-in-depth check agrees with the policy decision that
// already allowed this request through.
func domainMatchesAny(host string, patterns []string) bool {
	for _, pattern := range patterns {
		p := strings.ToLower(pattern)
		switch {
		case strings.HasPrefix(p, "*."):
			if strings.HasSuffix(host, strings.TrimPrefix(p, "*")) && host != strings.TrimPrefix(p, "*.") {
				return true
			}
		case strings.HasPrefix(p, "."):
			if strings.HasSuffix(host, p) {
				return true
			}
		default:
			if host == p {
				return true
			}
		}
	}
	return false
}
