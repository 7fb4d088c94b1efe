package http

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// NewTransport builds the transport used for chunk downloads.
//
// Without a proxy the transport has a nil Proxy func, so environment proxy
// variables are ignored as well. With a proxy, every request whose host is
// not in NonProxyHosts is sent through it.
func NewTransport(opts Options) (*http.Transport, error) {
	maxIdle := opts.MaxIdleConnsPerHost
	if maxIdle <= 0 {
		maxIdle = DefaultOptions().MaxIdleConnsPerHost
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost:   maxIdle,
		MaxIdleConns:          maxIdle * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true, // Content-Encoding is decoded by the client
	}

	if !opts.UseProxy || opts.ProxyHost == "" {
		return transport, nil
	}

	proxyURL, err := proxyURL(opts)
	if err != nil {
		return nil, err
	}

	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy(opts.NonProxyHosts),
	}
	proxyFunc := cfg.ProxyFunc()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}

	return transport, nil
}

// proxyURL assembles the proxy URL including credentials.
func proxyURL(opts Options) (*url.URL, error) {
	if opts.ProxyPort < 0 || opts.ProxyPort > 65535 {
		return nil, fmt.Errorf("http: invalid proxy port %d", opts.ProxyPort)
	}

	host := opts.ProxyHost
	if opts.ProxyPort > 0 {
		host = net.JoinHostPort(opts.ProxyHost, strconv.Itoa(opts.ProxyPort))
	}

	u := &url.URL{Scheme: "http", Host: host}
	if opts.ProxyUser != "" {
		u.User = url.UserPassword(opts.ProxyUser, opts.ProxyPassword)
	}
	return u, nil
}

// noProxy converts a bypass list into the NO_PROXY syntax understood by
// httpproxy: comma separated, with "*.example.com" written as ".example.com".
func noProxy(hosts []string) string {
	var entries []string
	for _, h := range hosts {
		for _, part := range strings.FieldsFunc(h, func(r rune) bool { return r == '|' || r == ',' }) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if part != "*" && strings.HasPrefix(part, "*") {
				part = strings.TrimPrefix(part, "*")
				if !strings.HasPrefix(part, ".") {
					part = "." + part
				}
			}
			entries = append(entries, part)
		}
	}
	return strings.Join(entries, ",")
}
