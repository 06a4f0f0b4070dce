package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pgharvest/internal/config"
)

// DefaultIPEcho is the public echo endpoint used to learn egress IPs.
const DefaultIPEcho = "https://ipv4.icanhazip.com"

const probeTimeout = 20 * time.Second

// VerifyProxy routes an IP-echo request through the proxy and returns the
// egress IP the far side saw. A userpass proxy embeds its credentials in the
// proxy URL.
func VerifyProxy(ctx context.Context, spec config.ProxySpec, mode, echoURL string) (string, error) {
	proxyURL := &url.URL{Scheme: "http", Host: spec.Server}
	if mode == config.ProxyModeUserpass && spec.Username != "" {
		proxyURL.User = url.UserPassword(spec.Username, spec.Password)
	}

	client := &http.Client{
		Timeout:   probeTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	ip, err := echoIP(ctx, client, echoURL)
	if err != nil {
		return "", fmt.Errorf("proxy %s: %w", spec.Server, err)
	}
	return ip, nil
}

// SystemIP returns the machine's direct egress IP, or the configured
// override when one is set.
func SystemIP(ctx context.Context, override, echoURL string) (string, error) {
	if override != "" {
		return override, nil
	}
	client := &http.Client{Timeout: probeTimeout}
	return echoIP(ctx, client, echoURL)
}

func echoIP(ctx context.Context, client *http.Client, echoURL string) (string, error) {
	if echoURL == "" {
		echoURL = DefaultIPEcho
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, echoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip echo returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return "", fmt.Errorf("ip echo returned an empty body")
	}
	return ip, nil
}
