package provider

import (
	"net/url"

	"genforge/internal/config"
)

// veoDefaultHost serves Gemini file downloads when no base url is configured.
const veoDefaultHost = "generativelanguage.googleapis.com"

// AssetHeaders maps vendor hosts to the headers their asset downloads need.
// Vendors only serve outputs to their own API key holders.
func AssetHeaders(p config.ProvidersConfig) map[string]map[string]string {
	out := map[string]map[string]string{}
	for _, v := range []config.VendorConfig{p.FixedFrameVideo, p.ResolutionVideo} {
		if host := hostOf(v.BaseURL); host != "" && v.APIKey != "" {
			out[host] = map[string]string{"Authorization": "Bearer " + v.APIKey}
		}
	}
	if p.Veo.APIKey != "" {
		host := hostOf(p.Veo.BaseURL)
		if host == "" {
			host = veoDefaultHost
		}
		out[host] = map[string]string{"x-goog-api-key": p.Veo.APIKey}
	}
	return out
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
