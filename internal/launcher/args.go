package launcher

import (
	"strconv"
	"strings"
)

var baseFlags = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-sync",
	"--disable-translate",
	"--disable-breakpad",
	"--disable-client-side-phishing-detection",
	"--disable-component-update",
	"--disable-domain-reliability",
	"--disable-background-networking",
	"--disable-default-apps",
	"--disable-hang-monitor",
	"--disable-prompt-on-repost",
	"--metrics-recording-only",
	"--no-pings",
	"--password-store=basic",
}

// proxyRouting is how the browser reaches its proxy. At most one of
// Server and PACURL is set; Extension is an unpacked auth extension dir.
type proxyRouting struct {
	Server    string
	PACURL    string
	Extension string
}

type argSet struct {
	ProfileDir  string
	Routing     proxyRouting
	Language    string
	UserAgent   string
	DebugPort   int
	ForceWebRTC bool
	Width       int
	Height      int
	Extra       []string
}

func buildArgs(a argSet) []string {
	args := make([]string, 0, len(baseFlags)+12+len(a.Extra))
	args = append(args, "--user-data-dir="+a.ProfileDir)
	args = append(args, baseFlags...)

	switch {
	case a.Routing.PACURL != "":
		args = append(args, "--proxy-pac-url="+a.Routing.PACURL)
	case a.Routing.Server != "":
		args = append(args, "--proxy-server="+a.Routing.Server)
	}
	if a.Routing.Extension != "" {
		args = append(args,
			"--disable-extensions-except="+a.Routing.Extension,
			"--load-extension="+a.Routing.Extension,
		)
	}

	if a.Language != "" {
		args = append(args, "--lang="+a.Language)
	}
	if a.UserAgent != "" {
		args = append(args, "--user-agent="+a.UserAgent)
	}
	if a.DebugPort > 0 {
		args = append(args, "--remote-debugging-port="+strconv.Itoa(a.DebugPort))
	}
	if a.ForceWebRTC {
		args = append(args,
			"--force-webrtc-ip-handling-policy=disable_non_proxied_udp",
			"--enforce-webrtc-ip-permission-check",
		)
	}
	if a.Width > 0 && a.Height > 0 {
		args = append(args, "--window-size="+strconv.Itoa(a.Width)+","+strconv.Itoa(a.Height))
	}
	return append(args, a.Extra...)
}

// primaryLanguage returns the first tag of an Accept-Language value,
// "de-DE" for "de-DE,de;q=0.9".
func primaryLanguage(accept string) string {
	tag, _, _ := strings.Cut(accept, ",")
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}

// acceptLanguages expands a bare tag like "de-DE" into "de-DE,de". Values
// that are already lists are returned unchanged.
func acceptLanguages(lang string) string {
	if strings.Contains(lang, ",") {
		return lang
	}
	if base, _, ok := strings.Cut(lang, "-"); ok && base != "" {
		return lang + "," + base
	}
	return lang
}
