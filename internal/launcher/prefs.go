package launcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writePreferences merges privacy preferences into
// <profileDir>/Default/Preferences. A corrupt file is replaced.
func writePreferences(profileDir, acceptLanguages string, forceWebRTC bool) error {
	dir := filepath.Join(profileDir, "Default")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create preferences dir: %w", err)
	}
	path := filepath.Join(dir, "Preferences")

	prefs := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &prefs); err != nil || prefs == nil {
			prefs = map[string]any{}
		}
	}

	policy := "default"
	if forceWebRTC {
		policy = "disable_non_proxied_udp"
	}

	section(prefs, "intl")["accept_languages"] = acceptLanguages
	webrtc := section(prefs, "webrtc")
	webrtc["ip_handling_policy"] = policy
	webrtc["multiple_routes_enabled"] = false
	webrtc["nonproxied_udp_enabled"] = false
	profile := section(prefs, "profile")
	section(profile, "default_content_setting_values")["geolocation"] = 2
	profile["password_manager_enabled"] = false
	prefs["credentials_enable_service"] = false

	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}

// section returns m[key] as a map, replacing any non-object value.
func section(m map[string]any, key string) map[string]any {
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	sub := map[string]any{}
	m[key] = sub
	return sub
}
