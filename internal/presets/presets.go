// Package presets holds the built-in locale/timezone/geolocation bundles a
// profile can be based on.
package presets

import "strings"

// DefaultUserAgent is applied when neither the profile nor its preset sets one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.6533.120 Safari/537.36"

// None is the key of the manual-setup preset.
const None = "none"

const defaultAccuracy = 50

// Geo is a geolocation override.
type Geo struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Preset is a named bundle of locale settings.
type Preset struct {
	Key            string
	Label          string
	AcceptLanguage string
	Timezone       string
	Geo            *Geo
	Country        string
	Tags           string
	UserAgent      string
}

func geo(lat, lon float64) *Geo {
	return &Geo{Latitude: lat, Longitude: lon, Accuracy: defaultAccuracy}
}

const (
	langKZ = "ru-KZ,ru;q=0.9,kk-KZ;q=0.8,en-US;q=0.7"
	langRU = "ru-RU,ru;q=0.9,en-US;q=0.6"
	langUS = "en-US,en;q=0.9"
)

var table = []Preset{
	{Key: None, Label: "Manual setup (no preset)"},
	{Key: "kz_almaty", Label: "Kazakhstan / Almaty (UTC+05)", AcceptLanguage: langKZ, Timezone: "Asia/Almaty", Geo: geo(43.2567, 76.9286), Country: "KZ", Tags: "kazakhstan almaty"},
	{Key: "kz_astana", Label: "Kazakhstan / Astana (UTC+05)", AcceptLanguage: langKZ, Timezone: "Asia/Almaty", Geo: geo(51.1801, 71.4460), Country: "KZ", Tags: "kazakhstan astana"},
	{Key: "ru_moscow", Label: "Russia / Moscow (UTC+03)", AcceptLanguage: langRU, Timezone: "Europe/Moscow", Geo: geo(55.7558, 37.6176), Country: "RU", Tags: "russia moscow"},
	{Key: "ru_novosibirsk", Label: "Russia / Novosibirsk (UTC+07)", AcceptLanguage: langRU, Timezone: "Asia/Novosibirsk", Geo: geo(55.0084, 82.9357), Country: "RU", Tags: "russia novosibirsk"},
	{Key: "ru_vladivostok", Label: "Russia / Vladivostok (UTC+10)", AcceptLanguage: langRU, Timezone: "Asia/Vladivostok", Geo: geo(43.1155, 131.8855), Country: "RU", Tags: "russia vladivostok"},
	{Key: "by_minsk", Label: "Belarus / Minsk (UTC+03)", AcceptLanguage: "ru-BY,ru;q=0.9,en-US;q=0.6", Timezone: "Europe/Minsk", Geo: geo(53.9045, 27.5615), Country: "BY", Tags: "belarus minsk"},
	{Key: "ua_kyiv", Label: "Ukraine / Kyiv (UTC+02/+03)", AcceptLanguage: "uk-UA,uk;q=0.9,ru;q=0.7,en-US;q=0.6", Timezone: "Europe/Kyiv", Geo: geo(50.4501, 30.5234), Country: "UA", Tags: "ukraine kyiv"},
	{Key: "tr_istanbul", Label: "Turkey / Istanbul (UTC+03)", AcceptLanguage: "tr-TR,tr;q=0.9,en-US;q=0.6", Timezone: "Europe/Istanbul", Geo: geo(41.0082, 28.9784), Country: "TR", Tags: "turkey istanbul"},
	{Key: "pl_warsaw", Label: "Poland / Warsaw (UTC+01)", AcceptLanguage: "pl-PL,pl;q=0.9,en-US;q=0.6", Timezone: "Europe/Warsaw", Geo: geo(52.2297, 21.0122), Country: "PL", Tags: "poland warsaw"},
	{Key: "de_berlin", Label: "Germany / Berlin (UTC+01)", AcceptLanguage: "de-DE,de;q=0.9,en-US;q=0.6", Timezone: "Europe/Berlin", Geo: geo(52.5200, 13.4050), Country: "DE", Tags: "germany berlin"},
	{Key: "gb_london", Label: "United Kingdom / London (UTC+00)", AcceptLanguage: "en-GB,en;q=0.9", Timezone: "Europe/London", Geo: geo(51.5074, -0.1278), Country: "GB", Tags: "uk london"},
	{Key: "us_new_york", Label: "USA / New York (UTC-05)", AcceptLanguage: langUS, Timezone: "America/New_York", Geo: geo(40.7128, -74.0060), Country: "US", Tags: "usa newyork"},
	{Key: "us_los_angeles", Label: "USA / Los Angeles (UTC-08)", AcceptLanguage: langUS, Timezone: "America/Los_Angeles", Geo: geo(34.0522, -118.2437), Country: "US", Tags: "usa losangeles"},
	{Key: "ca_toronto", Label: "Canada / Toronto (UTC-05)", AcceptLanguage: "en-CA,en;q=0.9,fr-CA;q=0.5", Timezone: "America/Toronto", Geo: geo(43.6532, -79.3832), Country: "CA", Tags: "canada toronto"},
	{Key: "br_sao_paulo", Label: "Brazil / Sao Paulo (UTC-03)", AcceptLanguage: "pt-BR,pt;q=0.9,en-US;q=0.6", Timezone: "America/Sao_Paulo", Geo: geo(-23.5505, -46.6333), Country: "BR", Tags: "brazil saopaulo"},
	{Key: "in_delhi", Label: "India / Delhi (UTC+05:30)", AcceptLanguage: "en-IN,en;q=0.9,hi;q=0.7", Timezone: "Asia/Kolkata", Geo: geo(28.7041, 77.1025), Country: "IN", Tags: "india delhi"},
	{Key: "sg_singapore", Label: "Singapore (UTC+08)", AcceptLanguage: "en-SG,en;q=0.9,zh-CN;q=0.6", Timezone: "Asia/Singapore", Geo: geo(1.3521, 103.8198), Country: "SG", Tags: "singapore"},
}

var byKey = func() map[string]int {
	m := make(map[string]int, len(table))
	for i, p := range table {
		m[p.Key] = i
	}
	return m
}()

// Get returns the preset for key.
func Get(key string) (Preset, bool) {
	i, ok := byKey[strings.TrimSpace(key)]
	if !ok {
		return Preset{}, false
	}
	return clone(table[i]), true
}

// Lookup returns the preset for key, or the manual preset when unknown.
func Lookup(key string) Preset {
	if p, ok := Get(key); ok {
		return p
	}
	return clone(table[0])
}

// Valid reports whether key names a preset.
func Valid(key string) bool {
	_, ok := byKey[strings.TrimSpace(key)]
	return ok
}

// KeyByLabel maps a display label back to its key.
func KeyByLabel(label string) (string, bool) {
	for _, p := range table {
		if p.Label == label {
			return p.Key, true
		}
	}
	return "", false
}

// LabelByKey returns the display label, falling back to the manual label.
func LabelByKey(key string) string {
	return Lookup(key).Label
}

// Keys returns preset keys in display order.
func Keys() []string {
	keys := make([]string, len(table))
	for i, p := range table {
		keys[i] = p.Key
	}
	return keys
}

// All returns every preset in display order.
func All() []Preset {
	out := make([]Preset, len(table))
	for i, p := range table {
		out[i] = clone(p)
	}
	return out
}

func clone(p Preset) Preset {
	if p.Geo != nil {
		g := *p.Geo
		p.Geo = &g
	}
	return p
}
