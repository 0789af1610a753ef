package presets

import "testing"

func TestTable(t *testing.T) {
	keys := Keys()
	if len(keys) != 18 || keys[0] != None || keys[len(keys)-1] != "sg_singapore" {
		t.Fatalf("Keys() = %v", keys)
	}

	seen := map[string]bool{}
	for _, p := range All() {
		if seen[p.Key] {
			t.Errorf("duplicate key %q", p.Key)
		}
		seen[p.Key] = true
		if p.Key == None {
			if p.Geo != nil || p.Timezone != "" {
				t.Errorf("manual preset should be empty: %+v", p)
			}
			continue
		}
		if p.Geo == nil || p.Geo.Accuracy != 50 {
			t.Errorf("%s: geo = %+v", p.Key, p.Geo)
		}
		if p.Timezone == "" || p.AcceptLanguage == "" || len(p.Country) != 2 {
			t.Errorf("%s: incomplete preset %+v", p.Key, p)
		}
	}
}

func TestLookup(t *testing.T) {
	p, ok := Get("de_berlin")
	if !ok || p.Timezone != "Europe/Berlin" || p.Country != "DE" || p.Geo.Latitude != 52.52 {
		t.Errorf("Get(de_berlin) = %+v, %v", p, ok)
	}
	if _, ok := Get("mars_base"); ok {
		t.Error("unknown key found")
	}
	if got := Lookup("mars_base"); got.Key != None {
		t.Errorf("Lookup(unknown) = %q, want none", got.Key)
	}
	if !Valid(" ru_moscow ") || Valid("") {
		t.Error("Valid() mismatch")
	}
}

func TestLabels(t *testing.T) {
	key, ok := KeyByLabel("USA / New York (UTC-05)")
	if !ok || key != "us_new_york" {
		t.Errorf("KeyByLabel = %q, %v", key, ok)
	}
	if _, ok := KeyByLabel("nope"); ok {
		t.Error("unknown label found")
	}
	if got := LabelByKey("sg_singapore"); got != "Singapore (UTC+08)" {
		t.Errorf("LabelByKey = %q", got)
	}
	if got := LabelByKey("zz"); got != "Manual setup (no preset)" {
		t.Errorf("LabelByKey(unknown) = %q", got)
	}
}

func TestReturnedPresetsAreCopies(t *testing.T) {
	p, _ := Get("kz_almaty")
	p.Geo.Latitude = 0
	again, _ := Get("kz_almaty")
	if again.Geo.Latitude != 43.2567 {
		t.Error("mutating a returned preset changed the table")
	}
}
