package bloomsync_test

import (
	"testing"

	"bitbucket.org/radianceaesthetics/ops_backend/bloomsync"
	"bitbucket.org/radianceaesthetics/ops_backend/models"
)

func TestNormalizeService(t *testing.T) {
	cases := []struct {
		name     string
		category string
		want     string // "" means unmappable (nil)
	}{
		// Name rules win over the category: "Dermal Filler" filed under a
		// tox-flavored umbrella category is still filler.
		{"Dermal Filler", "Tox + Fillers", "filler"},
		{"Botox 50 Units", "Injectables", "tox"},
		{"Lip Flip", "", "tox"},
		{"BOTOX", "", "tox"},
		{"Laser Hair Removal - Small Area", "", "laser-hair-removal"},
		{"HydraFacial Deluxe", "Skin", "facial"},
		{"Chemical Peel - Medium Depth", "", "peel"},
		{"Semaglutide Weekly", "", "weight-loss"},
		{"New Patient Consult", "", "consultation"},
		{"Radiance Membership - Gold", "", "membership"},

		// Category fallback when the name matches nothing.
		{"Mystery Package", "Weight Loss Program", "weight-loss"},
		{"Seasonal Special", "Tox + Fillers", "tox"},
		{"Quarterly Maintenance", "Filler", "filler"},

		// Unmappable is a valid outcome, not an error.
		{"Hot Stone Add-On", "", ""},
		{"Hot Stone Add-On", "Spa Extras", ""},
		{"", "", ""},
	}

	for _, tc := range cases {
		got := bloomsync.NormalizeService(tc.name, tc.category)
		if tc.want == "" {
			if got != nil {
				t.Errorf("NormalizeService(%q, %q) = %q, want nil", tc.name, tc.category, *got)
			}
			continue
		}
		if got == nil {
			t.Errorf("NormalizeService(%q, %q) = nil, want %q", tc.name, tc.category, tc.want)
			continue
		}
		if *got != tc.want {
			t.Errorf("NormalizeService(%q, %q) = %q, want %q", tc.name, tc.category, *got, tc.want)
		}
	}
}

func TestLocationMapKey(t *testing.T) {
	locations := []models.Location{
		{ExternalId: "loc-carmel", Key: "carmel", Name: "Carmel", Position: 0},
		{ExternalId: "loc-westfield", Key: "westfield", Name: "Westfield", Position: 1},
	}
	m := bloomsync.NewLocationMap(locations)

	if key, ok := m.Key("loc-westfield"); !ok || key != "westfield" {
		t.Fatalf("Key(loc-westfield) = %q, %v; want westfield, true", key, ok)
	}
	if key, ok := m.Key("loc-unknown"); ok {
		t.Fatalf("Key(loc-unknown) = %q, true; want miss", key)
	}
}
