package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                        "/",
		"/metrics":                                "/metrics",
		"/api/environments/environment":           "/api/environments/environment",
		"/api/environments/abc":                   "/api/environments/:id",
		"/api/environments/abc;zoneId=z":          "/api/environments/:id",
		"/api/jobs/RolloverStudent/01J":           "/api/jobs/RolloverStudent/:id",
		"/api/jobs/RolloverStudent/01J/OLDYEAR":   "/api/jobs/RolloverStudent/:id/OLDYEAR",
		"/api/jobs/RolloverStudent/01J/a/b":       "/api/jobs/RolloverStudent/01J/a/b",
		"/api/changes/StudentPersonals?limit=10":  "/api/changes/:collection",
		"/api/jobs/RolloverStudent":               "/api/jobs/RolloverStudent",
		"/api/environments/abc/fingerprint":       "/api/environments/:id/fingerprint",
		"/api/changes/RolloverStudents/events":    "/api/changes/:collection/events",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
