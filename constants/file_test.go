package constants

import "testing"

func TestExtensionAllowed(t *testing.T) {
	for _, name := range []string{"a.pdf", "scan.PNG", "photo.Jpeg", "chart.webp"} {
		if !ExtensionAllowed(name) {
			t.Fatalf("%s should be allowed", name)
		}
	}
	for _, name := range []string{"run.exe", "archive.zip", "noextension", ""} {
		if ExtensionAllowed(name) {
			t.Fatalf("%s should be rejected", name)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	if got := ContentTypeFor("invoice.pdf"); got != "application/pdf" {
		t.Fatalf("pdf = %q", got)
	}
	if got := ContentTypeFor("scan.JPG"); got != "image/jpeg" {
		t.Fatalf("jpg = %q", got)
	}
	if got := ContentTypeFor("mystery.bin"); got != "application/octet-stream" {
		t.Fatalf("fallback = %q", got)
	}
}
