package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistrySupports(t *testing.T) {
	r := NewRegistry()

	supported := []string{
		"text/plain",
		"text/plain; charset=utf-8",
		"TEXT/HTML",
		"text/markdown",
		"application/pdf",
	}
	for _, mt := range supported {
		if !r.Supports(mt) {
			t.Errorf("expected %q to be supported", mt)
		}
	}

	unsupported := []string{"image/png", "application/zip", "", "video/mp4"}
	for _, mt := range unsupported {
		if r.Supports(mt) {
			t.Errorf("expected %q to be unsupported", mt)
		}
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract(context.Background(), "image/png", []byte{0x89, 0x50})
	var ute *UnsupportedTypeError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnsupportedTypeError, got %v", err)
	}
	if ute.MIMEType != "image/png" {
		t.Errorf("expected mime type in error, got %q", ute.MIMEType)
	}
}

func TestExtractPlainText(t *testing.T) {
	r := NewRegistry()
	text, err := r.Extract(context.Background(), "text/plain; charset=utf-8", []byte("hello\nworld"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello\nworld" {
		t.Errorf("got %q", text)
	}
}

func TestExtractHTML(t *testing.T) {
	input := `<!DOCTYPE html>
<html><head><title>Ignored</title><style>body{color:red}</style></head>
<body>
<!-- comment -->
<script>alert("nope")</script>
<h1>Quarterly Report</h1>
<p>Revenue grew by 12&percnt; year over year.</p>
<p>Costs were flat.</p>
</body></html>`

	text, err := extractHTML(context.Background(), []byte(input))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Quarterly Report") {
		t.Errorf("expected heading text, got %q", text)
	}
	if !strings.Contains(text, "Costs were flat.") {
		t.Errorf("expected paragraph text, got %q", text)
	}
	if strings.Contains(text, "alert") || strings.Contains(text, "color:red") {
		t.Errorf("script/style content leaked into output: %q", text)
	}
	if strings.Contains(text, "<") {
		t.Errorf("tags leaked into output: %q", text)
	}
}

func TestExtractHTMLEmptyBody(t *testing.T) {
	_, err := extractHTML(context.Background(), []byte("<html><body></body></html>"))
	if err == nil {
		t.Error("expected error for html with no text")
	}
}

func TestExtractPDFGarbage(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Extract(context.Background(), "application/pdf", []byte("not a pdf")); err == nil {
		t.Error("expected error for invalid pdf bytes")
	}
}
