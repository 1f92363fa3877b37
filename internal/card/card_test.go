package card

import (
	"errors"
	"strings"
	"testing"
)

const sampleCard = `<div class="card-analysis">
  <div class="card-header">
    <h3>ANÁLISIS DE EVIDENCIA</h3>
    <div class="badges">
      <span class="badge quality">★★★☆☆</span>
      <span class="badge type">Meta-análisis</span>
    </div>
  </div>
  <div class="card-section">
    <h4>RESUMEN CLÍNICO</h4>
    <p>Hallazgos principales del estudio.</p>
  </div>
  <div class="card-section">
    <h4>LIMITACIONES</h4>
    <p>Muestra pequeña.</p>
  </div>
</div>`

func TestParse_WellFormedCard(t *testing.T) {
	c, err := Parse(sampleCard)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if c.Stars != 3 {
		t.Errorf("expected 3 stars, got %d", c.Stars)
	}
	if c.StudyType != "Meta-análisis" {
		t.Errorf("expected study type Meta-análisis, got %q", c.StudyType)
	}
	if len(c.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(c.Sections))
	}
	if c.Sections[0].Title != "RESUMEN CLÍNICO" {
		t.Errorf("unexpected first section title %q", c.Sections[0].Title)
	}
	if !strings.Contains(c.Sections[1].Text, "Muestra pequeña") {
		t.Errorf("second section text missing, got %q", c.Sections[1].Text)
	}
}

func TestParse_MissingEnvelope(t *testing.T) {
	_, err := Parse(`<p>plain analysis text</p>`)
	if err == nil {
		t.Fatal("expected schema error for missing envelope")
	}
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SchemaError, got %T", err)
	}
}

func TestEnsureEnvelope(t *testing.T) {
	inner := `<p>analysis without wrapper ★★★★☆</p>`
	wrapped := EnsureEnvelope(inner)
	if !HasEnvelope(wrapped) {
		t.Fatal("expected wrapped fragment to carry the envelope")
	}
	if !strings.Contains(wrapped, inner) {
		t.Error("inner content must be preserved verbatim")
	}

	// Already enveloped content is returned unchanged.
	if got := EnsureEnvelope(sampleCard); got != sampleCard {
		t.Error("well-formed card must pass through untouched")
	}
}

func TestEnsureEnvelope_NestedCardIsRewrapped(t *testing.T) {
	nested := `<div class="wrapper"><div class="card-analysis"><p>texto</p></div></div>`
	if HasEnvelope(nested) {
		t.Fatal("a card under wrapper markup must not count as enveloped")
	}
	wrapped := EnsureEnvelope(nested)
	if !strings.HasPrefix(wrapped, `<div class="card-analysis">`) {
		t.Errorf("expected canonical outer envelope, got %q", wrapped)
	}
	if !strings.Contains(wrapped, nested) {
		t.Error("inner content must be preserved verbatim")
	}
}

func TestCountStars(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{"★★★☆☆", 3, true},
		{"★★★★★", 5, true},
		{"☆☆☆☆☆", 0, true},
		{"calidad: ★★★★☆ (buena)", 4, true},
		{"no stars here", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := CountStars(tt.input)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("CountStars(%q): expected (%d,%v), got (%d,%v)", tt.input, tt.want, tt.wantOK, got, ok)
		}
	}
}

func TestStarBadge_RoundTrip(t *testing.T) {
	for rating := 1; rating <= 5; rating++ {
		badge := StarBadge(rating)
		got, ok := CountStars(badge)
		if !ok || got != rating {
			t.Errorf("round trip for %d: badge %q parsed to (%d,%v)", rating, badge, got, ok)
		}
		if len([]rune(badge)) != 5 {
			t.Errorf("badge %q must have exactly 5 stars", badge)
		}
	}
}
