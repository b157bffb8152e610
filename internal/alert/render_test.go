package alert

import (
	"strings"
	"testing"
)

func testAlert(desc string) *Alert {
	return &Alert{
		Fingerprint: "test-123",
		Status:      StatusFiring,
		Labels:      map[string]string{"alertname": "TestAlert"},
		Annotations: map[string]string{"description": desc},
	}
}

func TestRender_Colors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		color  string
		header string
	}{
		{StatusFiring, "red", "FIRING: "},
		{StatusAcknowledged, "orange", "ACKNOWLEDGED: "},
		{StatusResolved, "green", "RESOLVED: "},
		{StatusManuallyResolved, "green", "MANUALLY_RESOLVED: "},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()

			msg := Render(tt.status, testAlert("Test description"), "")
			if !strings.Contains(msg.HTML, `color="`+tt.color+`"`) {
				t.Errorf("HTML = %q, want color %q", msg.HTML, tt.color)
			}
			if msg.Body != tt.header+"Test description" {
				t.Errorf("Body = %q, want %q", msg.Body, tt.header+"Test description")
			}
		})
	}
}

func TestRender_Actor(t *testing.T) {
	t.Parallel()

	msg := Render(StatusAcknowledged, testAlert("Test description"), "@user:example.com")
	if !strings.Contains(msg.Body, "ACKNOWLEDGED by @user:example.com: Test description") {
		t.Errorf("Body = %q, want actor annotation", msg.Body)
	}
	if !strings.Contains(msg.HTML, "by @user:example.com") {
		t.Errorf("HTML = %q, want actor annotation", msg.HTML)
	}

	msg = Render(StatusAcknowledged, testAlert("Test description"), "")
	if strings.Contains(msg.Body, " by ") {
		t.Errorf("Body = %q, want no actor annotation for empty actor", msg.Body)
	}
}

func TestRender_Deterministic(t *testing.T) {
	t.Parallel()

	al := testAlert("disk full")
	first := Render(StatusFiring, al, "@a:b")
	for range 10 {
		if got := Render(StatusFiring, al, "@a:b"); got != first {
			t.Fatalf("Render not deterministic: %+v != %+v", got, first)
		}
	}
}

func TestRender_EscapesHTML(t *testing.T) {
	t.Parallel()

	msg := Render(StatusFiring, testAlert("<script>x</script>"), "")
	if strings.Contains(msg.HTML, "<script>") {
		t.Errorf("HTML = %q, description should be escaped", msg.HTML)
	}
	if !strings.Contains(msg.Body, "<script>x</script>") {
		t.Errorf("Body = %q, plain body should be verbatim", msg.Body)
	}
}

func TestRender_DiskFull(t *testing.T) {
	t.Parallel()

	msg := Render(StatusFiring, testAlert("disk full"), "")
	if !strings.Contains(msg.Body, "FIRING: disk full") {
		t.Errorf("Body = %q, want FIRING: disk full", msg.Body)
	}
	if Color(StatusFiring) != "red" {
		t.Errorf("Color(firing) = %q, want red", Color(StatusFiring))
	}
}
