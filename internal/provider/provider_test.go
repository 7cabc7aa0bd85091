package provider

import "testing"

func TestClassifierMatchesDefaults(t *testing.T) {
	c := NewClassifier(nil)

	terminal := []string{
		"Your submission does not contain valid text",
		"error 2407: your submission does not contain valid text.",
		"You must upload a supported file type to continue",
		"This paper has already been submitted to this assignment",
	}
	for _, msg := range terminal {
		if !c.Terminal(msg) {
			t.Errorf("Terminal(%q) = false, want true", msg)
		}
	}

	retryable := []string{
		"",
		"internal server error",
		"connection reset by peer",
		"provider is temporarily unavailable",
	}
	for _, msg := range retryable {
		if c.Terminal(msg) {
			t.Errorf("Terminal(%q) = true, want false", msg)
		}
	}
}

func TestClassifierCustomMessages(t *testing.T) {
	c := NewClassifier([]string{"  Quota Permanently Exhausted "})

	if !c.Terminal("quota permanently exhausted for account") {
		t.Fatal("custom message not matched")
	}
	// Custom set replaces the defaults entirely.
	if c.Terminal("your submission does not contain valid text") {
		t.Fatal("default message matched after custom set configured")
	}
}
