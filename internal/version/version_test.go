// ABOUTME: Tests for version constants
// ABOUTME: Ensures version information is properly defined
package version

import (
	"strings"
	"testing"
)

func TestDefined(t *testing.T) {
	for name, value := range map[string]string{
		"Version":      Version,
		"Product":      Product,
		"Manufacturer": Manufacturer,
	} {
		if value == "" {
			t.Errorf("%s should not be empty", name)
		}
		if len(value) > 100 {
			t.Errorf("%s is unreasonably long", name)
		}
		for _, placeholder := range []string{"TODO", "FIXME", "XXX", "placeholder"} {
			if value == placeholder {
				t.Errorf("%s should not be placeholder value: %s", name, placeholder)
			}
		}
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, Product+" ") {
		t.Errorf("expected %q to start with the product name", s)
	}
	if !strings.HasSuffix(s, Version) {
		t.Errorf("expected %q to end with the version", s)
	}
}
