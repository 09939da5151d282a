package commonpaths_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/andrebq/peerbus/internal/commonpaths"
)

func TestExpand(t *testing.T) {
	got := commonpaths.Expand("~/x/y")
	if strings.HasPrefix(got, "~") || !strings.HasSuffix(got, filepath.Join("x", "y")) {
		t.Fatalf("Unexpected expansion %q", got)
	}
	if got := commonpaths.Expand("/etc/hosts"); got != "/etc/hosts" {
		t.Fatalf("Absolute paths should not change, got %q", got)
	}
	if filepath.Dir(commonpaths.DefaultPeerConfig()) != commonpaths.DefaultDir() {
		t.Fatalf("Peer config should live under %v", commonpaths.DefaultDir())
	}
}
