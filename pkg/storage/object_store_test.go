package storage

import "testing"

func TestRenditionKey(t *testing.T) {
	if got := RenditionKey("rec-1", "720p", "mp4"); got != "renditions/rec-1/720p.mp4" {
		t.Fatalf("unexpected key: %s", got)
	}
}
