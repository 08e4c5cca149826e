package memory

import (
	"context"
	"testing"

	"github.com/mapscout/placecrawler/internal/scraper"
)

func notification(kind, jobID string) scraper.Notification {
	return scraper.Notification{Kind: kind, JobID: jobID, Message: kind}
}

func TestNotifierRecordsMessages(t *testing.T) {
	t.Parallel()

	n := New()
	n.Notify(context.Background(), notification("job_started", "job-1"))
	n.Notify(context.Background(), notification("milestone", "job-1"))

	sent := n.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(sent))
	}
	if kinds := n.Kinds(); kinds[0] != "job_started" || kinds[1] != "milestone" {
		t.Fatalf("kinds not recorded correctly: %v", kinds)
	}

	sent[0].Kind = "modified"
	if n.Sent()[0].Kind == "modified" {
		t.Fatal("expected Sent() to return a copy")
	}
}
