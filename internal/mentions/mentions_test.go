package mentions

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

func TestHandles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		content string
		want    []string
	}{
		{"", nil},
		{"no mentions here", nil},
		{"ping @qa_001", []string{"qa_001"}},
		{"@a and @b, then @a again", []string{"a", "b"}},
		{"email-like foo@bar is matched as bar", []string{"bar"}},
		{"@dev-7 handles hyphens but @-lead does not", []string{"dev-7"}},
		{"punctuation: @alice, @bob! (@carol)", []string{"alice", "bob", "carol"}},
	}
	for _, tc := range cases {
		if got := Handles(tc.content); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Handles(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestScanAndRecord(t *testing.T) {
	t.Parallel()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	for _, a := range []store.AgentParams{
		{AgentID: "qa_001", Role: models.RoleQA, SkillLevel: models.LevelSenior},
		{AgentID: "dev_001", Role: models.RoleBackendDev, SkillLevel: models.LevelJunior},
	} {
		if _, err := st.RegisterAgent(ctx, a); err != nil {
			t.Fatalf("RegisterAgent %s: %v", a.AgentID, err)
		}
	}
	eng := &Engine{Store: st}

	created, err := eng.ScanAndRecord(ctx, models.SourceDocument, "doc-1", "dev_001",
		"please review @qa_001, cc @nobody_registered and @qa_001 again")
	if err != nil {
		t.Fatalf("ScanAndRecord: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created mentions = %d, want 1", len(created))
	}
	m := created[0]
	if m.MentionedAgentID != "qa_001" || m.SourceType != models.SourceDocument || m.SourceID != "doc-1" || m.CreatedBy != "dev_001" || m.IsRead {
		t.Fatalf("mention = %+v", m)
	}

	// Re-scanning the same source is a no-op.
	created, err = eng.ScanAndRecord(ctx, models.SourceDocument, "doc-1", "dev_001", "again: @qa_001")
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("rescan created %d mentions, want 0", len(created))
	}

	// A different source records a fresh mention for the same agent.
	created, err = eng.ScanAndRecord(ctx, models.SourceTask, "7", "dev_001", "@qa_001 see task 7")
	if err != nil {
		t.Fatalf("task scan: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("task scan created = %d, want 1", len(created))
	}

	unread, err := st.ListMentions(ctx, "qa_001", "", false, 0)
	if err != nil {
		t.Fatalf("ListMentions: %v", err)
	}
	if len(unread) != 2 {
		t.Fatalf("unread = %d, want 2", len(unread))
	}
}

func TestScanAndRecordNoMatches(t *testing.T) {
	t.Parallel()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()

	eng := &Engine{Store: st}
	created, err := eng.ScanAndRecord(context.Background(), models.SourceDocument, "doc-1", "author",
		"plain text with an @unknown handle")
	if err != nil {
		t.Fatalf("ScanAndRecord: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("created = %d, want 0", len(created))
	}
}
