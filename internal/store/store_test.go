package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "switchboard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertConversationKeepsNewestActivity(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertConversation(&Conversation{
		ID:           "s1",
		DispatcherID: "dispA",
		DisplayName:  "one",
		LastActivity: time.UnixMilli(2000),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Re-upserting with an older timestamp must not move activity back.
	if err := s.UpsertConversation(&Conversation{
		ID:           "s1",
		DispatcherID: "dispA",
		DisplayName:  "one renamed",
		LastActivity: time.UnixMilli(1000),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	convs, err := s.ListConversations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}
	if convs[0].DisplayName != "one renamed" {
		t.Errorf("display name not updated: %q", convs[0].DisplayName)
	}
	if got := convs[0].LastActivity.UnixMilli(); got != 2000 {
		t.Errorf("last activity = %d, want 2000 preserved", got)
	}
}

func TestAppendMessageDeduplicatesByID(t *testing.T) {
	s := openTestStore(t)

	m := &Message{ID: "m1", ConversationID: "s1", Sender: "s1", Body: "hello", At: time.UnixMilli(5000), Inbound: true}
	if err := s.AppendMessage(m); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Archive backfill replays the same message.
	if err := s.AppendMessage(m); err != nil {
		t.Fatalf("replay append: %v", err)
	}

	msgs, err := s.RecentMessages("s1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1 after replay", len(msgs))
	}
}

func TestAppendMessageWithoutIDNeverDeduplicates(t *testing.T) {
	s := openTestStore(t)

	echo := &Message{ConversationID: "s1", Body: "same words", At: time.UnixMilli(1000)}
	if err := s.AppendMessage(echo); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendMessage(echo); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := s.RecentMessages("s1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2 local echoes kept", len(msgs))
	}
}

func TestAppendMessageAdvancesConversationActivity(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendMessage(&Message{ID: "m1", ConversationID: "s1", Body: "a", At: time.UnixMilli(100)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendMessage(&Message{ID: "m2", ConversationID: "s1", Body: "b", At: time.UnixMilli(300)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendMessage(&Message{ID: "m3", ConversationID: "s1", Body: "late page", At: time.UnixMilli(200)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	convs, err := s.ListConversations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := convs[0].LastActivity.UnixMilli(); got != 300 {
		t.Errorf("last activity = %d, want 300", got)
	}
}

func TestRecentMessagesReturnsNewestWindowOldestFirst(t *testing.T) {
	s := openTestStore(t)

	for i, at := range []int64{100, 200, 300, 400} {
		m := &Message{
			ID:             string(rune('a' + i)),
			ConversationID: "s1",
			Body:           "m",
			At:             time.UnixMilli(at),
		}
		if err := s.AppendMessage(m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.RecentMessages("s1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].At.UnixMilli() != 300 || msgs[1].At.UnixMilli() != 400 {
		t.Errorf("window = [%d %d], want [300 400]", msgs[0].At.UnixMilli(), msgs[1].At.UnixMilli())
	}
}

func TestUnreadSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	m := &Message{ID: "m1", ConversationID: "s1", Sender: "s1", Body: "hello", At: time.UnixMilli(5000), Inbound: true}
	if err := s.AppendMessage(m); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.SetUnread("s1", 3); err != nil {
		t.Fatalf("set unread: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	convs, err := s.ListConversations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 1 || convs[0].Unread != 3 {
		t.Fatalf("after reopen: conversations = %+v, want one with unread 3", convs)
	}
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	s := openTestStore(t)

	for id, at := range map[string]int64{"s1": 100, "s2": 300, "s3": 200} {
		if err := s.UpsertConversation(&Conversation{ID: id, LastActivity: time.UnixMilli(at)}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	convs, err := s.ListConversations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := make([]string, len(convs))
	for i, c := range convs {
		got[i] = c.ID
	}
	want := []string{"s2", "s3", "s1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
