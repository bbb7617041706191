package session_test

import (
	"testing"
	"time"

	"github.com/apollolytics/dialogue-backend/internal/model/conversation"
	"github.com/apollolytics/dialogue-backend/internal/service/session"
)

func TestStoreCreateGetDelete(t *testing.T) {
	store := session.NewMemoryStore()

	sess := store.Create()
	if sess.ID == "" {
		t.Fatal("expected generated session id")
	}
	if sess.State != conversation.StateAwaitingStart {
		t.Fatalf("expected awaiting_start state, got %s", sess.State)
	}

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got != sess {
		t.Fatal("expected the same session pointer")
	}

	store.Delete(sess.ID)
	if _, err := store.Get(sess.ID); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestStoreGetUnknown(t *testing.T) {
	store := session.NewMemoryStore()
	if _, err := store.Get("missing"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestSessionAppendKeepsOrder(t *testing.T) {
	store := session.NewMemoryStore()
	sess := store.Create()

	sess.Append(conversation.TextTurn(conversation.RoleSystem, "prompt"))
	sess.Append(conversation.TextTurn(conversation.RoleUser, "hello"))
	sess.Append(conversation.TextTurn(conversation.RoleAssistant, "hi"))

	if len(sess.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(sess.Turns))
	}
	roles := []string{conversation.RoleSystem, conversation.RoleUser, conversation.RoleAssistant}
	for i, role := range roles {
		if sess.Turns[i].Role != role {
			t.Fatalf("turn %d: expected role %s, got %s", i, role, sess.Turns[i].Role)
		}
	}
}

func TestPruneDropsOnlyExpiredSessions(t *testing.T) {
	store := session.NewMemoryStore()

	old := store.Create()
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	fresh := store.Create()

	if n := store.Prune(time.Hour); n != 1 {
		t.Fatalf("expected 1 pruned session, got %d", n)
	}
	if _, err := store.Get(old.ID); err == nil {
		t.Fatal("expected expired session to be gone")
	}
	if _, err := store.Get(fresh.ID); err != nil {
		t.Fatalf("fresh session should survive: %v", err)
	}
}
