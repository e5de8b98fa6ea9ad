package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	chatmodel "github.com/studybuddy-ai/server/internal/model/chat"
	"github.com/studybuddy-ai/server/internal/store"
)

func TestMemorySaveAssignsTimestamps(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	session := chatmodel.NewSession("sess-1", "user-1")
	if err := mem.Save(ctx, session); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if session.CreatedAt.IsZero() || session.UpdatedAt.IsZero() {
		t.Fatal("timestamps not assigned")
	}
	created := session.CreatedAt

	time.Sleep(5 * time.Millisecond)
	session.Append(chatmodel.NewTextMessage(chatmodel.RoleUser, "hi"))
	if err := mem.Save(ctx, session); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if !session.CreatedAt.Equal(created) {
		t.Fatal("CreatedAt changed on update")
	}
	if !session.UpdatedAt.After(created) {
		t.Fatal("UpdatedAt not refreshed")
	}
}

func TestMemoryFindScopedToUser(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	if err := mem.Save(ctx, chatmodel.NewSession("sess-1", "user-a")); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	if _, err := mem.Find(ctx, "sess-1", "user-b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
	if _, err := mem.Find(ctx, "sess-1", "user-a"); err != nil {
		t.Fatalf("owner Find err: %v", err)
	}
}

func TestMemoryFindReturnsCopy(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	session := chatmodel.NewSession("sess-1", "user-a")
	session.Append(chatmodel.NewTextMessage(chatmodel.RoleUser, "original"))
	if err := mem.Save(ctx, session); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	got, _ := mem.Find(ctx, "sess-1", "user-a")
	got.Messages[0].Parts[0].Text = "mutated"

	again, _ := mem.Find(ctx, "sess-1", "user-a")
	if again.Messages[0].Parts[0].Text == "mutated" {
		t.Fatal("store shares message slices with callers")
	}
}

func TestMemoryDeleteScopedToUser(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	if err := mem.Save(ctx, chatmodel.NewSession("sess-1", "user-a")); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	if err := mem.Delete(ctx, "sess-1", "user-b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mem.Delete(ctx, "sess-1", "user-a"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if err := mem.Delete(ctx, "sess-1", "user-a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryListSortsAndPaginates(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		if err := mem.Save(ctx, chatmodel.NewSession(id, "user-a")); err != nil {
			t.Fatalf("Save err: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := mem.Save(ctx, chatmodel.NewSession("other", "user-b")); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	page, total, err := mem.List(ctx, "user-a", 2, 0)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(page) != 2 || page[0].ID != "sess-3" || page[1].ID != "sess-2" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	rest, _, err := mem.List(ctx, "user-a", 2, 2)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "sess-1" {
		t.Fatalf("unexpected second page: %+v", rest)
	}

	none, total, err := mem.List(ctx, "user-a", 2, 10)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(none) != 0 || total != 3 {
		t.Fatalf("offset past end: page=%v total=%d", none, total)
	}
}
