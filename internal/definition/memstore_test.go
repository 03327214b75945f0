package definition

import (
	"context"
	"testing"
	"time"

	"github.com/LinkingMx/Law-sub002/model"
)

func seed(t *testing.T, store *MemoryStore, wf model.WorkflowDefinition) {
	t.Helper()
	if err := store.Create(context.Background(), wf); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	wf := model.WorkflowDefinition{ID: "wf-1", Name: "Flujo", TargetModel: "documentation", IsActive: true}
	seed(t, store, wf)

	if err := store.Create(ctx, wf); !model.IsCode(err, model.ErrConflict) {
		t.Errorf("duplicate create err = %v, want CONFLICT", err)
	}

	got, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Flujo" {
		t.Errorf("name = %q", got.Name)
	}

	got.Name = "Flujo v2"
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = store.Get(ctx, "wf-1")
	if got.Name != "Flujo v2" {
		t.Errorf("name after update = %q", got.Name)
	}

	if err := store.Delete(ctx, "wf-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "wf-1"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("get after delete err = %v, want NOT_FOUND", err)
	}
	if err := store.Delete(ctx, "wf-1"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("second delete err = %v, want NOT_FOUND", err)
	}
}

func TestMemoryStoreListFilters(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	seed(t, store, model.WorkflowDefinition{ID: "a", TargetModel: "documentation", IsActive: true, CreatedAt: now.Add(-2 * time.Hour)})
	seed(t, store, model.WorkflowDefinition{ID: "b", TargetModel: "documentation", IsActive: false, CreatedAt: now.Add(-time.Hour)})
	seed(t, store, model.WorkflowDefinition{ID: "c", TargetModel: "ticket", IsActive: true, CreatedAt: now})

	all, err := store.List(context.Background(), model.WorkflowFilters{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("order = %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
	}

	docs, _ := store.List(context.Background(), model.WorkflowFilters{TargetModel: "documentation"})
	if len(docs) != 2 {
		t.Errorf("documentation = %d, want 2", len(docs))
	}

	active, _ := store.ListActiveForModel(context.Background(), "documentation")
	if len(active) != 1 || active[0].ID != "a" {
		t.Errorf("active for documentation = %+v", active)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, model.WorkflowDefinition{
		ID: "wf-1",
		Steps: []model.StepDefinition{{ID: "s1", StepName: "original"}},
	})

	got, _ := store.Get(context.Background(), "wf-1")
	got.Steps[0].StepName = "mutated"

	again, _ := store.Get(context.Background(), "wf-1")
	if again.Steps[0].StepName != "original" {
		t.Error("mutation through a returned copy leaked into the store")
	}
}
