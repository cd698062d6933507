package db

import (
	"context"
	"errors"
	"testing"
)

func TestStore_GetEntityWithoutSource(t *testing.T) {
	s := NewStore(nil, nil)
	if _, err := s.GetEntity(context.Background(), "Invoice", "inv-1"); !errors.Is(err, ErrNoEntitySource) {
		t.Errorf("err = %v, want ErrNoEntitySource", err)
	}
}

func TestStore_GetEntityDelegates(t *testing.T) {
	want := struct{ ID string }{ID: "inv-1"}
	s := NewStore(nil, func(_ context.Context, typeName, key string) (any, error) {
		if typeName != "Invoice" || key != "inv-1" {
			t.Errorf("source queried with (%q, %q)", typeName, key)
		}
		return want, nil
	})

	got, err := s.GetEntity(context.Background(), "Invoice", "inv-1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got != any(want) {
		t.Errorf("got %v, want the source's entity", got)
	}
}
