package main

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	initLogger("error")
	os.Exit(m.Run())
}

func TestMemStore(t *testing.T) {
	t.Run("get returns not found for missing key", func(t *testing.T) {
		store := NewMemStore()
		_, found, err := store.Get("missing")
		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
		if found {
			t.Error("Expected missing key to not be found")
		}
	})

	t.Run("put then get round trips", func(t *testing.T) {
		store := NewMemStore()
		if err := store.Put("key1", []byte("value1")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		value, found, err := store.Get("key1")
		if err != nil || !found {
			t.Fatalf("Expected key1 to be found, err=%v", err)
		}
		if string(value) != "value1" {
			t.Errorf("Expected 'value1', got '%s'", value)
		}
	})

	t.Run("put overwrites existing value", func(t *testing.T) {
		store := NewMemStore()
		store.Put("key1", []byte("old"))
		store.Put("key1", []byte("new"))
		value, _, _ := store.Get("key1")
		if string(value) != "new" {
			t.Errorf("Expected 'new', got '%s'", value)
		}
	})

	t.Run("erase removes key", func(t *testing.T) {
		store := NewMemStore()
		store.Put("key1", []byte("value1"))
		if err := store.Erase("key1"); err != nil {
			t.Fatalf("Erase failed: %v", err)
		}
		_, found, _ := store.Get("key1")
		if found {
			t.Error("Expected erased key to not be found")
		}
	})

	t.Run("erase of missing key is not an error", func(t *testing.T) {
		store := NewMemStore()
		if err := store.Erase("missing"); err != nil {
			t.Errorf("Expected no error erasing missing key, got %v", err)
		}
	})

	t.Run("lists keys by prefix in sorted order", func(t *testing.T) {
		store := NewMemStore()
		store.Put("prefix_b", []byte("1"))
		store.Put("prefix_a", []byte("2"))
		store.Put("other_c", []byte("3"))

		keys, err := store.ListKeysWithPrefix("prefix_")
		if err != nil {
			t.Fatalf("ListKeysWithPrefix failed: %v", err)
		}
		if len(keys) != 2 {
			t.Fatalf("Expected 2 keys, got %d", len(keys))
		}
		if keys[0] != "prefix_a" || keys[1] != "prefix_b" {
			t.Errorf("Expected sorted keys [prefix_a prefix_b], got %v", keys)
		}
	})

	t.Run("get returns a defensive copy", func(t *testing.T) {
		store := NewMemStore()
		store.Put("key1", []byte("value"))
		value, _, _ := store.Get("key1")
		value[0] = 'X'
		again, _, _ := store.Get("key1")
		if string(again) != "value" {
			t.Errorf("Expected stored value unchanged, got '%s'", again)
		}
	})

	t.Run("failing puts return errors", func(t *testing.T) {
		store := NewMemStore()
		store.FailPuts = true
		if err := store.Put("key1", []byte("value1")); err == nil {
			t.Error("Expected error when puts disabled")
		}
		_, found, _ := store.Get("key1")
		if found {
			t.Error("Expected failed put to store nothing")
		}
	})
}
