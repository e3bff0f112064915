package ca

import (
	"testing"
)

func TestLoadGeneratesRootOnFirstLaunch(t *testing.T) {
	dir := t.TempDir()

	authority, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if authority.rootCert == nil || authority.rootKey == nil {
		t.Fatal("expected root cert and key to be populated")
	}
	if !authority.rootCert.IsCA {
		t.Fatal("root certificate must be CA:true")
	}
}

func TestLoadIsPersistentAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir)
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}

	second, err := Load(dir)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}

	if first.rootCert.SerialNumber.Cmp(second.rootCert.SerialNumber) != 0 {
		t.Fatal("expected the same root to be reloaded from disk")
	}
}

func TestLeafForCachesAndIsUniquePerHost(t *testing.T) {
	authority, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	leaf1, err := authority.LeafFor("chat.openai.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	leaf1Again, err := authority.LeafFor("chat.openai.com")
	if err != nil {
		t.Fatalf("LeafFor (cached): %v", err)
	}
	if leaf1 != leaf1Again {
		t.Fatal("expected cached leaf to be returned on second lookup")
	}

	leaf2, err := authority.LeafFor("api.anthropic.com")
	if err != nil {
		t.Fatalf("LeafFor (other host): %v", err)
	}
	if leaf1 == leaf2 {
		t.Fatal("expected distinct leaves for distinct hosts")
	}
}

func TestLeafForIsCaseInsensitive(t *testing.T) {
	authority, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	lower, err := authority.LeafFor("Example.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	upper, err := authority.LeafFor("example.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	if lower != upper {
		t.Fatal("expected host lookups to be case-insensitive")
	}
}
