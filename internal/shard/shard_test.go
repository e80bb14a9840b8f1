package shard

import (
	"strings"
	"testing"
)

func TestPartitionKey_NodeIDs(t *testing.T) {
	tests := []struct {
		collection string
		id         string
		expected   string
	}{
		{"nodes", "0:/", "nodes#0"},
		{"nodes", "1:/content", "nodes#1"},
		{"nodes", "2:/content/a", "nodes#2"},
		{"nodes", "12:/a/b/c/d/e/f/g/h/i/j/k/l", "nodes#12"},
		{"nodes", "5:h516d8be3b20711bf40e59696aa081565c81b27b8cf469a2906dcd5c886ebf1dd/n", "nodes#5"},
		{"nodes", "4:p/a/b/r123", "nodes#4"},
	}

	for _, tt := range tests {
		result := PartitionKey(tt.collection, tt.id)
		if result != tt.expected {
			t.Errorf("PartitionKey(%q, %q) = %q, want %q",
				tt.collection, tt.id, result, tt.expected)
		}
	}
}

func TestPartitionKey_NoDepthPrefix(t *testing.T) {
	// Ids without a numeric depth prefix share the base partition
	tests := []struct {
		collection string
		id         string
	}{
		{"settings", "version"},
		{"clusters", "1"},
		{"settings", "a:b"},
		{"journal", ":leading"},
		{"journal", ""},
	}

	for _, tt := range tests {
		result := PartitionKey(tt.collection, tt.id)
		if result != tt.collection+"#" {
			t.Errorf("PartitionKey(%q, %q) = %q, want %q",
				tt.collection, tt.id, result, tt.collection+"#")
		}
	}
}

func TestPartitionKey_Deterministic(t *testing.T) {
	// Same inputs should always produce same output
	first := PartitionKey("nodes", "3:/a/b/c")
	for i := 0; i < 100; i++ {
		result := PartitionKey("nodes", "3:/a/b/c")
		if result != first {
			t.Errorf("expected deterministic result %q, got %q on iteration %d", first, result, i)
		}
	}
}

func TestPartitionKey_Format(t *testing.T) {
	result := PartitionKey("nodes", "7:/a/b/c/d/e/f/g")
	parts := strings.Split(result, "#")
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %q", len(parts), result)
	}
	if parts[0] != "nodes" {
		t.Errorf("expected collection 'nodes', got %q", parts[0])
	}
	if parts[1] != "7" {
		t.Errorf("expected depth '7', got %q", parts[1])
	}
}

func TestDepthPrefix(t *testing.T) {
	tests := []struct {
		id       string
		expected string
	}{
		{"0:/", "0"},
		{"10:/a", "10"},
		{"x:/a", ""},
		{"/a", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DepthPrefix(tt.id); got != tt.expected {
			t.Errorf("DepthPrefix(%q) = %q, want %q", tt.id, got, tt.expected)
		}
	}
}

func TestSamePartition(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		to       string
		expected bool
	}{
		{"children of root", "1:/", "1:0", true},
		{"children of node", "2:/content/", "2:/content0", true},
		{"mixed depths", "1:/a", "3:/z", false},
		{"depthless ids", "a", "z", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SamePartition("nodes", tt.from, tt.to); got != tt.expected {
				t.Errorf("SamePartition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestCollection(t *testing.T) {
	tests := []struct {
		pk       string
		expected string
	}{
		{"nodes#3", "nodes"},
		{"settings#", "settings"},
		{PartitionKey("journal", "0:/"), "journal"},
		{"nohash", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Collection(tt.pk); got != tt.expected {
			t.Errorf("Collection(%q) = %q, want %q", tt.pk, got, tt.expected)
		}
	}
}
