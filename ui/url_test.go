package ui

import (
	"net/http"
	"testing"
)

func TestNewPageURL(t *testing.T) {
	tests := []struct {
		name     string
		basePath string
		expected string
	}{
		{"simple path", "/crud/view", "/crud/view"},
		{"root", "/", "/"},
		{"empty path", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewPageURL(tt.basePath).String()

			if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestWithSort(t *testing.T) {
	tests := []struct {
		name      string
		field     string
		direction string
		expected  string
	}{
		{"field and direction", "name", "DESC", "/items?direction=DESC&sort=name"},
		{"field only", "name", "", "/items?sort=name"},
		{"empty field", "", "ASC", "/items"},
		{"both empty", "", "", "/items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewPageURL("/items").WithSort(tt.field, tt.direction).String()

			if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestWithPage(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		expected string
	}{
		{"first page drops the parameter", 0, "/items"},
		{"negative page", -3, "/items"},
		{"later page", 4, "/items?page=4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewPageURL("/items").WithPage(tt.page).String()

			if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestWithPageReplacesExistingPage(t *testing.T) {
	result := NewPageURL("/items").WithPage(2).WithPage(0).WithCountOnPage(5).String()
	expected := "/items?count=5"

	if result != expected {
		t.Errorf("Expected %s, got %s", expected, result)
	}
}

func TestWithFilter(t *testing.T) {
	result := NewPageURL("/items").
		WithFilter("status", "open").
		WithFilter("empty", "").
		WithFilter("q", "a b").
		String()
	expected := "/items?q=a+b&status=open"

	if result != expected {
		t.Errorf("Expected %s, got %s", expected, result)
	}
}

func TestPreserveFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/items?page=2&sort=name&success=created&status=open", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	result := NewPageURL("/items").PreserveFromRequest(req).WithPage(3).String()
	expected := "/items?page=3&sort=name&status=open"

	if result != expected {
		t.Errorf("Expected %s, got %s", expected, result)
	}
}

func TestIsInternalParam(t *testing.T) {
	tests := []struct {
		param    string
		expected bool
	}{
		{"success", true},
		{"SUCCESS", true},
		{"error", true},
		{"page", false},
		{"sort", false},
	}

	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			if got := isInternalParam(tt.param); got != tt.expected {
				t.Errorf("isInternalParam(%q) = %v, expected %v", tt.param, got, tt.expected)
			}
		})
	}
}
