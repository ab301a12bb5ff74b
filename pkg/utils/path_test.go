package utils

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestSecureJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		base        string
		elements    []string
		wantErr     bool
		errContains string
		wantPrefix  string // What the result should start with (OS-agnostic)
	}{
		{
			name:       "valid object name",
			base:       "/var/innerfs/blobs",
			elements:   []string{"ab", "cd", "abcd1234.blob"},
			wantErr:    false,
			wantPrefix: "/var/innerfs/blobs",
		},
		{
			name:        "traversal attempt in object name",
			base:        "/var/innerfs/blobs",
			elements:    []string{"ab", "..", "..", "..", "etc", "passwd"},
			wantErr:     true,
			errContains: "escapes backend root",
		},
		{
			name:        "empty base",
			base:        "",
			elements:    []string{"file.dat"},
			wantErr:     true,
			errContains: "base path cannot be empty",
		},
		{
			name:       "single element join",
			base:       "/var/innerfs/blobs",
			elements:   []string{"file.dat"},
			wantErr:    false,
			wantPrefix: "/var/innerfs/blobs",
		},
		{
			name:       "multiple nested elements",
			base:       "/var/innerfs/blobs",
			elements:   []string{"a", "b", "c", "d", "file.dat"},
			wantErr:    false,
			wantPrefix: "/var/innerfs/blobs",
		},
		{
			name:       "elements with current directory refs",
			base:       "/var/innerfs/blobs",
			elements:   []string{".", "ab", ".", "file.dat"},
			wantErr:    false,
			wantPrefix: "/var/innerfs/blobs",
		},
		{
			name:        "subtle traversal with mixed elements",
			base:        "/var/innerfs/blobs",
			elements:    []string{"ab", "subdir", "..", "..", "..", "etc"},
			wantErr:     true,
			errContains: "escapes backend root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runtime.GOOS == "windows" && strings.HasPrefix(tt.base, "/") {
				t.Skip("Skipping Unix path test on Windows")
			}

			result, err := SecureJoin(tt.base, tt.elements...)
			if (err != nil) != tt.wantErr {
				t.Errorf("SecureJoin() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("SecureJoin() error = %v, should contain %q", err, tt.errContains)
				}
			}
			if !tt.wantErr && tt.wantPrefix != "" {
				cleanPrefix := filepath.Clean(tt.wantPrefix)
				if !strings.HasPrefix(result, cleanPrefix) {
					t.Errorf("SecureJoin() result = %v, should start with %v", result, cleanPrefix)
				}
			}
		})
	}
}

func BenchmarkSecureJoin(b *testing.B) {
	base := "/var/innerfs/blobs"
	elements := []string{"ab", "cd", "file.dat"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = SecureJoin(base, elements...)
	}
}

func TestSecureJoinWithTempDir(t *testing.T) {
	t.Parallel()

	tmpBase := t.TempDir()

	result, err := SecureJoin(tmpBase, "ab", "file.dat")
	if err != nil {
		t.Errorf("SecureJoin() with temp dir failed: %v", err)
	}
	if !strings.HasPrefix(result, tmpBase) {
		t.Errorf("SecureJoin() result %v doesn't start with base %v", result, tmpBase)
	}

	if _, err := SecureJoin(tmpBase, "..", "outside", "file.txt"); err == nil {
		t.Error("SecureJoin() should reject a traversal attempt")
	}
}
