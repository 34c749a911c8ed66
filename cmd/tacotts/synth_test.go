package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadSynthText(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		stdin   string
		want    string
		wantErr bool
	}{
		{"flag wins", "hello", "ignored", "hello", false},
		{"stdin fallback", "", "  from stdin\n", "from stdin", false},
		{"empty everywhere", "", "   \n", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readSynthText(tt.flag, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteSynthOutput(t *testing.T) {
	wav := []byte("RIFFdata")

	var stdout bytes.Buffer
	if err := writeSynthOutput("-", wav, &stdout); err != nil {
		t.Fatalf("stdout write: %v", err)
	}
	if !bytes.Equal(stdout.Bytes(), wav) {
		t.Error("stdout output does not match input")
	}

	path := filepath.Join(t.TempDir(), "out.wav")
	if err := writeSynthOutput(path, wav, &stdout); err != nil {
		t.Fatalf("file write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, wav) {
		t.Error("file output does not match input")
	}
}

func TestRootCmd_UnknownFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"--no-such-flag"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Error("unknown flag should fail")
	}
}
