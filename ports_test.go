package seriallogger

import (
	"errors"
	"testing"
)

func TestIsValidPortPattern(t *testing.T) {
	tests := []struct {
		port string
		want bool
	}{
		{"COM1", true},
		{"COM999", true},
		{"COM", false},
		{"/dev/ttyUSB0", true},
		{"/dev/ttyACM0", true},
		{"/dev/cu.usbserial-1410", true},
		{"/dev/pts/3", true},
		{"/dev/sda", false},
		{"ttyUSB0", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isValidPortPattern(tt.port); got != tt.want {
			t.Errorf("isValidPortPattern(%q) = %v, want %v", tt.port, got, tt.want)
		}
	}
}

func TestIsPortAvailable(t *testing.T) {
	origList := getPortsList
	getPortsList = func() ([]string, error) {
		return []string{"/dev/ttyUSB0", "/dev/ttyACM0"}, nil
	}
	t.Cleanup(func() { getPortsList = origList })

	ok, err := isPortAvailable("/dev/ttyUSB0")
	if err != nil || !ok {
		t.Fatalf("expected /dev/ttyUSB0 available, got ok=%v err=%v", ok, err)
	}

	ok, err = isPortAvailable("/dev/ttyS9")
	if err != nil || ok {
		t.Fatalf("expected /dev/ttyS9 unavailable, got ok=%v err=%v", ok, err)
	}

	// Pseudo-terminals bypass enumeration
	ok, err = isPortAvailable("/dev/pts/7")
	if err != nil || !ok {
		t.Fatalf("expected /dev/pts/7 allowed, got ok=%v err=%v", ok, err)
	}
}

func TestIsPortAvailableRejectsTraversal(t *testing.T) {
	if _, err := isPortAvailable("/dev/tty/../sda"); err == nil {
		t.Fatal("expected error for path traversal")
	}
}

func TestIsPortAvailableRejectsPattern(t *testing.T) {
	if _, err := isPortAvailable("/etc/passwd"); err == nil {
		t.Fatal("expected error for non-serial path")
	}
}

func TestAvailablePortsPropagatesError(t *testing.T) {
	origList := getPortsList
	getPortsList = func() ([]string, error) {
		return nil, errors.New("enumeration failed")
	}
	t.Cleanup(func() { getPortsList = origList })

	if _, err := AvailablePorts(); err == nil {
		t.Fatal("expected enumeration error")
	}
}
