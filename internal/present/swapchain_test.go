package present

import (
	"errors"
	"testing"
)

func TestSwapChain_InstallAndRestore(t *testing.T) {
	sc := NewSwapChain(APIDX11, 64, 32)

	var detoured int
	var original Func
	original, err := sc.Install(func(f *Frame) error {
		detoured++
		return original(f)
	})
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if original == nil {
		t.Fatal("Install() returned a nil original")
	}
	if !sc.Hooked() {
		t.Error("Hooked() = false after Install")
	}

	for i := 0; i < 2; i++ {
		if err := sc.Present(); err != nil {
			t.Fatalf("Present() error = %v", err)
		}
	}
	if detoured != 2 {
		t.Errorf("detour calls = %d, want 2", detoured)
	}
	if got := sc.Presented(); got != 2 {
		t.Errorf("Presented() = %d, want 2", got)
	}

	if err := sc.Restore(original); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if sc.Hooked() {
		t.Error("Hooked() = true after Restore")
	}

	if err := sc.Present(); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	if detoured != 2 {
		t.Errorf("detour calls after Restore = %d, want 2", detoured)
	}
	if got := sc.Presented(); got != 3 {
		t.Errorf("Presented() = %d, want 3", got)
	}
}

func TestSwapChain_RestoreWithoutInstall(t *testing.T) {
	sc := NewSwapChain(APISoftware, 8, 8)
	if err := sc.Restore(nil); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Restore() error = %v, want %v", err, ErrNotInstalled)
	}
}

func TestSwapChain_QueuedInstallFailures(t *testing.T) {
	sc := NewSwapChain(APIDX11, 8, 8)
	sc.FailNextInstalls(ErrProtectionDenied, ErrEntryPointNotFound)

	noop := func(*Frame) error { return nil }

	for _, want := range []error{ErrProtectionDenied, ErrEntryPointNotFound} {
		if _, err := sc.Install(noop); !errors.Is(err, want) {
			t.Errorf("Install() error = %v, want %v", err, want)
		}
	}
	if sc.Hooked() {
		t.Error("Hooked() = true after failed installs")
	}

	orig, err := sc.Install(noop)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if orig == nil {
		t.Error("Install() returned a nil original")
	}
}

func TestSwapChain_SnapshotCopiesFrontBuffer(t *testing.T) {
	sc := NewSwapChain(APISoftware, 4, 4)
	if err := sc.Present(); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	snap := sc.Snapshot()
	if got := snap.RGBAAt(0, 0).R; got != 16 {
		t.Errorf("front buffer R = %d, want 16", got)
	}

	snap.Pix[0] = 200
	if got := sc.Snapshot().RGBAAt(0, 0).R; got != 16 {
		t.Errorf("R after modifying a snapshot = %d, want 16", got)
	}
}

func TestAPI_ParseAndSupport(t *testing.T) {
	tests := []struct {
		in        string
		want      API
		supported bool
	}{
		{in: "dx11", want: APIDX11, supported: true},
		{in: "DX12", want: APIDX12},
		{in: " vulkan ", want: APIVulkan},
		{in: "software", want: APISoftware, supported: true},
		{in: "opengl", want: APIOpenGL},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAPI(tt.in)
			if err != nil {
				t.Fatalf("ParseAPI(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAPI(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if s := Supported(got); s != tt.supported {
				t.Errorf("Supported(%v) = %v, want %v", got, s, tt.supported)
			}
		})
	}

	if _, err := ParseAPI("metal"); err == nil {
		t.Error("ParseAPI(\"metal\") expected error")
	}
}

func TestUnsupportedError(t *testing.T) {
	var err error = &UnsupportedError{API: APIDX12}

	if got := err.Error(); got != "Unsupported: DX12" {
		t.Errorf("Error() = %q, want %q", got, "Unsupported: DX12")
	}
	if !errors.Is(err, ErrUnsupported) {
		t.Error("errors.Is(err, ErrUnsupported) = false")
	}

	var ue *UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatal("errors.As(err, *UnsupportedError) = false")
	}
	if ue.API != APIDX12 {
		t.Errorf("API = %v, want %v", ue.API, APIDX12)
	}
}
