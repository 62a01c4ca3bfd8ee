package cammgr

import "testing"

func TestManager_Register_MonotonicCamNums(t *testing.T) {
	m := New([]string{"camA", "camB"})

	numA, err := m.Register(Registration{RawCamName: "camA"})
	if err != nil {
		t.Fatalf("register camA: %v", err)
	}
	numB, err := m.Register(Registration{RawCamName: "camB"})
	if err != nil {
		t.Fatalf("register camB: %v", err)
	}
	if !(numA < numB) {
		t.Errorf("expected numA < numB, got %d, %d", numA, numB)
	}
}

func TestManager_Register_UnknownCamera(t *testing.T) {
	m := New([]string{"camA"})
	_, err := m.Register(Registration{RawCamName: "camZ"})
	if err == nil {
		t.Fatal("expected ErrUnknownCamera")
	}
}

func TestManager_Register_ReconnectSameRegistration(t *testing.T) {
	m := New([]string{"camA"})
	reg := Registration{RawCamName: "camA", ControlURL: "http://camA"}

	num1, err := m.Register(reg)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	num2, err := m.Register(reg)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if num1 != num2 {
		t.Errorf("expected same CamNum on reconnect, got %d and %d", num1, num2)
	}
}

func TestManager_Register_ConflictingRegistration(t *testing.T) {
	m := New([]string{"camA"})
	if _, err := m.Register(Registration{RawCamName: "camA", ControlURL: "http://a1"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := m.Register(Registration{RawCamName: "camA", ControlURL: "http://a2"})
	if err == nil {
		t.Fatal("expected ErrAlreadyRegistered for conflicting registration")
	}
}

func TestManager_AllPresent(t *testing.T) {
	m := New([]string{"camA", "camB"})
	if m.AllPresent() {
		t.Fatal("expected AllPresent false with no registrations")
	}
	m.Register(Registration{RawCamName: "camA"})
	if m.AllPresent() {
		t.Fatal("expected AllPresent false with one of two registered")
	}
	m.Register(Registration{RawCamName: "camB"})
	if !m.AllPresent() {
		t.Fatal("expected AllPresent true once both registered")
	}
}

func TestManager_OffsetLifecycle(t *testing.T) {
	m := New([]string{"camA"})
	m.Register(Registration{RawCamName: "camA"})

	if _, ok := m.Offset("camA"); ok {
		t.Fatal("expected no offset before SetOffset")
	}
	if m.AllSynced() {
		t.Fatal("expected AllSynced false before any offset installed")
	}

	if err := m.SetOffset("camA", 42); err != nil {
		t.Fatalf("SetOffset: %v", err)
	}
	off, ok := m.Offset("camA")
	if !ok || off != 42 {
		t.Errorf("Offset() = %d, %v, want 42, true", off, ok)
	}
	if !m.AllSynced() {
		t.Fatal("expected AllSynced true once offset installed")
	}

	m.ClearOffset("camA")
	if _, ok := m.Offset("camA"); ok {
		t.Fatal("expected no offset after ClearOffset")
	}
}

func TestManager_ClearAllOffsets(t *testing.T) {
	m := New([]string{"camA", "camB"})
	m.Register(Registration{RawCamName: "camA"})
	m.Register(Registration{RawCamName: "camB"})
	m.SetOffset("camA", 1)
	m.SetOffset("camB", 2)

	m.ClearAllOffsets()

	if _, ok := m.Offset("camA"); ok {
		t.Error("expected camA offset cleared")
	}
	if _, ok := m.Offset("camB"); ok {
		t.Error("expected camB offset cleared")
	}
}

func TestManager_RawCamNameFor(t *testing.T) {
	m := New([]string{"camA"})
	num, _ := m.Register(Registration{RawCamName: "camA"})

	name, ok := m.RawCamNameFor(num)
	if !ok || name != "camA" {
		t.Errorf("RawCamNameFor(%d) = %q, %v, want camA, true", num, name, ok)
	}
}

func TestManager_PresenceChanged_FiresOnRegister(t *testing.T) {
	m := New([]string{"camA"})
	ch := m.PresenceChanged()

	select {
	case <-ch:
		t.Fatal("channel closed before any registration")
	default:
	}

	m.Register(Registration{RawCamName: "camA"})

	select {
	case <-ch:
	default:
		t.Fatal("expected presence channel to close after registration")
	}
}

func TestManager_MissingTracking(t *testing.T) {
	m := New([]string{"camA"})
	m.Register(Registration{RawCamName: "camA"})
	m.MarkMissing("camA")

	missing := m.Missing()
	if len(missing) != 1 || missing[0] != "camA" {
		t.Errorf("Missing() = %v, want [camA]", missing)
	}
}
