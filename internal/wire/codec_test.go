package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecode_RoundTrip_AllFieldsPresent(t *testing.T) {
	ts := 12.5
	tagID := uint32(7)
	homography := [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

	orig := FeaturePacket{
		CamName:               "camA",
		Timestamp:             &ts,
		CamReceivedTime:       100.25,
		DeviceTimestamp:       99,
		BlockID:               5,
		FrameNumber:           42,
		NFramesSkipped:        2,
		DoneCamnodeProcessing: 100.3,
		PreprocessStamp:       100.27,
		Points: []Point{
			{Kind: PointBackgroundSubtraction, X: 1, Y: 2, Area: 3, Orientation: 0.5},
			{Kind: PointAprilTag, X: 4, Y: 5, TagID: &tagID, Homography: &homography},
		},
	}

	b, err := Encode(orig)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if diff := cmp.Diff(orig, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecode_RoundTrip_AllOptionalsAbsent(t *testing.T) {
	orig := FeaturePacket{
		CamName:         "camB",
		CamReceivedTime: 1.0,
		FrameNumber:     0,
		Points:          nil,
	}

	b, err := Encode(orig)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Timestamp != nil {
		t.Errorf("expected nil Timestamp, got %v", *got.Timestamp)
	}
	if got.DeviceTimestamp != 0 || got.BlockID != 0 {
		t.Errorf("expected zero-value optionals, got %+v", got)
	}
	if len(got.Points) != 0 {
		t.Errorf("expected no points, got %d", len(got.Points))
	}
	if got.CamName != orig.CamName || got.CamReceivedTime != orig.CamReceivedTime {
		t.Errorf("required fields mismatch: got %+v", got)
	}
}

func TestEncode_TruncatesAtMaxPoints(t *testing.T) {
	pts := make([]Point, MaxPoints+10)
	for i := range pts {
		pts[i] = Point{X: float64(i), Y: float64(i)}
	}

	b, err := Encode(FeaturePacket{CamName: "camC", Points: pts})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(got.Points) != MaxPoints {
		t.Errorf("expected %d points after truncation, got %d", MaxPoints, len(got.Points))
	}
}

func TestDecode_InvalidPayload(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	if err == nil {
		t.Fatal("expected error decoding garbage payload")
	}
}

func TestClockModel_Predict(t *testing.T) {
	m := ClockModel{Gain: 0.01, Offset: 5.0}
	got := m.Predict(100)
	want := 6.0
	if got != want {
		t.Errorf("Predict(100) = %v, want %v", got, want)
	}
}
