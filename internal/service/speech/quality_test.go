package speech

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
)

// makeWAV 生成 16-bit 单声道正弦波 WAV。
func makeWAV(t *testing.T, duration time.Duration, amplitude float64) []byte {
	t.Helper()
	const sampleRate = 16000
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}

	n := int(duration.Seconds() * sampleRate)
	data := make([]int, n)
	for i := range data {
		data[i] = int(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/sampleRate))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate}, Data: data, SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return out
}

func TestProbeWAVDuration(t *testing.T) {
	info, err := ProbeWAV(makeWAV(t, 1500*time.Millisecond, 0.3))
	if err != nil {
		t.Fatalf("ProbeWAV err: %v", err)
	}
	if info.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected duration %s", info.Duration)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestProbeWAVRejectsGarbage(t *testing.T) {
	if _, err := ProbeWAV([]byte("definitely not audio")); err != ErrNotWAV {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}

func TestAssessAudioGoodTone(t *testing.T) {
	result := AssessAudio(makeWAV(t, 2*time.Second, 0.3), "wav")
	if !result.Decoded || !result.Usable {
		t.Fatalf("expected usable decoded result, got %+v", result)
	}
	if result.DurationMS != 2000 {
		t.Fatalf("unexpected duration %d", result.DurationMS)
	}
	// 正弦波 RMS = A/sqrt(2)
	if math.Abs(result.RMS-0.3/math.Sqrt2) > 0.01 {
		t.Fatalf("unexpected rms %f", result.RMS)
	}
	if result.Clipping != 0 {
		t.Fatalf("unexpected clipping %f", result.Clipping)
	}
}

func TestAssessAudioSilence(t *testing.T) {
	result := AssessAudio(makeWAV(t, 2*time.Second, 0), "wav")
	if !result.Decoded || result.Usable {
		t.Fatalf("silence should decode but be unusable, got %+v", result)
	}
}

func TestAssessAudioMalformedDoesNotFail(t *testing.T) {
	result := AssessAudio([]byte("RIFF....WAVEjunk"), "wav")
	if result.Decoded || result.Score != 0 {
		t.Fatalf("malformed audio should yield zero-valued result, got %+v", result)
	}

	other := AssessAudio([]byte{0xff, 0xfb, 0x90}, "mp3")
	if other.Decoded || !other.Usable || other.Format != "mp3" {
		t.Fatalf("non-wav containers are passed through, got %+v", other)
	}
}

func TestAssessText(t *testing.T) {
	a := NewQualityAssessor()
	result, err := a.Assess(context.Background(), speech.Sample{Text: "You don't ever listen to me, do you?"})
	if err != nil {
		t.Fatalf("Assess err: %v", err)
	}
	if result.Kind != "text" || result.WordCount != 8 || !result.Usable {
		t.Fatalf("unexpected result %+v", result)
	}

	if got := CountWords("你从来不听我说"); got != 7 {
		t.Fatalf("expected 7 han characters, got %d", got)
	}
}

func TestAssessorProbe(t *testing.T) {
	a := NewQualityAssessor()

	d, known, err := a.Probe(makeWAV(t, 1500*time.Millisecond, 0.3), "wav")
	if err != nil || !known {
		t.Fatalf("expected known duration, got known=%v err=%v", known, err)
	}
	if d < 1400*time.Millisecond || d > 1600*time.Millisecond {
		t.Fatalf("unexpected duration %s", d)
	}

	if _, known, err := a.Probe([]byte("ID3 mp3 data"), "mp3"); known || err != nil {
		t.Fatalf("mp3 should be unknown without error, got known=%v err=%v", known, err)
	}
	if _, _, err := a.Probe([]byte("garbage"), "wav"); err == nil {
		t.Fatal("garbage wav should fail to probe")
	}
}
