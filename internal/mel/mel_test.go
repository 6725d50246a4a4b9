package mel

import (
	"math"
	"testing"
)

func testConfig() Config {
	return Config{
		SampleRate:  16000,
		FrameLength: 256,
		FrameShift:  64,
		NMels:       20,
		FMin:        0,
		FMax:        8000,
	}
}

func sine(n int, freq float64, rate int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}

	return out
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"zero frame length", func(c *Config) { c.FrameLength = 0 }},
		{"shift beyond frame", func(c *Config) { c.FrameShift = c.FrameLength + 1 }},
		{"zero mels", func(c *Config) { c.NMels = 0 }},
		{"fmax below fmin", func(c *Config) { c.FMin = 4000; c.FMax = 100 }},
		{"fmax beyond nyquist", func(c *Config) { c.FMax = 9000 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)

			if _, err := NewExtractor(cfg); err == nil {
				t.Fatalf("NewExtractor should reject %s", tc.name)
			}
		})
	}
}

func TestFromSamples_FrameCount(t *testing.T) {
	cfg := testConfig()

	e, err := NewExtractor(cfg)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	samples := sine(cfg.FrameLength+3*cfg.FrameShift, 440, cfg.SampleRate, 0.5)

	got, err := e.FromSamples(samples)
	if err != nil {
		t.Fatalf("FromSamples: %v", err)
	}

	shape := got.Shape()
	if shape[0] != 4 || shape[1] != int64(cfg.NMels) {
		t.Fatalf("shape = %v, want [4 %d]", shape, cfg.NMels)
	}
}

func TestFromSamples_ShortInputPadsToOneFrame(t *testing.T) {
	e, err := NewExtractor(testConfig())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	got, err := e.FromSamples([]float64{0.1, -0.1, 0.2})
	if err != nil {
		t.Fatalf("FromSamples: %v", err)
	}

	if got.Shape()[0] != 1 {
		t.Fatalf("frames = %d, want 1", got.Shape()[0])
	}
}

func TestFromSamples_EmptyInput(t *testing.T) {
	e, err := NewExtractor(testConfig())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	if _, err := e.FromSamples(nil); err == nil {
		t.Fatal("empty input should fail")
	}
}

func TestFromSamples_Deterministic(t *testing.T) {
	cfg := testConfig()

	e, err := NewExtractor(cfg)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	samples := sine(4*cfg.FrameLength, 880, cfg.SampleRate, 0.3)

	a, err := e.FromSamples(samples)
	if err != nil {
		t.Fatalf("FromSamples: %v", err)
	}

	b, err := e.FromSamples(samples)
	if err != nil {
		t.Fatalf("FromSamples: %v", err)
	}

	ad, bd := a.RawData(), b.RawData()
	for i := range ad {
		if ad[i] != bd[i] {
			t.Fatalf("run mismatch at %d: %v vs %v", i, ad[i], bd[i])
		}
	}
}

func TestFromSamples_LouderSignalRaisesEnergy(t *testing.T) {
	cfg := testConfig()

	e, err := NewExtractor(cfg)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	quiet, err := e.FromSamples(sine(4*cfg.FrameLength, 440, cfg.SampleRate, 0.01))
	if err != nil {
		t.Fatalf("FromSamples quiet: %v", err)
	}

	loud, err := e.FromSamples(sine(4*cfg.FrameLength, 440, cfg.SampleRate, 0.9))
	if err != nil {
		t.Fatalf("FromSamples loud: %v", err)
	}

	var quietSum, loudSum float64
	for _, v := range quiet.RawData() {
		quietSum += float64(v)
	}

	for _, v := range loud.RawData() {
		loudSum += float64(v)
	}

	if loudSum <= quietSum {
		t.Fatalf("loud log-mel sum %v should exceed quiet %v", loudSum, quietSum)
	}
}
