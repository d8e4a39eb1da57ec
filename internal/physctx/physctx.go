// Package physctx synthesizes device-unique physical noise into a single
// 32-byte context hash: cache-timing PUF jitter, clock skew, a thermal
// proxy, I/O latency, and recent keystroke cadence.
//
// None of these channels are cryptographically strong on their own; folded
// together and versioned, they give each checkpoint a fingerprint that is
// expensive to reproduce off the originating device and, by construction,
// not expected to reproduce even on the same device between captures.
package physctx

import (
	"crypto/sha256"
	"encoding/binary"
	"os"
	"time"
	"unsafe"

	"witnessd/internal/jitter"
)

// Domain is the version prefix for the combined hash. Bumping it
// invalidates comparison against historical captures that used an older
// capture algorithm.
const Domain = "witnessd-physics-v2"

// pufBufferSize is the scratch buffer the silicon PUF times reads across.
const pufBufferSize = 1 << 20 // 1 MiB

// pufSamples is the number of timing samples folded into the fingerprint.
const pufSamples = 100

// pufStride is the byte stride between successive reads in one timing sweep.
const pufStride = 128

// maxJitterSamples bounds how many recent jitter samples are folded in.
const maxJitterSamples = 10

// Context is one physical capture.
type Context struct {
	ClockSkewNanos  uint64   `json:"clock_skew_ns"`
	ThermalProxy    uint32   `json:"thermal_proxy"`
	SiliconPUF      [32]byte `json:"silicon_puf"`
	IOLatencyNanos  uint64   `json:"io_latency_ns"`
	JitterFolded    int      `json:"jitter_samples_folded"`
	CombinedHash    [32]byte `json:"combined_hash"`
}

// Capture measures the four raw channels and folds in up to
// maxJitterSamples recent jitter samples. All measurements are best-effort;
// a channel unavailable on the current platform is left zero rather than
// failing the capture.
func Capture(recentJitter []jitter.Sample) Context {
	ctx := Context{
		ClockSkewNanos: measureClockSkew(),
		ThermalProxy:   measureThermalProxy(),
		SiliconPUF:     generatePUFFingerprint(),
		IOLatencyNanos: measureIOLatency(),
	}

	n := len(recentJitter)
	if n > maxJitterSamples {
		n = maxJitterSamples
	}
	ctx.JitterFolded = n

	ctx.CombinedHash = ctx.computeHash(recentJitter[:n])
	return ctx
}

func (c *Context) computeHash(folded []jitter.Sample) [32]byte {
	h := sha256.New()
	h.Write([]byte(Domain))

	var buf8 [8]byte
	binary.BigEndian.PutUint64(buf8[:], c.ClockSkewNanos)
	h.Write(buf8[:])

	var buf4 [4]byte
	binary.BigEndian.PutUint32(buf4[:], c.ThermalProxy)
	h.Write(buf4[:])

	h.Write(c.SiliconPUF[:])

	binary.BigEndian.PutUint64(buf8[:], c.IOLatencyNanos)
	h.Write(buf8[:])

	for _, s := range folded {
		binary.BigEndian.PutUint64(buf8[:], uint64(s.DurationNanos))
		h.Write(buf8[:])
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// measureClockSkew measures a proxy for TSC/system-clock skew: the
// difference between a monotonic and a wall-clock reading taken back to
// back, in nanoseconds. This is zero-cost and portable; on platforms with
// a real TSC reader, that source should be substituted here.
func measureClockSkew() uint64 {
	mono := time.Now()
	wall := time.Now()
	skew := wall.Sub(mono)
	if skew < 0 {
		skew = -skew
	}
	return uint64(skew)
}

// measureThermalProxy counts loop iterations completed in exactly 1ms of
// wall time. Thermal throttling and background load perturb the count,
// giving a noisy per-device, per-moment signal.
func measureThermalProxy() uint32 {
	var counter uint32
	deadline := time.Now().Add(time.Millisecond)
	for time.Now().Before(deadline) {
		counter++
	}
	return counter
}

// measureIOLatency times one small metadata read.
func measureIOLatency() uint64 {
	start := time.Now()
	_, _ = os.Stat(os.DevNull)
	return uint64(time.Since(start))
}

// generatePUFFingerprint times pufSamples strided volatile-style reads
// across a pufBufferSize scratch buffer and hashes the resulting timing
// distribution. Two consecutive invocations are expected to differ: cache
// state, scheduler jitter, and memory layout all vary sample to sample.
func generatePUFFingerprint() [32]byte {
	buf := make([]byte, pufBufferSize)
	for i := range buf {
		buf[i] = byte(i)
	}

	h := sha256.New()
	var buf8 [8]byte

	for round := 0; round < pufSamples; round++ {
		start := time.Now()
		var acc byte
		offset := round % pufStride
		for j := offset; j < len(buf); j += pufStride {
			// volatile-style read: indirection through a pointer defeats
			// constant-folding so the read isn't optimized away.
			p := (*byte)(unsafe.Pointer(&buf[j]))
			acc ^= *p
		}
		elapsed := time.Since(start)
		buf[offset] ^= acc // feed the accumulator back so the loop can't be hoisted

		binary.BigEndian.PutUint64(buf8[:], uint64(elapsed))
		h.Write(buf8[:])
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
