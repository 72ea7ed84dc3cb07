// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldclink

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomValidMessage picks a random message whose index resolves for its type
func randomValidMessage(rng *rand.Rand) Message {
	payload := uint16(rng.Intn(0x10000))
	if rng.Intn(4) == 0 {
		statuses := []StatusIndex{
			StatusOK, StatusReady, StatusRemoteReady,
			StopEmergency, StopOverTemp, StopOverCurrent, StopOverVoltage, StopUnderVoltage, StopSystemError,
			StatusSystemError, StatusError,
		}
		return NewMessage(MsgStatus, uint8(statuses[rng.Intn(len(statuses))]), payload)
	}
	types := []MsgType{MsgResponse, MsgWriteRequest, MsgReadRequest}
	return NewMessage(types[rng.Intn(len(types))], uint8(rng.Intn(int(ValueRemotePWM)+1)), payload)
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random bytes to the decoder
// and verifies it doesn't panic and the buffer stays bounded
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for len(data) > 0 {
			n := rng.Intn(len(data)) + 1
			for _, r := range d.Feed(data[:n]) {
				if r.Valid() && r.Message.Validate() != nil {
					t.Errorf("Round %d: dispatchable result with invalid message %s", i, r.Message)
				}
			}
			data = data[n:]
		}
		if d.Buffered() >= FrameSize {
			t.Errorf("Round %d: %d bytes left buffered", i, d.Buffered())
		}
	}
}

// TestFuzzDecoder_RandomMessages encodes random valid messages and checks
// they come back unchanged regardless of how the stream is chunked
func TestFuzzDecoder_RandomMessages(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		count := rng.Intn(8) + 1
		sent := make([]Message, count)
		var stream []byte
		for j := range sent {
			sent[j] = randomValidMessage(rng)
			stream = append(stream, EncodeFrame(sent[j])...)
		}

		var got []Message
		for len(stream) > 0 {
			n := rng.Intn(len(stream)) + 1
			for _, r := range d.Feed(stream[:n]) {
				if !r.Valid() {
					t.Errorf("Round %d: unexpected rejection: %v", i, r.Err)
					continue
				}
				got = append(got, r.Message)
			}
			stream = stream[n:]
		}

		if len(got) != len(sent) {
			t.Errorf("Round %d: sent %d messages, got %d", i, len(sent), len(got))
			continue
		}
		for j := range sent {
			if got[j] != sent[j] {
				t.Errorf("Round %d: message %d mismatch: sent %s, got %s", i, j, sent[j], got[j])
			}
		}
	}
}

// TestFuzzDecoder_GarbagePrefix checks that a valid frame is always recovered
// after random noise that contains no start byte
func TestFuzzDecoder_GarbagePrefix(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		noise := make([]byte, rng.Intn(32))
		for j := range noise {
			b := byte(rng.Intn(256))
			if b == StartByte {
				b = 0x00
			}
			noise[j] = b
		}
		m := randomValidMessage(rng)

		var valid []Message
		for _, r := range d.Feed(append(noise, EncodeFrame(m)...)) {
			if r.Valid() {
				valid = append(valid, r.Message)
			}
		}
		if len(valid) != 1 || valid[0] != m {
			t.Errorf("Round %d: expected exactly %s after %d noise bytes, got %v", i, m, len(noise), valid)
		}
	}
}

// TestFuzzDecoder_CorruptedFrames flips random bits inside the message bytes
// and verifies the frame never passes as the original message
func TestFuzzDecoder_CorruptedFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		m := randomValidMessage(rng)
		frame := EncodeFrame(m)

		pos := rng.Intn(MessageSize) + 1
		frame[pos] ^= 1 << uint(rng.Intn(8))

		f, _ := DecodeFrame(frame)
		if f.IsValid() {
			t.Errorf("Round %d: single bit flip at byte %d went undetected for %s", i, pos, m)
		}
	}
}
