// Package audio converts between linear PCM samples and the big-endian byte
// layouts carried in AES67 RTP payloads.
//
// AES67 streams carry L16 (16-bit) or L24 (24-bit) two's complement samples,
// most significant byte first, interleaved by channel:
//
//	payload := audio.PackL24([]int32{left0, right0, left1, right1})
//	samples, err := audio.UnpackL24(payload)
//
// ToneGenerator produces a continuous sine wave in any stream.Format and is
// used by test senders:
//
//	gen, err := audio.NewToneGenerator(format, 1000, 0.5)
//	pcm := gen.Packet()
package audio
