// Package audio provides the small amount of audio plumbing the call bridge
// needs: G.711 μ-law decoding, naive resampling, and WAV container encoding.
//
// Telephony audio arrives as 8 kHz G.711 μ-law and is relayed opaque; the
// only place raw samples are touched is the transcription path, which needs
// 16-bit PCM in a WAV container.
package audio

// muLawDecodeTable maps each μ-law byte to its 16-bit linear PCM value,
// following ITU-T G.711. Built once at package init.
var muLawDecodeTable [256]int16

func init() {
	for i := range 256 {
		u := ^uint8(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
		sample -= 0x84
		if sign != 0 {
			sample = -sample
		}
		muLawDecodeTable[i] = sample
	}
}

// DecodeMuLaw converts G.711 μ-law bytes to 16-bit signed little-endian PCM.
// The output is twice the length of the input.
func DecodeMuLaw(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := muLawDecodeTable[b]
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// Upsample2x doubles the sample rate of 16-bit mono PCM by linear
// interpolation between adjacent samples. Used to lift 8 kHz telephony audio
// to the 16 kHz that speech models prefer.
func Upsample2x(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]byte, n*4)
	for i := range n {
		cur := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		next := cur
		if i+1 < n {
			next = int16(uint16(pcm[(i+1)*2]) | uint16(pcm[(i+1)*2+1])<<8)
		}
		mid := int16((int32(cur) + int32(next)) / 2)

		out[i*4] = byte(cur)
		out[i*4+1] = byte(cur >> 8)
		out[i*4+2] = byte(mid)
		out[i*4+3] = byte(mid >> 8)
	}
	return out
}
