package audio

import "math"

// Resample 线性插值重采样。Opus 不支持 44100Hz，发给远端分析器前先转成 16000Hz。
func Resample(pcm []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(pcm) == 0 {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}

	n := int(int64(len(pcm)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	last := len(pcm) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = pcm[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(pcm[idx])*(1-frac) + float64(pcm[idx+1])*frac
		out[i] = int16(math.Round(v))
	}
	return out
}

// ResampleChannels 对交织的多声道数据逐声道重采样
func ResampleChannels(pcm []int16, channels, from, to int) []int16 {
	if channels <= 1 {
		return Resample(pcm, from, to)
	}
	frames := len(pcm) / channels
	mono := make([]int16, frames)
	var out []int16
	for ch := 0; ch < channels; ch++ {
		for i := 0; i < frames; i++ {
			mono[i] = pcm[i*channels+ch]
		}
		r := Resample(mono, from, to)
		if out == nil {
			out = make([]int16, len(r)*channels)
		}
		for i, v := range r {
			out[i*channels+ch] = v
		}
	}
	return out
}
