package audio

// BytesToInt16 把小端 PCM16 字节转换成采样，末尾多出的奇数字节丢弃
func BytesToInt16(b []byte) []int16 {
	if len(b)%2 != 0 {
		b = b[:len(b)-1] // 确保长度是偶数
	}

	pcm := make([]int16, len(b)/2)
	for i := 0; i < len(pcm); i++ {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Int16ToBytes 写入 dst 并返回写入的字节数，dst 不够时截断
func Int16ToBytes(dst []byte, pcm []int16) int {
	n := 0
	for _, v := range pcm {
		if n+2 > len(dst) {
			break
		}
		dst[n] = byte(v)
		dst[n+1] = byte(v >> 8)
		n += 2
	}
	return n
}
