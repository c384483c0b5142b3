package badge

const (
	crcPolynomial = 0x1021
	// crcSeed 非标准初值，设备端固件使用同一数值，不可修改
	crcSeed = 0x1D0F
)

// crcTable 由多项式唯一确定，进程内只构建一次
var crcTable = makeCRCTable()

func makeCRCTable() [256]uint16 {
	var tab [256]uint16
	for i := range tab {
		var crc uint16
		c := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if (crc^c)&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
			c <<= 1
		}
		tab[i] = crc
	}
	return tab
}

// CRC16 计算 CRC-16（poly 0x1021，初值 0x1D0F，无反射、无终值异或）
func CRC16(data []byte) uint16 {
	crc := uint16(crcSeed)
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// Checksum 返回 CRC16 的两字节大端表示，即线上的帧尾
func Checksum(data []byte) [2]byte {
	crc := CRC16(data)
	return [2]byte{byte(crc >> 8), byte(crc)}
}

// VerifyChecksum 校验 data 的 CRC 是否与 want 一致
func VerifyChecksum(data []byte, want [2]byte) bool {
	return Checksum(data) == want
}
